package model

import "time"

// RetryConfig defines the deterministic exponential backoff used around flaky dependencies
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay    time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay        time.Duration `json:"max_delay" mapstructure:"max_delay"`
	ExponentialBase float64       `json:"exponential_base" mapstructure:"exponential_base"`
}

// DefaultRetryConfig mirrors the documented defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	}
}

// BreakerConfig defines when a named dependency trips and recovers
type BreakerConfig struct {
	FailMax          int           `json:"fail_max" mapstructure:"fail_max"`
	TimeoutDuration  time.Duration `json:"timeout_duration" mapstructure:"timeout_duration"`
	SuccessThreshold int           `json:"success_threshold" mapstructure:"success_threshold"`
}

// DefaultBreakerConfig mirrors the documented defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailMax:          5,
		TimeoutDuration:  60 * time.Second,
		SuccessThreshold: 2,
	}
}
