package model

import "time"

// PoolStats is a point-in-time view of the connection pool
type PoolStats struct {
	ActiveConnections int   `json:"active_connections"` // checked out right now
	IdleConnections   int   `json:"idle_connections"`
	TotalConnections  int   `json:"total_connections"`
	MaxConnections    int   `json:"max_connections"`
	TotalRequests     int64 `json:"total_requests"`
	Hits              int64 `json:"hits"`   // reused handle
	Misses            int64 `json:"misses"` // new handle created
	Timeouts          int64 `json:"timeouts"`
}

// HitRate returns hits over hits+misses
func (s PoolStats) HitRate() float64 {
	return ratio(s.Hits, s.Hits+s.Misses)
}

// CacheStats is a point-in-time view of the result cache
type CacheStats struct {
	Entries   int   `json:"entries"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// HitRate returns hits over lookups
func (s CacheStats) HitRate() float64 {
	return ratio(s.Hits, s.Hits+s.Misses)
}

// BreakerStats describes one named breaker
type BreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailCounter     int       `json:"fail_counter"`
	SuccessCounter  int       `json:"success_counter"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	Rejected        int64     `json:"rejected"`
}

// RetryStats counts retry activity
type RetryStats struct {
	Calls     int64 `json:"calls"`
	Attempts  int64 `json:"attempts"`
	Retries   int64 `json:"retries"`
	Exhausted int64 `json:"exhausted"`
}

// Stats is the observability snapshot exposed to telemetry sinks
type Stats struct {
	Pool     PoolStats      `json:"pool"`
	Cache    CacheStats     `json:"cache"`
	Breakers []BreakerStats `json:"breakers"`
	Retry    RetryStats     `json:"retry"`
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
