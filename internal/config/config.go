package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/store"
)

// EnvPrefix namespaces environment overrides, e.g. QUERYPIPE_POOL_MAX_CONNECTIONS
const EnvPrefix = "QUERYPIPE"

// Load reads configuration from path, or from query-pipeline.yaml in the
// working directory when path is empty. A missing default file is not an
// error. Environment variables override the file.
func Load(path string) (model.Config, error) {
	v := viper.New()
	setDefaults(v, model.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the standard OpenAI variable works too
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("query-pipeline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/query-pipeline")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return model.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper, d model.Config) {
	v.SetDefault("datasource.driver", d.DataSource.Driver)
	v.SetDefault("datasource.dsn", d.DataSource.DSN)
	v.SetDefault("datasource.table", d.DataSource.Table)

	v.SetDefault("pool.min_connections", d.Pool.MinConnections)
	v.SetDefault("pool.max_connections", d.Pool.MaxConnections)
	v.SetDefault("pool.timeout", d.Pool.Timeout)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("breaker.fail_max", d.Breaker.FailMax)
	v.SetDefault("breaker.timeout_duration", d.Breaker.TimeoutDuration)
	v.SetDefault("breaker.success_threshold", d.Breaker.SuccessThreshold)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.exponential_base", d.Retry.ExponentialBase)

	v.SetDefault("interpreter.confidence_threshold", d.Interpreter.ConfidenceThreshold)
	v.SetDefault("interpreter.vocabulary_file", d.Interpreter.VocabularyFile)

	v.SetDefault("calculator.max_rows", d.Calculator.MaxRows)
	v.SetDefault("calculator.top_segments", d.Calculator.TopSegments)
	v.SetDefault("calculator.query_timeout", d.Calculator.QueryTimeout)

	v.SetDefault("context.max_tokens", d.Context.MaxTokens)
	v.SetDefault("context.max_table_rows", d.Context.MaxTableRows)
	v.SetDefault("context.chars_per_token", d.Context.CharsPerToken)

	v.SetDefault("llm.enabled", d.LLM.Enabled)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.rate_limit", d.LLM.RateLimit)
	v.SetDefault("llm.burst", d.LLM.Burst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("tenant.isolate", d.Tenant.Isolate)
}

// ConfigError reports an invalid setting
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Validate checks bounds and cross-field constraints
func Validate(c model.Config) error {
	checks := []struct {
		bad     bool
		field   string
		message string
	}{
		{c.DataSource.DSN == "", "datasource.dsn", "must be set"},
		{c.DataSource.Table == "", "datasource.table", "must be set"},
		{c.Pool.MaxConnections < 1, "pool.max_connections", "must be at least 1"},
		{c.Pool.MinConnections < 0 || c.Pool.MinConnections > c.Pool.MaxConnections, "pool.min_connections", "must be between 0 and pool.max_connections"},
		{c.Pool.Timeout <= 0, "pool.timeout", "must be positive"},
		{c.Cache.MaxSize < 1, "cache.max_size", "must be at least 1"},
		{c.Cache.TTL <= 0, "cache.ttl", "must be positive"},
		{c.Breaker.FailMax < 1, "breaker.fail_max", "must be at least 1"},
		{c.Breaker.SuccessThreshold < 1, "breaker.success_threshold", "must be at least 1"},
		{c.Breaker.TimeoutDuration <= 0, "breaker.timeout_duration", "must be positive"},
		{c.Retry.MaxAttempts < 1, "retry.max_attempts", "must be at least 1"},
		{c.Retry.InitialDelay < 0, "retry.initial_delay", "must not be negative"},
		{c.Retry.MaxDelay < c.Retry.InitialDelay, "retry.max_delay", "must not be below retry.initial_delay"},
		{c.Retry.ExponentialBase < 1, "retry.exponential_base", "must be at least 1"},
		{c.Interpreter.ConfidenceThreshold <= 0 || c.Interpreter.ConfidenceThreshold > 1, "interpreter.confidence_threshold", "must be within (0, 1]"},
		{c.Calculator.MaxRows < 1, "calculator.max_rows", "must be at least 1"},
		{c.Calculator.TopSegments < 1, "calculator.top_segments", "must be at least 1"},
		{c.Calculator.QueryTimeout <= 0, "calculator.query_timeout", "must be positive"},
		{c.Context.MaxTokens < 1, "context.max_tokens", "must be at least 1"},
		{c.Context.MaxTableRows < 0, "context.max_table_rows", "must not be negative"},
		{c.Context.CharsPerToken < 1, "context.chars_per_token", "must be at least 1"},
		{c.LLM.Enabled && c.LLM.APIKey == "", "llm.api_key", "required when llm.enabled is true"},
		{c.LLM.RateLimit < 0, "llm.rate_limit", "must not be negative"},
		{c.LLM.RateLimit > 0 && c.LLM.Burst < 1, "llm.burst", "must be at least 1 when llm.rate_limit is set"},
	}
	for _, chk := range checks {
		if chk.bad {
			return &ConfigError{Field: chk.field, Message: chk.message}
		}
	}
	if _, err := store.DialectFor(c.DataSource.Driver); err != nil {
		return &ConfigError{Field: "datasource.driver", Message: err.Error()}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be json or text"}
	}
	return nil
}

// NewLogger builds the process logger from the logging section
func NewLogger(c model.LoggingConfig) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}
