package model

import "time"

// DataSourceConfig points at the columnar dataset
type DataSourceConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite3, libsql, postgres
	DSN    string `json:"dsn" mapstructure:"dsn"`
	Table  string `json:"table" mapstructure:"table"`
}

// LLMConfig configures the classification fallback
type LLMConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	APIKey  string        `json:"-" mapstructure:"api_key"`
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Model   string        `json:"model" mapstructure:"model"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// RateLimit caps classify calls per second; 0 disables throttling
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `json:"burst" mapstructure:"burst"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TenantConfig toggles per-tenant cache namespacing
type TenantConfig struct {
	Isolate bool `json:"isolate" mapstructure:"isolate"`
}

// Config is the full process configuration
type Config struct {
	DataSource  DataSourceConfig  `json:"datasource" mapstructure:"datasource"`
	Pool        PoolConfig        `json:"pool" mapstructure:"pool"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache"`
	Breaker     BreakerConfig     `json:"breaker" mapstructure:"breaker"`
	Retry       RetryConfig       `json:"retry" mapstructure:"retry"`
	Interpreter InterpreterConfig `json:"interpreter" mapstructure:"interpreter"`
	Calculator  CalculatorConfig  `json:"calculator" mapstructure:"calculator"`
	Context     ContextConfig     `json:"context" mapstructure:"context"`
	LLM         LLMConfig         `json:"llm" mapstructure:"llm"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Tenant      TenantConfig      `json:"tenant" mapstructure:"tenant"`
}

// DefaultConfig returns a configuration that works against a local sqlite file
func DefaultConfig() Config {
	return Config{
		DataSource: DataSourceConfig{Driver: "sqlite3", DSN: "dataset.db", Table: "vendas"},
		Pool:       PoolConfig{MinConnections: 2, MaxConnections: 30, Timeout: 30 * time.Second},
		Cache:      CacheConfig{MaxSize: 1000, TTL: 5 * time.Minute},
		Breaker:    DefaultBreakerConfig(),
		Retry:      DefaultRetryConfig(),
		Interpreter: InterpreterConfig{
			ConfidenceThreshold: 0.85,
		},
		Calculator: CalculatorConfig{MaxRows: 100, TopSegments: 10, QueryTimeout: 60 * time.Second},
		Context:    ContextConfig{MaxTokens: 2000, MaxTableRows: 10, CharsPerToken: 4},
		LLM:        LLMConfig{Model: "gpt-4o-mini", Timeout: 15 * time.Second, RateLimit: 5, Burst: 2},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Server:     ServerConfig{Addr: ":8080"},
	}
}
