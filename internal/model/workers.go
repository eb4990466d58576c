package model

import "time"

// PoolConfig bounds the read-only handles opened against the dataset
type PoolConfig struct {
	MinConnections int           `json:"min_connections" mapstructure:"min_connections"`
	MaxConnections int           `json:"max_connections" mapstructure:"max_connections"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"` // max wait in Acquire
}

// CacheConfig sizes the result cache
type CacheConfig struct {
	MaxSize int           `json:"max_size" mapstructure:"max_size"`
	TTL     time.Duration `json:"ttl" mapstructure:"ttl"`
}

// CalculatorConfig caps breakdown sizes and single-query duration
type CalculatorConfig struct {
	MaxRows      int           `json:"max_rows" mapstructure:"max_rows"`
	TopSegments  int           `json:"top_segments" mapstructure:"top_segments"`
	QueryTimeout time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
}

// InterpreterConfig tunes the heuristic fast path
type InterpreterConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	VocabularyFile      string  `json:"vocabulary_file" mapstructure:"vocabulary_file"` // optional YAML
}

// ContextConfig bounds the answer context
type ContextConfig struct {
	MaxTokens     int `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTableRows  int `json:"max_table_rows" mapstructure:"max_table_rows"`
	CharsPerToken int `json:"chars_per_token" mapstructure:"chars_per_token"`
}
