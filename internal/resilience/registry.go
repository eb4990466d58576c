package resilience

import (
	"log/slog"
	"sort"
	"sync"

	"go-query-pipeline/internal/model"
)

// Well-known dependency names
const (
	BreakerLLMClassify = "llm-classify"
	BreakerExternalDB  = "external-db"
)

// Registry hands out one independent breaker per dependency name
type Registry struct {
	cfg    model.BreakerConfig
	opts   []BreakerOption
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry sharing cfg across breakers
func NewRegistry(cfg model.BreakerConfig, logger *slog.Logger, opts ...BreakerOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		opts:     append([]BreakerOption{WithBreakerLogger(logger)}, opts...),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// Stats snapshots every breaker, sorted by name
func (r *Registry) Stats() []model.BreakerStats {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]model.BreakerStats, 0, len(list))
	for _, b := range list {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
