package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go-query-pipeline/internal/cache"
	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/resilience"
	"go-query-pipeline/internal/store"
)

// Service wires the interpreter, calculator and context builder around one
// shared pool, cache and breaker registry
type Service struct {
	cfg         model.Config
	logger      *slog.Logger
	pool        *store.Pool
	cache       *cache.QueryCache
	breakers    *resilience.Registry
	retry       *resilience.Policy
	interpreter *Interpreter
	calculator  *Calculator
	builder     *ContextBuilder
}

type serviceOptions struct {
	logger     *slog.Logger
	classifier Classifier
	vocab      *Vocabulary
	opener     store.Opener
	dialect    store.Dialect
}

// Option customizes New
type Option func(*serviceOptions)

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithLLMClassifier replaces the OpenAI classifier built from llm config
func WithLLMClassifier(c Classifier) Option {
	return func(o *serviceOptions) { o.classifier = c }
}

// WithVocabulary skips vocabulary loading
func WithVocabulary(v *Vocabulary) Option {
	return func(o *serviceOptions) { o.vocab = v }
}

// WithOpener replaces the driver-based opener, mostly for tests
func WithOpener(open store.Opener, dialect store.Dialect) Option {
	return func(o *serviceOptions) {
		o.opener = open
		o.dialect = dialect
	}
}

// New builds every component from cfg. The pool is pre-warmed, so New
// fails when the dataset cannot be opened.
func New(ctx context.Context, cfg model.Config, opts ...Option) (*Service, error) {
	o := serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	if cfg.DataSource.Table == "" {
		return nil, errors.New("datasource.table is required")
	}

	open, dialect := o.opener, o.dialect
	if open == nil {
		var err error
		open, dialect, err = store.NewOpener(cfg.DataSource)
		if err != nil {
			return nil, err
		}
	}

	pool, err := store.NewPool(ctx, cfg.Pool, open, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		cache:    cache.New(cfg.Cache, cache.WithLogger(logger)),
		breakers: resilience.NewRegistry(cfg.Breaker, logger),
		retry:    resilience.NewPolicy(cfg.Retry, resilience.WithPolicyLogger(logger)),
		builder:  NewContextBuilder(cfg.Context, logger),
	}

	vocab := o.vocab
	if vocab == nil {
		vocab, err = LoadVocabulary(ctx, cfg.Interpreter, pool, dialect, cfg.DataSource.Table, logger)
		if err != nil {
			_ = pool.CloseAll()
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
	}

	interpOpts := []InterpreterOption{WithInterpreterLogger(logger)}
	classifier := o.classifier
	if classifier == nil && cfg.LLM.Enabled {
		oc, err := NewOpenAIClassifier(cfg.LLM, logger)
		if err != nil {
			_ = pool.CloseAll()
			return nil, err
		}
		classifier = oc
	}
	if classifier != nil {
		interpOpts = append(interpOpts, WithClassifier(classifier,
			s.breakers.Get(resilience.BreakerLLMClassify), s.retry, cfg.LLM.Timeout))
	}
	s.interpreter = NewInterpreter(cfg.Interpreter, vocab, interpOpts...)

	calcOpts := []CalculatorOption{WithCalculatorLogger(logger)}
	if isRemoteDriver(cfg.DataSource.Driver) {
		calcOpts = append(calcOpts, WithRemoteGuard(s.breakers.Get(resilience.BreakerExternalDB), s.retry))
	}
	s.calculator = NewCalculator(cfg.Calculator, cfg.DataSource.Table, dialect, pool, s.cache, calcOpts...)

	logger.Info("query pipeline ready",
		"driver", cfg.DataSource.Driver, "table", cfg.DataSource.Table,
		"llm", classifier != nil, "pool_max", cfg.Pool.MaxConnections)
	return s, nil
}

func isRemoteDriver(driver string) bool {
	switch strings.ToLower(driver) {
	case "libsql", "postgres", "postgresql", "pgx":
		return true
	}
	return false
}

// Answer interprets req, calculates its metrics and builds the bounded context
func (s *Service) Answer(ctx context.Context, req model.Request) (ans *model.Answer, err error) {
	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pipeline.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	tracker := newRequestTracker(requestID, s.logger)
	var intent model.QueryIntent
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		tracker.Complete(intent.IntentType, err)
	}()

	if strings.TrimSpace(req.Query) == "" {
		return nil, &model.NeedsClarificationError{Field: "query", Question: "Qual é a sua pergunta?"}
	}
	if s.cfg.Tenant.Isolate && req.TenantID != "" {
		ctx = WithTenant(ctx, req.TenantID)
	}

	done := tracker.StartStage("interpret")
	intent, err = s.interpreter.Interpret(ctx, req.Query, req.Overrides)
	done()
	if err != nil {
		return nil, err
	}

	var result *model.MetricsResult
	if intent.IntentType != model.IntentChat {
		done = tracker.StartStage("calculate")
		result, err = s.calculator.Calculate(ctx, intent.IntentType, intent.Entities, intent.Aggregations, req.Filters)
		done()
		if err != nil {
			return nil, err
		}
	}

	done = tracker.StartStage("context")
	answerCtx, err := s.builder.Build(result, intent)
	done()
	if err != nil {
		return nil, err
	}

	return &model.Answer{
		RequestID: requestID,
		Intent:    intent,
		Result:    result,
		Context:   answerCtx,
	}, nil
}

// Stats snapshots every component
func (s *Service) Stats() model.Stats {
	return model.Stats{
		Pool:     s.pool.Stats(),
		Cache:    s.cache.Stats(),
		Breakers: s.breakers.Stats(),
		Retry:    s.retry.Stats(),
	}
}

// InvalidateCache drops cached results whose signature contains pattern.
// An empty pattern clears the cache.
func (s *Service) InvalidateCache(pattern string) int {
	n := s.cache.InvalidatePattern(pattern)
	s.logger.Info("cache invalidated", "pattern", pattern, "removed", n)
	return n
}

// Interpreter returns the interpreter
func (s *Service) Interpreter() *Interpreter { return s.interpreter }

// Calculator returns the calculator
func (s *Service) Calculator() *Calculator { return s.calculator }

// Close releases every pooled handle
func (s *Service) Close() error {
	return s.pool.CloseAll()
}
