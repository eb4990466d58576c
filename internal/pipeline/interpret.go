package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/resilience"
)

const (
	entityBonus       = 0.05
	noMatchConfidence = 0.3
)

// Rule is one entry of the heuristic dispatch table
type Rule interface {
	Name() string
	// Match returns the candidate intent and its base confidence
	Match(normalized string) (ruleMatch, bool)
}

type ruleMatch struct {
	rule          string
	intent        model.IntentType
	confidence    float64
	visualization string
}

// keywordRule matches when any keyword is a substring of the question
type keywordRule struct {
	name          string
	intent        model.IntentType
	confidence    float64
	visualization string
	keywords      []string
}

func (r keywordRule) Name() string { return r.name }

func (r keywordRule) Match(q string) (ruleMatch, bool) {
	padded := " " + q + " "
	for _, kw := range r.keywords {
		if strings.Contains(padded, kw) {
			return ruleMatch{rule: r.name, intent: r.intent, confidence: r.confidence, visualization: r.visualization}, true
		}
	}
	return ruleMatch{}, false
}

// patternRule matches a regular expression
type patternRule struct {
	name       string
	intent     model.IntentType
	confidence float64
	pattern    *regexp.Regexp
}

func (r patternRule) Name() string { return r.name }

func (r patternRule) Match(q string) (ruleMatch, bool) {
	if !r.pattern.MatchString(q) {
		return ruleMatch{}, false
	}
	return ruleMatch{rule: r.name, intent: r.intent, confidence: r.confidence}, true
}

// chartRule picks the chart kind from the wording, bars by default
type chartRule struct {
	keywordRule
}

func (r chartRule) Match(q string) (ruleMatch, bool) {
	m, ok := r.keywordRule.Match(q)
	if !ok {
		return m, false
	}
	switch {
	case strings.Contains(q, "pizza") || strings.Contains(q, "torta"):
		m.visualization = "pie"
	case strings.Contains(q, "linha") || strings.Contains(q, "evolucao") || strings.Contains(q, "tendencia"):
		m.visualization = "line"
	}
	return m, true
}

// DefaultRules is the prioritized rule table. Keywords are matched against
// normalized text, so they carry no accents. More specific intents carry a
// higher confidence so "grafico de vendas" or "comparar vendas" do not fall
// back to SALES.
func DefaultRules() []Rule {
	return []Rule{
		patternRule{
			name:       "metadata",
			intent:     model.IntentMetadata,
			confidence: 0.9,
			pattern: regexp.MustCompile(`\b(?:quais|quantas|quantos|liste|listar|lista)\b.*\b(?:colunas|campos|segmentos|categorias|lojas|unes|filiais)\b` +
				`|\bprodutos cadastrados\b|\b(?:dicionario|esquema) de dados\b`),
		},
		keywordRule{
			name:       "rupture",
			intent:     model.IntentRupture,
			confidence: 0.95,
			keywords:   []string{"ruptura", "sem estoque", "estoque zerado", "falta de estoque", "em falta", "faltando"},
		},
		chartRule{keywordRule{
			name:          "chart",
			intent:        model.IntentChart,
			confidence:    0.93,
			visualization: "bar",
			keywords:      []string{"grafico", "chart", "visualiza", "plotar", "plote"},
		}},
		keywordRule{
			name:       "comparison",
			intent:     model.IntentComparison,
			confidence: 0.92,
			keywords:   []string{"compar", "versus", " vs ", " x ", "ranking", "melhores lojas", "piores lojas", "top lojas", "entre as lojas", "por loja"},
		},
		keywordRule{
			name:       "stock",
			intent:     model.IntentStock,
			confidence: 0.9,
			keywords:   []string{"estoque", "inventario", "saldo de"},
		},
		keywordRule{
			name:       "sales",
			intent:     model.IntentSales,
			confidence: 0.9,
			keywords:   []string{"venda", "vendeu", "vendid", "faturamento", "faturou", "receita"},
		},
		patternRule{
			name:       "chat",
			intent:     model.IntentChat,
			confidence: 0.9,
			pattern:    regexp.MustCompile(`^(?:oi|ola|bom dia|boa tarde|boa noite|obrigad[oa]|valeu|tudo bem|ajuda)\b`),
		},
		keywordRule{
			name:       "weak-business",
			intent:     model.IntentSales,
			confidence: 0.55,
			keywords:   []string{"quanto", "produto", " loja", " une ", "segmento", "categoria", "desempenho", "giro"},
		},
	}
}

var (
	storeIDPattern   = regexp.MustCompile(`\b(?:une|loja|filial)\s*(?:n[o.]?\s*)?(\d{1,5})\b`)
	productIDPattern = regexp.MustCompile(`\b(?:produto|codigo|cod|sku|item)\s*(?:n[o.]?\s*)?(\d{3,})\b`)
	dateRangePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:a|ate|-|/)\s*(\d{4}-\d{2}-\d{2})`)

	aggregationKeywords = []struct {
		agg      string
		keywords []string
	}{
		{"avg", []string{"media", "medio"}},
		{"max", []string{"maximo", "maxima", "maior valor"}},
		{"min", []string{"minimo", "minima", "menor valor"}},
		{"count", []string{"contagem", "numero de registros", "quantos registros"}},
		{"sum", []string{"total", "soma", "somatorio"}},
	}
)

// Interpreter turns a raw question into a QueryIntent: heuristic rules
// first, the LLM classifier only when they are not confident enough
type Interpreter struct {
	rules      []Rule
	vocab      *Vocabulary
	threshold  float64
	classifier Classifier
	breaker    *resilience.Breaker
	retry      *resilience.Policy
	llmTimeout time.Duration
	logger     *slog.Logger
}

// InterpreterOption customizes an Interpreter
type InterpreterOption func(*Interpreter)

// WithClassifier enables the LLM fallback, guarded by breaker and retry
func WithClassifier(c Classifier, breaker *resilience.Breaker, retry *resilience.Policy, timeout time.Duration) InterpreterOption {
	return func(in *Interpreter) {
		in.classifier = c
		in.breaker = breaker
		in.retry = retry
		in.llmTimeout = timeout
	}
}

// WithRules replaces the rule table
func WithRules(rules []Rule) InterpreterOption {
	return func(in *Interpreter) { in.rules = rules }
}

// WithInterpreterLogger sets the logger
func WithInterpreterLogger(logger *slog.Logger) InterpreterOption {
	return func(in *Interpreter) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// NewInterpreter creates an interpreter. vocab may be nil.
func NewInterpreter(cfg model.InterpreterConfig, vocab *Vocabulary, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{
		rules:     DefaultRules(),
		vocab:     vocab,
		threshold: cfg.ConfidenceThreshold,
		logger:    slog.Default(),
	}
	if in.threshold <= 0 || in.threshold > 1 {
		in.threshold = model.DefaultConfig().Interpreter.ConfidenceThreshold
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With("component", "interpreter")
	return in
}

// Interpret classifies rawQuery. Explicit overrides win over LLM entities,
// which win over heuristic ones.
func (in *Interpreter) Interpret(ctx context.Context, rawQuery string, overrides map[string]string) (model.QueryIntent, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Interpret")
	defer span.End()

	normalized := NormalizeQuery(rawQuery)
	entities := in.extractEntities(normalized)

	intent := model.QueryIntent{
		RawQuery:     rawQuery,
		Entities:     entities,
		Aggregations: extractAggregations(normalized),
		Source:       model.SourceHeuristic,
	}

	best, matched := in.bestRule(normalized)
	if matched {
		intent.IntentType = best.intent
		intent.Confidence = clampConfidence(best.confidence + entityBonus*float64(len(entities)))
		if best.visualization != "" {
			v := best.visualization
			intent.Visualization = &v
		}
	}

	var llmMissing string
	if !matched || intent.Confidence < in.threshold {
		switch {
		case in.classifier != nil:
			cls, err := in.classify(ctx, rawQuery)
			switch {
			case err == nil:
				intent = mergeClassification(intent, cls)
				llmMissing = cls.MissingField
			case matched:
				in.logger.Warn("LLM classification failed, keeping heuristic intent",
					"intent", intent.IntentType, "confidence", intent.Confidence, "error", err)
				intent.Source = model.SourceDegraded
			default:
				span.RecordError(err)
				span.SetStatus(codes.Error, "classification failed")
				return model.QueryIntent{}, err
			}
		case !matched:
			intent.IntentType = model.IntentChat
			intent.Confidence = noMatchConfidence
		}
	}

	for k, v := range overrides {
		if v = strings.TrimSpace(v); v != "" {
			intent.Entities[k] = v
		}
	}
	intent.Confidence = clampConfidence(intent.Confidence)
	interpretationsTotal.WithLabelValues(intent.Source).Inc()

	span.SetAttributes(
		attribute.String("intent", string(intent.IntentType)),
		attribute.Float64("confidence", intent.Confidence),
		attribute.String("source", intent.Source),
	)

	if err := validateIntent(intent, normalized, llmMissing); err != nil {
		span.SetStatus(codes.Error, "needs clarification")
		return model.QueryIntent{}, err
	}

	in.logger.Debug("query interpreted", "intent", intent.IntentType,
		"confidence", intent.Confidence, "source", intent.Source, "entities", intent.Entities)
	return intent, nil
}

// bestRule evaluates every rule; the highest confidence wins and ties keep
// the earlier rule
func (in *Interpreter) bestRule(q string) (ruleMatch, bool) {
	var best ruleMatch
	found := false
	for _, r := range in.rules {
		m, ok := r.Match(q)
		if !ok {
			continue
		}
		if !found || m.confidence > best.confidence {
			best, found = m, true
		}
	}
	return best, found
}

func (in *Interpreter) classify(ctx context.Context, rawQuery string) (*Classification, error) {
	if in.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.llmTimeout)
		defer cancel()
	}

	call := func(ctx context.Context) (*Classification, error) {
		if in.breaker == nil {
			return in.classifier.Classify(ctx, rawQuery)
		}
		return resilience.Call(ctx, in.breaker, func(ctx context.Context) (*Classification, error) {
			return in.classifier.Classify(ctx, rawQuery)
		})
	}
	if in.retry == nil {
		return call(ctx)
	}
	return resilience.Do(ctx, in.retry, "llm-classify", call)
}

// extractEntities pulls ids, vocabulary values and date ranges out of a normalized question
func (in *Interpreter) extractEntities(q string) map[string]string {
	entities := make(map[string]string)

	if m := storeIDPattern.FindStringSubmatch(q); m != nil {
		entities[model.EntityStoreID] = trimLeadingZeros(m[1])
	}
	if m := productIDPattern.FindStringSubmatch(q); m != nil {
		entities[model.EntityProductID] = m[1]
	}
	if v, ok := in.vocab.Match(model.EntitySegment, q); ok {
		entities[model.EntitySegment] = v
	}
	if v, ok := in.vocab.Match(model.EntityCategory, q); ok {
		entities[model.EntityCategory] = v
	}
	if m := dateRangePattern.FindStringSubmatch(q); m != nil && m[1] <= m[2] {
		entities[model.EntityDateRange] = m[1] + "/" + m[2]
	}
	return entities
}

func extractAggregations(q string) []string {
	var aggs []string
	for _, a := range aggregationKeywords {
		for _, kw := range a.keywords {
			if strings.Contains(q, kw) {
				aggs = append(aggs, a.agg)
				break
			}
		}
	}
	if len(aggs) == 0 {
		return []string{"sum"}
	}
	return aggs
}

// mergeClassification layers the LLM reading on top of the heuristic one
func mergeClassification(intent model.QueryIntent, cls *Classification) model.QueryIntent {
	intent.IntentType = cls.Intent
	intent.Confidence = cls.Confidence
	intent.Source = model.SourceLLM

	for k, v := range cls.Entities {
		intent.Entities[k] = v
	}
	if aggs := normalizeAggregationNames(cls.Aggregations); len(aggs) > 0 {
		intent.Aggregations = aggs
	}
	switch {
	case cls.Visualization != "":
		v := cls.Visualization
		intent.Visualization = &v
	case cls.Intent != model.IntentChart:
		intent.Visualization = nil
	}
	return intent
}

func normalizeAggregationNames(in []string) []string {
	var out []string
	for _, a := range in {
		a = strings.ToLower(strings.TrimSpace(a))
		if _, ok := aggregationNames[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

func trimLeadingZeros(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	return strconv.Itoa(n)
}
