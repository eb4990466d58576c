package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"go-query-pipeline/internal/model"
)

// Classification is the structured answer of an LLM classifier
type Classification struct {
	Intent        model.IntentType  `json:"intent_type"`
	Entities      map[string]string `json:"entities"`
	Aggregations  []string          `json:"aggregations"`
	Visualization string            `json:"visualization"`
	Confidence    float64           `json:"confidence"`
	Reasoning     string            `json:"reasoning"`
	MissingField  string            `json:"missing_field"`
}

// Classifier resolves questions the heuristic rules are unsure about
type Classifier interface {
	Classify(ctx context.Context, query string) (*Classification, error)
}

const classifierSystemPrompt = `Você classifica perguntas de negócio de varejo em português.
Pense passo a passo (campo "reasoning") e responda APENAS com um objeto JSON:
{"reasoning": "...", "intent_type": "SALES|STOCK|RUPTURE|COMPARISON|METADATA|CHART|CHAT",
 "entities": {"store_id": "...", "product_id": "...", "segment": "...", "category": "...", "date_range": "AAAA-MM-DD/AAAA-MM-DD"},
 "aggregations": ["sum|avg|min|max|count"], "visualization": "bar|line|pie|",
 "confidence": 0.0-1.0, "missing_field": ""}
Regras: omita entidades ausentes; nunca invente números; use "missing_field" quando a pergunta
se refere a um produto ou loja específico sem identificá-lo.

Exemplos:
P: "quanto vendeu a une 1685 no mês"
{"reasoning": "pergunta sobre vendas de uma loja", "intent_type": "SALES", "entities": {"store_id": "1685"}, "aggregations": ["sum"], "visualization": "", "confidence": 0.93, "missing_field": ""}
P: "o que está faltando nas prateleiras de tecidos"
{"reasoning": "falta de produto com demanda indica ruptura", "intent_type": "RUPTURE", "entities": {"segment": "TECIDOS"}, "aggregations": ["sum"], "visualization": "", "confidence": 0.88, "missing_field": ""}
P: "mostra as lojas lado a lado em barras"
{"reasoning": "comparação visual entre lojas", "intent_type": "CHART", "entities": {}, "aggregations": ["sum"], "visualization": "bar", "confidence": 0.86, "missing_field": ""}
P: "como está o giro daquele item"
{"reasoning": "refere-se a um produto sem código", "intent_type": "SALES", "entities": {}, "aggregations": ["sum"], "visualization": "", "confidence": 0.7, "missing_field": "product_id"}`

// OpenAIClassifier classifies through an OpenAI-compatible chat completion API
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter // nil when unthrottled
	logger  *slog.Logger
}

// NewOpenAIClassifier builds a classifier from the llm config section
func NewOpenAIClassifier(cfg model.LLMConfig, logger *slog.Logger) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api_key is required when llm.enabled is true")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	logger.Info("Initializing OpenAI classifier", "model", modelName, "rate_limit", cfg.RateLimit)
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   modelName,
		limiter: limiter,
		logger:  logger.With("component", "llm_classifier"),
	}, nil
}

// Classify implements Classifier
func (c *OpenAIClassifier) Classify(ctx context.Context, query string) (*Classification, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm rate limit: %w", err)
		}
	}
	c.logger.Debug("Classifying via OpenAI", "model", c.model)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("OpenAI classify call failed", "error", err)
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices: %w", model.ErrTransient)
	}

	out, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("OpenAI classification", "intent", out.Intent, "confidence", out.Confidence)
	return out, nil
}

// classifyAPIError marks rate limits and server errors as transient
func classifyAPIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("OpenAI API call failed: %v: %w", err, model.ErrTransient)
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}

// parseClassification decodes the JSON reply, tolerating code fences and
// normalizing the intent and entity keys
func parseClassification(content string) (*Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Classification
		Intent string `json:"intent_type"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("invalid classifier reply: %w", err)
	}

	intent, ok := model.ParseIntentType(raw.Intent)
	if !ok {
		return nil, fmt.Errorf("classifier returned unknown intent %q", raw.Intent)
	}

	out := raw.Classification
	out.Intent = intent
	out.Confidence = clampConfidence(out.Confidence)
	entities := make(map[string]string, len(out.Entities))
	for k, v := range out.Entities {
		k = strings.ToLower(strings.TrimSpace(k))
		if v = strings.TrimSpace(v); v != "" && knownEntities[k] {
			entities[k] = v
		}
	}
	out.Entities = entities
	return &out, nil
}

var knownEntities = map[string]bool{
	model.EntityStoreID:   true,
	model.EntityProductID: true,
	model.EntitySegment:   true,
	model.EntityCategory:  true,
	model.EntityDateRange: true,
}

func clampConfidence(c float64) float64 {
	switch {
	case c != c || c < 0: // NaN or negative
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
