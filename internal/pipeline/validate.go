package pipeline

import (
	"regexp"

	"go-query-pipeline/internal/model"
)

// referentialRule flags a phrase that points at a specific entity without naming it
type referentialRule struct {
	field    string
	question string
	pattern  *regexp.Regexp
}

var referentialRules = []referentialRule{
	{
		field:    model.EntityProductID,
		question: "Qual o código do produto?",
		// "o produto mais vendido" ranks products, it does not reference one
		pattern: regexp.MustCompile(`\b(?:o|este|esse|aquele|deste|desse|daquele|neste|nesse|do|no)\s+(?:produto|item|sku)\b(\s+(?:mais|menos|com))?`),
	},
	{
		field:    model.EntityStoreID,
		question: "Qual o número da loja (UNE)?",
		pattern:  regexp.MustCompile(`\b(?:esta|essa|aquela|desta|dessa|daquela|nesta|nessa|naquela)\s+(?:loja|filial|une)\b`),
	},
}

// validateIntent raises NeedsClarificationError when the question refers to
// a specific product or store that was never resolved, or when the LLM
// reported a missing field. Only referential phrases count: "vendas por
// loja" needs no store id.
func validateIntent(intent model.QueryIntent, normalized, llmMissing string) error {
	if intent.IntentType == model.IntentChat {
		return nil
	}

	for _, rule := range referentialRules {
		if _, ok := intent.Entity(rule.field); ok {
			continue
		}
		m := rule.pattern.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			continue
		}
		return &model.NeedsClarificationError{Field: rule.field, Question: rule.question}
	}

	if llmMissing != "" {
		if _, ok := intent.Entity(llmMissing); !ok {
			return &model.NeedsClarificationError{Field: llmMissing}
		}
	}
	return nil
}
