package model

import "strings"

// IntentType is the business question category resolved by the interpreter
type IntentType string

const (
	IntentSales      IntentType = "SALES"
	IntentStock      IntentType = "STOCK"
	IntentRupture    IntentType = "RUPTURE"
	IntentComparison IntentType = "COMPARISON"
	IntentMetadata   IntentType = "METADATA"
	IntentChart      IntentType = "CHART"
	IntentChat       IntentType = "CHAT"
)

// AllIntents lists every intent in declaration order
var AllIntents = []IntentType{
	IntentSales, IntentStock, IntentRupture, IntentComparison, IntentMetadata, IntentChart, IntentChat,
}

// ParseIntentType maps free text (e.g. LLM output) onto a known intent
func ParseIntentType(s string) (IntentType, bool) {
	it := IntentType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllIntents {
		if it == known {
			return it, true
		}
	}
	return "", false
}

// RequiresData reports whether an empty result set is a failure for this intent
func (t IntentType) RequiresData() bool {
	switch t {
	case IntentSales, IntentStock, IntentComparison, IntentChart:
		return true
	default:
		return false
	}
}

// Entity keys recognized across the pipeline
const (
	EntityStoreID   = "store_id"
	EntityProductID = "product_id"
	EntitySegment   = "segment"
	EntityCategory  = "category"
	EntityDateRange = "date_range"
)

// Intent sources
const (
	SourceHeuristic = "heuristic"
	SourceLLM       = "llm"
	SourceDegraded  = "degraded"
)

// QueryIntent is the structured reading of one question. Treat as immutable once returned.
type QueryIntent struct {
	IntentType    IntentType        `json:"intent_type"`
	Entities      map[string]string `json:"entities"`
	Aggregations  []string          `json:"aggregations"`
	Visualization *string           `json:"visualization,omitempty"` // e.g. "bar"
	Confidence    float64           `json:"confidence"`              // always within [0,1]
	RawQuery      string            `json:"raw_query"`
	Source        string            `json:"source"` // heuristic, llm, degraded
}

// Entity returns a single entity value
func (q QueryIntent) Entity(key string) (string, bool) {
	v, ok := q.Entities[key]
	return v, ok && v != ""
}

// CopyEntities returns a detached copy of the entity map
func (q QueryIntent) CopyEntities() map[string]string {
	out := make(map[string]string, len(q.Entities))
	for k, v := range q.Entities {
		out[k] = v
	}
	return out
}

// Request is one incoming question with caller-side context
type Request struct {
	Query string `json:"query" validate:"required,max=2000"`
	// Overrides are explicit entities and win over everything
	Overrides map[string]string `json:"overrides,omitempty" validate:"omitempty,max=16,dive,keys,required,max=64,endkeys,max=256"`
	// Filters are extra dimension filters
	Filters map[string]string `json:"filters,omitempty" validate:"omitempty,max=16,dive,keys,required,max=64,endkeys,max=256"`
	// TenantID namespaces cache keys when isolation is on
	TenantID string `json:"tenant_id,omitempty" validate:"omitempty,max=128"`
}
