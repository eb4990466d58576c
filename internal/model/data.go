package model

import "strings"

// Row is one breakdown line (dimension key/label plus metric values)
type Row map[string]interface{}

// MetricsResult is the exact outcome of one aggregation plan
type MetricsResult struct {
	Metrics         map[string]float64     `json:"metrics"`
	Dimensions      []Row                  `json:"dimensions"`
	Segments        []Row                  `json:"segments"`
	Metadata        map[string]interface{} `json:"metadata"`
	RowCount        int                    `json:"row_count"`
	ExecutionTimeMS float64                `json:"execution_time_ms"`
	CacheHit        bool                   `json:"cache_hit"`
	QuerySignature  string                 `json:"query_signature"`
}

// Clone deep-copies the maps and slices so cached values are never shared with callers
func (r *MetricsResult) Clone() *MetricsResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Metrics = make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		out.Metrics[k] = v
	}
	out.Metadata = make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	out.Dimensions = cloneRows(r.Dimensions)
	out.Segments = cloneRows(r.Segments)
	return &out
}

func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Context is the bounded answer context handed to narrative generation
type Context struct {
	Summary        string `json:"summary"`
	KeyMetricsMD   string `json:"key_metrics_md"`
	DetailsTableMD string `json:"details_table_md"`
	TotalTokens    int    `json:"total_tokens"`
	TruncatedRows  int    `json:"truncated_rows"` // rows summarized by the "+K more" marker
}

// Render joins the non-empty sections with blank lines
func (c Context) Render() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{c.Summary, c.KeyMetricsMD, c.DetailsTableMD} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Answer bundles everything produced for one request
type Answer struct {
	RequestID string         `json:"request_id"`
	Intent    QueryIntent    `json:"intent"`
	Result    *MetricsResult `json:"result,omitempty"`
	Context   Context        `json:"context"`
}
