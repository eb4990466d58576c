package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/pkg/utils"
)

// ContextBuilder shapes a MetricsResult into a token-bounded context for the
// narrative step. Metrics are never dropped; the details table shrinks first.
type ContextBuilder struct {
	cfg    model.ContextConfig
	logger *slog.Logger
}

// NewContextBuilder creates a builder, filling unset limits with defaults
func NewContextBuilder(cfg model.ContextConfig, logger *slog.Logger) *ContextBuilder {
	def := model.DefaultConfig().Context
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxTableRows < 0 {
		cfg.MaxTableRows = def.MaxTableRows
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = def.CharsPerToken
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{cfg: cfg, logger: logger.With("component", "context_builder")}
}

// EstimateTokens approximates tokens as ceil(runes / charsPerToken)
func EstimateTokens(s string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

func (b *ContextBuilder) tokens(s string) int { return EstimateTokens(s, b.cfg.CharsPerToken) }

// Build renders result for intent. result may be nil for conversational intents.
func (b *ContextBuilder) Build(result *model.MetricsResult, intent model.QueryIntent) (model.Context, error) {
	metricsMD := renderMetrics(result)
	metricTokens := b.tokens(metricsMD)
	if metricTokens >= b.cfg.MaxTokens {
		return model.Context{}, &model.ContextOverflowError{Tokens: metricTokens, MaxTokens: b.cfg.MaxTokens}
	}

	var dims []model.Row
	totalGroups := 0
	if result != nil {
		dims = result.Dimensions
		totalGroups = len(dims)
		if n, ok := result.Metadata["total_groups"].(int); ok && n > totalGroups {
			totalGroups = n
		}
	}
	maxRows := b.cfg.MaxTableRows
	if maxRows > len(dims) {
		maxRows = len(dims)
	}

	summaries := []string{b.summary(result, intent, true), b.summary(result, intent, false)}
	for _, summary := range summaries {
		base := b.tokens(summary) + metricTokens
		for rows := maxRows; rows >= 0; rows-- {
			table := renderTable(dims, rows, totalGroups)
			total := base + b.tokens(table)
			if total >= b.cfg.MaxTokens {
				continue
			}
			truncated := totalGroups - rows
			if rows < maxRows {
				b.logger.Debug("details table truncated to fit token budget",
					"rows", rows, "max_table_rows", b.cfg.MaxTableRows, "tokens", total)
			}
			return model.Context{
				Summary:        summary,
				KeyMetricsMD:   metricsMD,
				DetailsTableMD: table,
				TotalTokens:    total,
				TruncatedRows:  truncated,
			}, nil
		}
	}

	// summary plus metrics (and the marker for hidden groups) do not fit
	return model.Context{}, &model.ContextOverflowError{
		Tokens:    b.tokens(summaries[len(summaries)-1]) + metricTokens + b.tokens(renderTable(dims, 0, totalGroups)),
		MaxTokens: b.cfg.MaxTokens,
	}
}

// summary describes the question; the compact form drops the segment ranking
func (b *ContextBuilder) summary(result *model.MetricsResult, intent model.QueryIntent, full bool) string {
	var sb strings.Builder
	if full && intent.RawQuery != "" {
		fmt.Fprintf(&sb, "Pergunta: %s\n", intent.RawQuery)
	}
	fmt.Fprintf(&sb, "Intenção: %s (confiança %s, origem %s)", intent.IntentType,
		utils.FormatPercent(intent.Confidence*100), intent.Source)
	if intent.Visualization != nil {
		fmt.Fprintf(&sb, "\nVisualização: %s", *intent.Visualization)
	}
	if result == nil {
		return sb.String()
	}

	if filters, ok := result.Metadata["filters"].(map[string]string); ok && len(filters) > 0 {
		keys := make([]string, 0, len(filters))
		for k := range filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + filters[k]
		}
		fmt.Fprintf(&sb, "\nFiltros: %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&sb, "\nRegistros: %s", utils.FormatNumber(float64(result.RowCount)))

	if full && len(result.Segments) > 0 {
		primary, _ := result.Metadata["primary_metric"].(string)
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			part := utils.AsString(seg[colKey])
			if v, ok := utils.TryFloat(seg[primary]); ok {
				part += " (" + utils.FormatMetric(primary, v) + ")"
			}
			parts = append(parts, part)
		}
		fmt.Fprintf(&sb, "\nPrincipais segmentos: %s", strings.Join(parts, ", "))
	}
	return sb.String()
}

// renderMetrics lists every metric, including those the data could not produce
func renderMetrics(result *model.MetricsResult) string {
	if result == nil {
		return ""
	}
	names := make([]string, 0, len(result.Metrics))
	for k := range result.Metrics {
		names = append(names, k)
	}
	nulls, _ := result.Metadata["null_metrics"].([]string)
	names = append(names, nulls...)
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("| Métrica | Valor |\n|---|---|\n")
	for _, name := range names {
		value := "n/d"
		if v, ok := result.Metrics[name]; ok {
			value = utils.FormatMetric(name, v)
		}
		fmt.Fprintf(&sb, "| %s | %s |\n", name, value)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// renderTable renders the first rows breakdown lines plus a "+K more" marker
// for the groups left out. With zero rows only the marker remains, so hidden
// groups are always reported.
func renderTable(dims []model.Row, rows, totalGroups int) string {
	if rows <= 0 || len(dims) == 0 {
		if totalGroups > 0 {
			return fmt.Sprintf("+%d more", totalGroups)
		}
		return ""
	}
	cols := tableColumns(dims[0])

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat("---|", len(cols)) + "\n")
	for _, row := range dims[:rows] {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = formatCell(col, row[col])
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if more := totalGroups - rows; more > 0 {
		cells := make([]string, len(cols))
		cells[0] = fmt.Sprintf("+%d more", more)
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// tableColumns puts key and label first, then the metric columns by name
func tableColumns(row model.Row) []string {
	var cols, metrics []string
	for _, fixed := range []string{colKey, colLabel} {
		if _, ok := row[fixed]; ok {
			cols = append(cols, fixed)
		}
	}
	for k := range row {
		if k != colKey && k != colLabel {
			metrics = append(metrics, k)
		}
	}
	sort.Strings(metrics)
	return append(cols, metrics...)
}

func formatCell(col string, v interface{}) string {
	if col == colKey || col == colLabel {
		return strings.ReplaceAll(utils.AsString(v), "|", `\|`)
	}
	if f, ok := utils.TryFloat(v); ok {
		return utils.FormatMetric(col, f)
	}
	return "-"
}
