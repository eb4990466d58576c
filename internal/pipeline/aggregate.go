package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"go-query-pipeline/internal/cache"
	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/resilience"
	"go-query-pipeline/internal/store"
	"go-query-pipeline/pkg/utils"
)

// Breakdown column aliases shared by every plan
const (
	colKey     = "chave"
	colLabel   = "rotulo"
	colRecords = "registros"
	colGroups  = "grupos"
)

// aggregationNames maps an aggregation onto the prefix of its metric name
var aggregationNames = map[string]string{
	"sum":   "total",
	"avg":   "media",
	"min":   "minimo",
	"max":   "maximo",
	"count": "contagem",
}

// aggregationOrder keeps metric columns stable regardless of request order
var aggregationOrder = []string{"sum", "avg", "min", "max", "count"}

// plan is the canonical aggregation for one intent
type plan struct {
	metric     string // metric base name, e.g. "vendas"
	column     string // numeric column aggregated
	dimension  string // breakdown column, empty for totals only
	label      string // descriptive column shown next to the dimension key
	segments   bool   // also compute the top segments breakdown
	predicates func(d store.Dialect) []string
	extras     func(d store.Dialect) []string // additional totals columns
}

var plans = map[model.IntentType]plan{
	model.IntentSales: {
		metric: "vendas", column: store.ColSales30d,
		dimension: store.ColProductID, label: store.ColProductName, segments: true,
		extras: revenue,
	},
	model.IntentChart: {
		metric: "vendas", column: store.ColSales30d,
		dimension: store.ColSegment,
	},
	model.IntentStock: {
		metric: "estoque", column: store.ColStock,
		dimension: store.ColProductID, label: store.ColProductName, segments: true,
	},
	model.IntentRupture: {
		metric: "vendas", column: store.ColSales30d,
		dimension: store.ColProductID, label: store.ColProductName, segments: true,
		predicates: func(d store.Dialect) []string {
			return []string{
				d.TryCastNumeric(d.QuoteIdent(store.ColStock)) + " <= 0",
				d.TryCastNumeric(d.QuoteIdent(store.ColSales30d)) + " > 0",
			}
		},
		extras: func(d store.Dialect) []string {
			return []string{"COUNT(DISTINCT " + d.QuoteIdent(store.ColProductID) + ") AS produtos_em_ruptura"}
		},
	},
	model.IntentComparison: {
		metric: "vendas", column: store.ColSales30d,
		dimension: store.ColStoreID, label: store.ColStoreName,
		extras: revenue,
	},
	model.IntentMetadata: {
		extras: func(d store.Dialect) []string {
			return []string{
				"COUNT(DISTINCT " + d.QuoteIdent(store.ColStoreID) + ") AS lojas",
				"COUNT(DISTINCT " + d.QuoteIdent(store.ColProductID) + ") AS produtos",
				"COUNT(DISTINCT " + d.QuoteIdent(store.ColSegment) + ") AS segmentos",
				"COUNT(DISTINCT " + d.QuoteIdent(store.ColCategory) + ") AS categorias",
			}
		},
	},
}

// revenue is units sold times unit price; rows missing either are skipped
func revenue(d store.Dialect) []string {
	return []string{fmt.Sprintf("SUM(%s * %s) AS %s",
		d.TryCastNumeric(d.QuoteIdent(store.ColSales30d)), d.TryCastNumeric(d.QuoteIdent(store.ColPrice)), metricRevenue)}
}

const metricRevenue = "valor_vendas"

type filterKind int

const (
	filterInt filterKind = iota
	filterText
	filterTextFold
	filterDateRange
)

type filterColumn struct {
	column string
	kind   filterKind
}

// filterColumns is the whitelist of filterable dimensions, by entity key or column name
var filterColumns = map[string]filterColumn{
	model.EntityStoreID:   {store.ColStoreID, filterInt},
	store.ColStoreID:      {store.ColStoreID, filterInt},
	model.EntityProductID: {store.ColProductID, filterText},
	store.ColProductID:    {store.ColProductID, filterText},
	model.EntitySegment:   {store.ColSegment, filterTextFold},
	store.ColSegment:      {store.ColSegment, filterTextFold},
	model.EntityCategory:  {store.ColCategory, filterTextFold},
	store.ColCategory:     {store.ColCategory, filterTextFold},
	model.EntityDateRange: {store.ColDate, filterDateRange},
	store.ColDate:         {store.ColDate, filterDateRange},
}

type boundFilter struct {
	column filterColumn
	value  string
}

type tenantKey struct{}

// WithTenant namespaces cache entries of calculations run with the returned context
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func tenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}

// Calculator computes exact metrics for an intent with canonical SQL plans
type Calculator struct {
	cfg     model.CalculatorConfig
	table   string
	dialect store.Dialect
	pool    *store.Pool
	cache   *cache.QueryCache
	breaker *resilience.Breaker
	retry   *resilience.Policy
	group   singleflight.Group
	logger  *slog.Logger
}

// CalculatorOption customizes a Calculator
type CalculatorOption func(*Calculator)

// WithRemoteGuard routes executions through a breaker and retry policy,
// used when the dataset lives on a remote server
func WithRemoteGuard(breaker *resilience.Breaker, retry *resilience.Policy) CalculatorOption {
	return func(c *Calculator) {
		c.breaker = breaker
		c.retry = retry
	}
}

// WithCalculatorLogger sets the logger
func WithCalculatorLogger(logger *slog.Logger) CalculatorOption {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalculator creates a calculator over table
func NewCalculator(cfg model.CalculatorConfig, table string, dialect store.Dialect, pool *store.Pool, qc *cache.QueryCache, opts ...CalculatorOption) *Calculator {
	def := model.DefaultConfig().Calculator
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.TopSegments <= 0 {
		cfg.TopSegments = def.TopSegments
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	c := &Calculator{
		cfg:     cfg,
		table:   table,
		dialect: dialect,
		pool:    pool,
		cache:   qc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "calculator")
	return c
}

// Calculate returns the metrics of intentType restricted by entities and
// filters. Results are cached by query signature and concurrent identical
// calculations share one execution. Entities and filters are not modified.
func (c *Calculator) Calculate(ctx context.Context, intentType model.IntentType, entities map[string]string, aggregations []string, filters map[string]string) (*model.MetricsResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Calculate")
	defer span.End()
	span.SetAttributes(attribute.String("intent", string(intentType)))

	p, ok := plans[intentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedIntent, intentType)
	}
	aggs, err := normalizeAggregations(aggregations)
	if err != nil {
		return nil, err
	}
	bound, err := bindFilters(entities, filters)
	if err != nil {
		return nil, err
	}

	sig := c.signature(tenantFrom(ctx), intentType, aggs, bound)
	span.SetAttributes(attribute.String("signature", sig))

	lookup := time.Now()
	if cached, ok := c.cache.Get(sig); ok {
		// a hit reports its own lookup time, not the original execution
		cached.ExecutionTimeMS = float64(time.Since(lookup).Microseconds()) / 1000
		calculationsTotal.WithLabelValues(string(intentType), "hit").Inc()
		c.logger.Debug("cache hit", "signature", sig)
		return cached, nil
	}

	// The shared execution outlives any single caller: each caller waits on
	// its own context, the query is bounded by pool and query timeouts.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(cache.Key(sig), func() (interface{}, error) {
		res, err := c.execute(shared, intentType, p, aggs, bound)
		if err != nil {
			return nil, err
		}
		res.QuerySignature = sig
		c.cache.Set(sig, res)
		return res, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := r.Err; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcome := "miss"
	if r.Shared {
		outcome = "shared"
	}
	calculationsTotal.WithLabelValues(string(intentType), outcome).Inc()

	out := r.Val.(*model.MetricsResult).Clone()
	out.CacheHit = false
	return out, nil
}

// signature is the normalized plan text followed by the sorted bound filters
func (c *Calculator) signature(tenant string, intentType model.IntentType, aggs []string, bound []boundFilter) string {
	parts := make([]string, 0, len(bound)+4)
	if tenant != "" {
		parts = append(parts, "tenant="+tenant)
	}
	parts = append(parts, "intent="+string(intentType), "table="+c.table, "agg="+strings.Join(aggs, ","))
	for _, f := range bound {
		parts = append(parts, f.column.column+"="+f.value)
	}
	return strings.Join(parts, "|")
}

// execute runs the plan on a pooled handle. The handle is always given back;
// queries are detached from caller cancellation and bounded by query_timeout.
func (c *Calculator) execute(ctx context.Context, intentType model.IntentType, p plan, aggs []string, bound []boundFilter) (*model.MetricsResult, error) {
	run := func(ctx context.Context) (*model.MetricsResult, error) {
		pc, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.QueryTimeout)
		defer cancel()

		res, err := c.runPlan(qctx, pc, intentType, p, aggs, bound)
		if err != nil && resilience.IsTransient(err) {
			c.pool.Discard(pc)
		} else {
			c.pool.Release(pc)
		}
		if err != nil {
			return nil, err
		}
		res.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000
		return res, nil
	}

	var (
		res *model.MetricsResult
		err error
	)
	if c.breaker != nil && c.retry != nil {
		res, err = resilience.Do(ctx, c.retry, "calculate", func(ctx context.Context) (*model.MetricsResult, error) {
			return resilience.Call(ctx, c.breaker, run)
		})
	} else {
		res, err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	if res.RowCount == 0 && intentType.RequiresData() {
		return nil, &model.NoDataError{Intent: intentType, Filters: filterMap(bound)}
	}

	c.logger.Info("calculation executed", "intent", intentType, "rows", res.RowCount,
		"dimensions", len(res.Dimensions), "elapsed_ms", res.ExecutionTimeMS)
	return res, nil
}

func (c *Calculator) runPlan(ctx context.Context, pc *store.PooledConnection, intentType model.IntentType, p plan, aggs []string, bound []boundFilter) (*model.MetricsResult, error) {
	d := c.dialect
	where, args := c.whereClause(p, bound)
	table := d.QuoteIdent(c.table)

	metricCols := c.metricColumns(p, aggs)
	totalsCols := []string{"COUNT(*) AS " + colRecords}
	if p.dimension != "" {
		totalsCols = append(totalsCols, "COUNT(DISTINCT "+d.QuoteIdent(p.dimension)+") AS "+colGroups)
	}
	if p.extras != nil {
		totalsCols = append(totalsCols, p.extras(d)...)
	}
	totalsCols = append(totalsCols, metricCols...)

	totals, err := pc.Query(ctx, fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(totalsCols, ", "), table, where), args...)
	if err != nil {
		return nil, fmt.Errorf("totals query failed: %w", err)
	}

	res := &model.MetricsResult{
		Metrics: make(map[string]float64),
		Metadata: map[string]interface{}{
			"intent":       string(intentType),
			"aggregations": aggs,
			"filters":      filterMap(bound),
			"table":        c.table,
			"dialect":      d.Name(),
		},
	}

	var nullMetrics []string
	if len(totals.Rows) == 1 {
		for i, col := range totals.Columns {
			name := strings.ToLower(col)
			v, ok := utils.TryFloat(totals.Rows[0][i])
			if !ok {
				nullMetrics = append(nullMetrics, name)
				continue
			}
			switch name {
			case colRecords:
				res.RowCount = int(v)
			case colGroups:
				res.Metadata["total_groups"] = int(v)
				continue
			}
			res.Metrics[name] = v
		}
	}
	if len(nullMetrics) > 0 {
		res.Metadata["null_metrics"] = nullMetrics
	}
	if res.RowCount == 0 || p.dimension == "" {
		return res, nil
	}

	primary := metricAlias(p, aggs[0])

	res.Dimensions, err = c.breakdown(ctx, pc, p.dimension, p.label, metricCols, primary, where, args, c.cfg.MaxRows)
	if err != nil {
		return nil, err
	}
	if total, ok := res.Metadata["total_groups"].(int); ok {
		res.Metadata["truncated"] = total > len(res.Dimensions)
	}

	if p.segments {
		res.Segments, err = c.breakdown(ctx, pc, store.ColSegment, "", metricCols, primary, where, args, c.cfg.TopSegments)
		if err != nil {
			return nil, err
		}
	}
	res.Metadata["primary_metric"] = primary
	return res, nil
}

// breakdown groups by dimension, ordered by the primary metric descending
// and then by key as text, limited to limit rows. SortRows applies the same
// order so the rows kept under LIMIT are the first ones shown.
func (c *Calculator) breakdown(ctx context.Context, pc *store.PooledConnection, dimension, label string, metricCols []string, primary, where string, args []interface{}, limit int) ([]model.Row, error) {
	d := c.dialect
	cols := []string{d.QuoteIdent(dimension) + " AS " + colKey}
	if label != "" {
		cols = append(cols, "MAX("+d.QuoteIdent(label)+") AS "+colLabel)
	}
	cols = append(cols, "COUNT(*) AS "+colRecords)
	cols = append(cols, metricCols...)

	q := fmt.Sprintf("SELECT %s FROM %s%s GROUP BY %s ORDER BY %s DESC NULLS LAST, %s ASC LIMIT %d",
		strings.Join(cols, ", "), d.QuoteIdent(c.table), where, d.QuoteIdent(dimension), primary, d.TextKey(d.QuoteIdent(dimension)), limit)

	rs, err := pc.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s breakdown failed: %w", dimension, err)
	}

	rows := make([]model.Row, 0, len(rs.Rows))
	for _, values := range rs.Rows {
		row := make(model.Row, len(values))
		for i, col := range rs.Columns {
			name := strings.ToLower(col)
			switch name {
			case colKey, colLabel:
				row[name] = utils.AsString(values[i])
			default:
				if v, ok := utils.TryFloat(values[i]); ok {
					row[name] = v
				} else {
					row[name] = nil
				}
			}
		}
		rows = append(rows, row)
	}
	return SortRows(rows, primary, false), nil
}

// metricColumns renders one aggregate per requested aggregation over the try-cast column
func (c *Calculator) metricColumns(p plan, aggs []string) []string {
	if p.column == "" {
		return nil
	}
	expr := c.dialect.TryCastNumeric(c.dialect.QuoteIdent(p.column))
	cols := make([]string, 0, len(aggs))
	for _, a := range aggs {
		fn := strings.ToUpper(a)
		cols = append(cols, fmt.Sprintf("%s(%s) AS %s", fn, expr, metricAlias(p, a)))
	}
	return cols
}

func metricAlias(p plan, agg string) string {
	if p.metric == "" {
		return colRecords
	}
	return aggregationNames[agg] + "_" + p.metric
}

func (c *Calculator) whereClause(p plan, bound []boundFilter) (string, []interface{}) {
	d := c.dialect
	var preds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if p.predicates != nil {
		preds = append(preds, p.predicates(d)...)
	}
	for _, f := range bound {
		col := d.QuoteIdent(f.column.column)
		switch f.column.kind {
		case filterInt:
			n, _ := strconv.ParseInt(f.value, 10, 64)
			preds = append(preds, col+" = "+next(n))
		case filterText:
			preds = append(preds, "TRIM("+col+") = "+next(f.value))
		case filterTextFold:
			preds = append(preds, "UPPER(TRIM("+col+")) = "+next(f.value))
		case filterDateRange:
			from, to, _ := strings.Cut(f.value, "/")
			preds = append(preds, col+" >= "+next(from), col+" <= "+next(to))
		}
	}
	if len(preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(preds, " AND "), args
}

// bindFilters merges entities and caller filters (filters win on the same
// column), validates them against the whitelist and sorts them by column
func bindFilters(entities, filters map[string]string) ([]boundFilter, error) {
	byColumn := make(map[string]boundFilter)
	for _, src := range []map[string]string{entities, filters} {
		for key, raw := range src {
			fc, ok := filterColumns[strings.ToLower(strings.TrimSpace(key))]
			if !ok {
				return nil, fmt.Errorf("%w: unknown filter %q", model.ErrInvalidFilter, key)
			}
			value, err := normalizeFilterValue(fc, raw)
			if err != nil {
				return nil, err
			}
			if value == "" {
				continue
			}
			byColumn[fc.column] = boundFilter{column: fc, value: value}
		}
	}

	out := make([]boundFilter, 0, len(byColumn))
	for _, f := range byColumn {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].column.column < out[j].column.column })
	return out, nil
}

func normalizeFilterValue(fc filterColumn, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	switch fc.kind {
	case filterInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: %s must be numeric, got %q", model.ErrInvalidFilter, fc.column, raw)
		}
		return strconv.FormatInt(n, 10), nil
	case filterTextFold:
		return strings.ToUpper(value), nil
	case filterDateRange:
		from, to, ok := strings.Cut(value, "/")
		if !ok || !isISODate(from) || !isISODate(to) || from > to {
			return "", fmt.Errorf("%w: date range must be YYYY-MM-DD/YYYY-MM-DD, got %q", model.ErrInvalidFilter, raw)
		}
		return value, nil
	default:
		return value, nil
	}
}

func isISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func normalizeAggregations(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := aggregationNames[a]; !ok {
			return nil, fmt.Errorf("unsupported aggregation %q", a)
		}
		seen[a] = true
	}
	if len(seen) == 0 {
		return []string{"sum"}, nil
	}
	out := make([]string, 0, len(seen))
	for _, a := range aggregationOrder {
		if seen[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

func filterMap(bound []boundFilter) map[string]string {
	out := make(map[string]string, len(bound))
	for _, f := range bound {
		out[f.column.column] = f.value
	}
	return out
}

// SortRows orders breakdown rows by a metric and breaks ties by key
// ascending. Rows missing the metric sort last either way.
func SortRows(rows []model.Row, sortBy string, ascending bool) []model.Row {
	sort.SliceStable(rows, func(i, j int) bool {
		iVal, iOk := utils.TryFloat(rows[i][sortBy])
		jVal, jOk := utils.TryFloat(rows[j][sortBy])

		switch {
		case iOk && jOk && iVal != jVal:
			if ascending {
				return iVal < jVal
			}
			return iVal > jVal
		case iOk != jOk:
			return iOk
		}
		return compareKeys(rows[i][colKey], rows[j][colKey]) < 0
	})
	return rows
}

// compareKeys orders keys bytewise as text, matching the breakdown ORDER BY
func compareKeys(a, b interface{}) int {
	return strings.Compare(utils.AsString(a), utils.AsString(b))
}

