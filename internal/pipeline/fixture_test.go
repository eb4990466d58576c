package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/cache"
	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/store"
)

const testTable = "vendas"

// salesFixture has dirty numeric values on purpose: "n/a" and "" must be
// skipped by the sums, never fail them
func salesFixture() []store.SaleRow {
	return []store.SaleRow{
		{StoreID: 1, StoreName: "LOJA CENTRO", ProductID: "100", ProductName: "ARROZ", Segment: "ALIMENTOS", Category: "GRAOS", Sales30d: 50, Stock: 10, Price: 5.5, Date: "2025-01-10"},
		{StoreID: 1, StoreName: "LOJA CENTRO", ProductID: "101", ProductName: "FEIJAO", Segment: "ALIMENTOS", Category: "GRAOS", Sales30d: 30, Stock: 0, Price: 7.2, Date: "2025-01-12"},
		{StoreID: 1, StoreName: "LOJA CENTRO", ProductID: "200", ProductName: "TECIDO XADREZ", Segment: "TECIDOS", Category: "ALGODAO", Sales30d: 20, Stock: 5, Price: 19.9, Date: "2025-01-15"},
		{StoreID: 2, StoreName: "LOJA NORTE", ProductID: "100", ProductName: "ARROZ", Segment: "ALIMENTOS", Category: "GRAOS", Sales30d: "40", Stock: "0", Price: 5.5, Date: "2025-02-03"},
		{StoreID: 2, StoreName: "LOJA NORTE", ProductID: "200", ProductName: "TECIDO XADREZ", Segment: "TECIDOS", Category: "ALGODAO", Sales30d: "n/a", Stock: 3, Price: 19.9, Date: "2025-01-20"},
		{StoreID: 2, StoreName: "LOJA NORTE", ProductID: "300", ProductName: "PANO DE PRATO", Segment: "TECIDOS", Category: "ALGODAO", Sales30d: "", Stock: -1, Price: nil, Date: "2025-01-21"},
	}
}

func newTestDataset(t *testing.T, rows []store.SaleRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.db")
	db, err := store.CreateDataset(path, testTable)
	require.NoError(t, err)
	require.NoError(t, store.InsertSales(db, testTable, rows))
	require.NoError(t, db.Close())
	return path
}

// countingConn counts statements and optionally slows them down
type countingConn struct {
	store.Conn
	queries *atomic.Int64
	delay   time.Duration
}

func (c *countingConn) Query(ctx context.Context, q string, args ...interface{}) (*store.ResultSet, error) {
	c.queries.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Conn.Query(ctx, q, args...)
}

type testEnv struct {
	path    string
	pool    *store.Pool
	dialect store.Dialect
	cache   *cache.QueryCache
	queries *atomic.Int64
}

func newTestEnv(t *testing.T, rows []store.SaleRow, delay time.Duration) *testEnv {
	t.Helper()
	path := newTestDataset(t, rows)
	open, dialect, err := store.NewOpener(model.DataSourceConfig{Driver: "sqlite3", DSN: path, Table: testTable})
	require.NoError(t, err)

	queries := &atomic.Int64{}
	counted := func(ctx context.Context) (store.Conn, error) {
		conn, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return &countingConn{Conn: conn, queries: queries, delay: delay}, nil
	}

	pool, err := store.NewPool(context.Background(), model.PoolConfig{
		MinConnections: 1,
		MaxConnections: 4,
		Timeout:        5 * time.Second,
	}, counted, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.CloseAll() })

	return &testEnv{
		path:    path,
		pool:    pool,
		dialect: dialect,
		cache:   cache.New(model.CacheConfig{MaxSize: 100, TTL: time.Minute}),
		queries: queries,
	}
}

func (e *testEnv) calculator(cfg model.CalculatorConfig, opts ...CalculatorOption) *Calculator {
	return NewCalculator(cfg, testTable, e.dialect, e.pool, e.cache, opts...)
}

func testVocabulary() *Vocabulary {
	v := NewVocabulary()
	v.Add(model.EntitySegment, "ALIMENTOS")
	v.Add(model.EntitySegment, "TECIDOS")
	v.Add(model.EntityCategory, "GRAOS")
	v.Add(model.EntityCategory, "ALGODAO")
	return v
}

// fakeClassifier returns a canned classification and counts calls
type fakeClassifier struct {
	calls atomic.Int64
	out   *Classification
	err   error
}

func (f *fakeClassifier) Classify(context.Context, string) (*Classification, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.out
	cp.Entities = make(map[string]string, len(f.out.Entities))
	for k, v := range f.out.Entities {
		cp.Entities[k] = v
	}
	return &cp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
