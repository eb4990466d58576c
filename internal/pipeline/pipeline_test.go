package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/resilience"
)

func newTestService(t *testing.T, mutate func(*model.Config), opts ...Option) *Service {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.DataSource = model.DataSourceConfig{Driver: "sqlite3", DSN: newTestDataset(t, salesFixture()), Table: testTable}
	cfg.Pool = model.PoolConfig{MinConnections: 1, MaxConnections: 4, Timeout: 5 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_Answer(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	ans, err := svc.Answer(ctx, model.Request{Query: "Quanto vendeu a loja 1?"})
	require.NoError(t, err)

	_, err = uuid.Parse(ans.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, model.IntentSales, ans.Intent.IntentType)
	assert.Equal(t, "1", ans.Intent.Entities[model.EntityStoreID])
	require.NotNil(t, ans.Result)
	assert.Equal(t, 100.0, ans.Result.Metrics["total_vendas"])
	assert.False(t, ans.Result.CacheHit)
	assert.Contains(t, ans.Context.KeyMetricsMD, "total_vendas")
	assert.Contains(t, ans.Context.DetailsTableMD, "ARROZ")

	again, err := svc.Answer(ctx, model.Request{Query: "quanto vendeu a loja 1"})
	require.NoError(t, err)
	assert.True(t, again.Result.CacheHit)
	assert.NotEqual(t, ans.RequestID, again.RequestID)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, 0, stats.Pool.ActiveConnections)
	assert.Len(t, stats.Breakers, 0)
}

func TestService_AnswerWithFilters(t *testing.T) {
	svc := newTestService(t, nil)

	ans, err := svc.Answer(context.Background(), model.Request{
		Query:   "vendas por produto",
		Filters: map[string]string{"segment": "tecidos"},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, ans.Result.Metrics["total_vendas"])
	assert.Contains(t, ans.Context.Summary, "nomesegmento=TECIDOS")

	_, err = svc.Answer(context.Background(), model.Request{
		Query:   "vendas por produto",
		Filters: map[string]string{"cor": "azul"},
	})
	assert.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestService_RevenueQuestionsReportMoney(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		query string
		want  float64
	}{
		{"Qual o faturamento da loja 1?", 889},
		{"receita da loja 2", 220},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ans, err := svc.Answer(context.Background(), model.Request{Query: tt.query})
			require.NoError(t, err)
			assert.Equal(t, model.IntentSales, ans.Intent.IntentType)
			assert.InDelta(t, tt.want, ans.Result.Metrics["valor_vendas"], 1e-6)
			assert.Contains(t, ans.Context.KeyMetricsMD, "| valor_vendas | R$ ")
		})
	}
}

func TestService_ChatSkipsCalculation(t *testing.T) {
	svc := newTestService(t, nil)

	ans, err := svc.Answer(context.Background(), model.Request{Query: "bom dia"})
	require.NoError(t, err)
	assert.Equal(t, model.IntentChat, ans.Intent.IntentType)
	assert.Nil(t, ans.Result)
	assert.Contains(t, ans.Context.Summary, "CHAT")
	assert.Zero(t, svc.Stats().Cache.Misses)
}

func TestService_TypedErrors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Answer(ctx, model.Request{Query: "  "})
	var clarify *model.NeedsClarificationError
	require.True(t, errors.As(err, &clarify))
	assert.Equal(t, "query", clarify.Field)

	_, err = svc.Answer(ctx, model.Request{Query: "quanto vendeu esse produto"})
	assert.Equal(t, model.KindNeedsClarification, model.KindOf(err))

	_, err = svc.Answer(ctx, model.Request{Query: "vendas do produto 999999"})
	assert.Equal(t, model.KindNoData, model.KindOf(err))

	// explicit overrides resolve the reference
	ans, err := svc.Answer(ctx, model.Request{
		Query:     "quanto vendeu esse produto",
		Overrides: map[string]string{model.EntityProductID: "200"},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, ans.Result.Metrics["total_vendas"])
}

func TestService_TenantIsolation(t *testing.T) {
	svc := newTestService(t, func(cfg *model.Config) { cfg.Tenant.Isolate = true })
	ctx := context.Background()

	a, err := svc.Answer(ctx, model.Request{Query: "vendas da loja 2", TenantID: "a"})
	require.NoError(t, err)
	b, err := svc.Answer(ctx, model.Request{Query: "vendas da loja 2", TenantID: "b"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.Result.QuerySignature, "tenant=a|"))
	assert.False(t, b.Result.CacheHit)
	assert.Equal(t, 1, svc.InvalidateCache("tenant=a|"))
	assert.Equal(t, 1, svc.InvalidateCache(""))
}

func TestService_InvalidateCache(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Answer(ctx, model.Request{Query: "vendas da loja 1"})
	require.NoError(t, err)
	_, err = svc.Answer(ctx, model.Request{Query: "estoque da loja 1"})
	require.NoError(t, err)

	assert.Equal(t, 1, svc.InvalidateCache("intent=STOCK"))
	assert.Equal(t, 1, svc.InvalidateCache("une=1"))
	assert.Equal(t, 0, svc.Stats().Cache.Entries)
}

func TestService_LLMFallback(t *testing.T) {
	llm := &fakeClassifier{out: &Classification{Intent: model.IntentSales, Confidence: 0.9}}
	svc := newTestService(t, nil, WithLLMClassifier(llm))

	ans, err := svc.Answer(context.Background(), model.Request{Query: lowConfidenceQuery})
	require.NoError(t, err)
	assert.Equal(t, model.SourceLLM, ans.Intent.Source)
	assert.Equal(t, 120.0, ans.Result.Metrics["total_vendas"])
	assert.Equal(t, int64(1), llm.calls.Load())

	stats := svc.Stats()
	require.Len(t, stats.Breakers, 1)
	assert.Equal(t, resilience.BreakerLLMClassify, stats.Breakers[0].Name)
	assert.Equal(t, "CLOSED", stats.Breakers[0].State)
}

func TestService_VocabularyOverride(t *testing.T) {
	vocab := NewVocabulary()
	vocab.Add(model.EntitySegment, "TECIDOS")
	svc := newTestService(t, nil, WithVocabulary(vocab))

	ans, err := svc.Answer(context.Background(), model.Request{Query: "vendas de alimentos"})
	require.NoError(t, err)
	_, ok := ans.Intent.Entity(model.EntitySegment)
	assert.False(t, ok)
	assert.Equal(t, 140.0, ans.Result.Metrics["total_vendas"])
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.DataSource = model.DataSourceConfig{Driver: "oracle", DSN: "x", Table: "vendas"}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg.DataSource = model.DataSourceConfig{Driver: "sqlite3", DSN: "x"}
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
