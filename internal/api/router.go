package api

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "go-query-pipeline/docs"
	"go-query-pipeline/internal/api/handler"
	"go-query-pipeline/internal/pipeline"
	"go-query-pipeline/pkg/router"
)

// RegisterRoutes wires the query API, metrics and docs onto r
func RegisterRoutes(r *router.Router, svc handler.QueryService, logger *slog.Logger) {
	h := handler.New(svc, logger)

	r.POST("/api/v1/query", h.Query)
	r.GET("/api/v1/stats", h.Stats)
	r.DELETE("/api/v1/cache", h.InvalidateCache)
	r.GET("/api/v1/health", h.Health)

	// snapshot gauges are per service; request counters stay on the default registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(pipeline.NewStatsCollector(svc.Stats))
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	r.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	r.Handle("/swagger/", httpSwagger.WrapHandler)
}
