package api

import (
	"context"
	"log/slog"

	"go-query-pipeline/internal/api/handler"
	"go-query-pipeline/pkg/router"
)

// Serve runs the HTTP API on addr until ctx is cancelled
func Serve(ctx context.Context, svc handler.QueryService, addr string, logger *slog.Logger) error {
	r := router.New(router.WithLogger(logger))
	RegisterRoutes(r, svc, logger)

	logger.Info("query api listening", "addr", addr, "routes", len(r.Routes()))
	return r.Start(ctx, addr)
}
