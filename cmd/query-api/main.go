package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-query-pipeline/internal/api"
	"go-query-pipeline/internal/config"
	"go-query-pipeline/internal/pipeline"
)

// @title Query Pipeline API
// @version 1.0
// @description Deterministic resolution of business questions into exact metrics and bounded context.
// @host localhost:8080
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := pipeline.New(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	return api.Serve(ctx, svc, cfg.Server.Addr, logger)
}
