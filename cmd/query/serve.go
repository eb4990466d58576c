package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-query-pipeline/internal/api"
	"go-query-pipeline/internal/config"
	"go-query-pipeline/internal/pipeline"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		logger := config.NewLogger(cfg.Logging)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := pipeline.New(ctx, cfg, pipeline.WithLogger(logger))
		if err != nil {
			return err
		}
		defer svc.Close()

		return api.Serve(ctx, svc, cfg.Server.Addr, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
