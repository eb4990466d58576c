package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"go-query-pipeline/internal/config"
	"go-query-pipeline/internal/model"
	"go-query-pipeline/internal/pipeline"
	"go-query-pipeline/pkg/utils"
)

var (
	askExport    string
	askTimeout   string
	askTenant    string
	askFilters   map[string]string
	askOverrides map[string]string
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question",
	Long: `Answer one question and print the generated context.

Examples:
  query ask "vendas da loja 1685"
  query ask "produtos em ruptura" --filter segment=tecidos
  query ask "vendas desse produto" --set product_id=59294
  query ask "comparar vendas das lojas" --export out/lojas.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askExport, "export", "", "Write the breakdown rows to a .csv or .json file")
	askCmd.Flags().StringVar(&askTimeout, "timeout", "2m", "Overall deadline for the question")
	askCmd.Flags().StringVar(&askTenant, "tenant", "", "Tenant id for cache namespacing")
	askCmd.Flags().StringToStringVar(&askFilters, "filter", nil, "Extra dimension filter (key=value)")
	askCmd.Flags().StringToStringVar(&askOverrides, "set", nil, "Explicit entity override (key=value)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, utils.ParseDuration(askTimeout, model.DefaultConfig().Calculator.QueryTimeout))
	defer cancel()

	svc, err := pipeline.New(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	ans, err := svc.Answer(ctx, model.Request{
		Query:     strings.Join(args, " "),
		Overrides: askOverrides,
		Filters:   askFilters,
		TenantID:  askTenant,
	})
	if err != nil {
		var clarify *model.NeedsClarificationError
		if errors.As(err, &clarify) {
			fmt.Fprintln(cmd.OutOrStdout(), clarify.Question)
			return nil
		}
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ans); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, ans.Context.Render())
	}

	if askExport != "" {
		res, err := pipeline.ExportAnswer(ans, askExport)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows to %s\n", res.RecordCount, res.Path)
	}
	return nil
}
