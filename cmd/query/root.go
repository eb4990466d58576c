package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer business questions from the sales dataset",
	Long: `query resolves Portuguese business questions into exact metrics.

The question is classified by keyword rules first and by the LLM only when
the rules are not confident. Metrics are computed with SQL against the
configured dataset and rendered into a bounded text context.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ./query-pipeline.yaml or $HOME/.config/query-pipeline/query-pipeline.yaml)")
}
