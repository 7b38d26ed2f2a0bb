package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/batchquery/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "batchquery",
	Short:        "Resumable concurrent batch chat completions",
	Long:         "Sends every record of a directory of JSON-lines batches to an OpenAI or Azure OpenAI chat model, checkpoints progress in chunks, and resumes where a previous run stopped.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
