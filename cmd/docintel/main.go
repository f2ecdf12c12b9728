/**
 * Document Intelligence - Main Entry Point
 *
 * Upload a scanned document, rasterize it into pages and run the pages
 * through remote inference models in order:
 *
 *   OCR -> Language ID -> Text Summary -> Text Topic -> NER
 *
 * Commands:
 * - serve    pipeline page + dashboard over HTTP
 * - analyze  run one local file through the pipeline from the terminal
 * - models   print the resolved model reference table
 */

package main

import (
	"fmt"
	"os"

	"github.com/adverant/nexus/docintel/internal/config"
	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile    string
	outputJSON bool

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docintel",
	Short: "Document intelligence pipeline over a remote inference service",
	Long: `docintel rasterizes scanned documents and runs their pages through
OCR, language identification, summarization, topic modeling and named-entity
recognition models, then presents the results on a two-tab dashboard.

Configuration is read from the environment (optionally from a .env file)
and an optional docintel.yaml in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		// Command output owns stdout; only the server logs there.
		if cmd.Name() == "serve" {
			logging.Configure(cfg.LogLevel, cfg.LogFormat)
		} else {
			logging.ConfigureTo(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		}
		logger = logging.NewLogger("Main")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load when present")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newModelsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
