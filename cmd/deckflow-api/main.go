// Command deckflow-api serves the deck generation API and runs jobs from the
// command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/deckflow-agent/internal/config"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

var (
	agentsFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "deckflow-api",
	Short:         "Multi-agent presentation generation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&agentsFile, "agents", "", "YAML agent catalog (overrides DECKFLOW_AGENTS_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides DECKFLOW_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, runCmd, schemaCmd)
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if agentsFile != "" {
		cfg.AgentsFile = agentsFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	observability.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
