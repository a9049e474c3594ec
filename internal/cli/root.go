package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracepoint-sh/tracepoint/internal/config"
	"github.com/tracepoint-sh/tracepoint/internal/logger"
	"github.com/tracepoint-sh/tracepoint/internal/store"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "tracepoint",
	Short: "Debug CLI for the tracepoint telemetry pipeline",
	Long: `Tracepoint is a client-side telemetry pipeline: it persists
observability events locally and exports them in batches to an
ingestion service.

This CLI inspects the on-device store and drives export passes for
debugging. Configure the pipeline in ~/.tracepoint/config.yaml.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tracepoint %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Storage.DBPath)
}
