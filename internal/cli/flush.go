package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracepoint-sh/tracepoint/internal/exporter"
)

var (
	sweepTTL       time.Duration
	flushSessionID string
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Run one export pass against the ingestion endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Ingest.URL == "" {
			return fmt.Errorf("no ingest url configured")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		// Force a sampled-out session into the export
		if flushSessionID != "" {
			if _, err := st.GetSession(flushSessionID); err != nil {
				return err
			}
			if err := st.MarkNeedsReporting(flushSessionID); err != nil {
				return err
			}
		}

		pending, err := st.CountUnbatched()
		if err != nil {
			return err
		}
		fmt.Printf("exporting %d pending events\n", pending)

		client, err := exporter.NewClient(cfg.Ingest)
		if err != nil {
			return err
		}
		return exporter.New(st, client, cfg).ExportOnce(context.Background())
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete rows older than the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ttl := sweepTTL
		if ttl == 0 {
			ttl = time.Duration(cfg.Storage.EventTTLHours) * time.Hour
		}

		deleted, err := st.SweepOlderThan(ttl)
		if err != nil {
			return err
		}
		fmt.Printf("swept %d rows older than %s\n", deleted, ttl)
		return nil
	},
}

func init() {
	flushCmd.Flags().StringVar(&flushSessionID, "session", "", "Force this session into the export even if sampled out")
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "Retention horizon (default from config)")

	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(sweepCmd)
}
