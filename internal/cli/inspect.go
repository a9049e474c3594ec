package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var eventsSessionID string
var eventsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions recorded in the local store",
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

		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions recorded")
			return nil
		}

		for _, s := range sessions {
			flags := ""
			if s.Crashed {
				flags += " crashed"
			}
			if s.NeedsReporting {
				flags += " needs-reporting"
			}
			if !s.Sampled {
				flags += " sampled-out"
			}
			fmt.Printf("%s  pid=%d  created=%s%s\n",
				s.ID, s.PID, s.CreatedAt.Format(time.RFC3339), flags)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List events for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsSessionID == "" {
			return fmt.Errorf("--session is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		events, err := st.GetSessionEvents(eventsSessionID, eventsLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no events recorded")
			return nil
		}

		for _, e := range events {
			state := "unbatched"
			if e.BatchID != "" {
				state = "claimed " + e.BatchID
			}
			fmt.Printf("%s  %-16s  %s  [%s]\n",
				e.Timestamp.Format(time.RFC3339), e.Type, e.ID, state)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSessionID, "session", "", "Session ID to list events for")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum number of events to list")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventsCmd)
}
