package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveoberholzer/ShareSync/janitor"
	"github.com/steveoberholzer/ShareSync/store"
)

func newPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than the retention window and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg.Environment)

			if olderThan <= 0 {
				olderThan = cfg.Retention.Window
			}
			if olderThan <= 0 {
				return fmt.Errorf("no retention window configured, pass --older-than")
			}

			st, err := store.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			jan := janitor.New(st, logger, janitor.WithRetention(olderThan))
			purged, err := jan.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("purge finished",
				slog.Int("jobs", purged),
				slog.Duration("older_than", olderThan),
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override the retention window (e.g. 720h)")
	return cmd
}
