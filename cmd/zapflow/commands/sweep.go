package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapflow/pkg/zapflow/retention"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// newSweepCmd creates the `zapflow sweep` command that runs the retention
// pass once and exits, for cron-less deployments.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge idle sessions and stale registrations once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cmd, cfg)

			sessions, err := session.Open(cfg.SessionDBPath, cfg.MaxHistory, logger)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer sessions.Close()

			retention.New(cfg.Retention, sessions, logger).Sweep(context.Background())
			return nil
		},
	}
}
