package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd(g *globalFlags) *cobra.Command {
	var (
		userID string
		limit  int
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show or prune recorded classification events",
		Long: `Show the most recent classification events, newest first.

Examples:
  router events
  router events --user alice --limit 50
  router events --prune 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				n, err := store.PruneEvents(cmd.Context(), time.Now().Add(-prune))
				if err != nil {
					return fmt.Errorf("pruning events: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events\n", n)
				return nil
			}

			events, err := store.ListEvents(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("listing events: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tWORKFLOW\tMETHOD\tLATENCY\tCIRCUIT")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					ev.CreatedAt.Local().Format(time.DateTime), ev.UserID, ev.WorkflowType,
					ev.Method, ev.LatencyMs, ev.CircuitState)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "only this user's events")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete events older than this instead of listing")
	return cmd
}
