package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"caption-scheduler/internal/app"
)

var evidenceCmd = &cobra.Command{
	Use:   "run-evidence-update",
	Short: "Apply one decayed evidence cycle up to now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunEvidenceUpdate(cmd.Context())
	},
}

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-evidence",
	Short: "Replay evidence cycles over a historical window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().BackfillEvidence(cmd.Context(), app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, exclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Apply evidence in memory without writing to storage")
}
