package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"caption-scheduler/internal/app"
)

var (
	fatigueAccount string
	fatigueTier    int
	fatigueDate    string
)

var fatigueCmd = &cobra.Command{
	Use:   "run-fatigue-scan",
	Short: "Score audience fatigue for one account or every active account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fatigueTier < 0 || fatigueTier > 4 {
			return fmt.Errorf("--tier must be between 1 and 4")
		}
		day, err := parseDate(fatigueDate)
		if err != nil {
			return err
		}
		return getApp().RunFatigueScan(cmd.Context(), app.FatigueOptions{
			Account: fatigueAccount,
			Tier:    fatigueTier,
			Date:    day,
		})
	},
}

func init() {
	fatigueCmd.Flags().StringVar(&fatigueAccount, "account", "", "Account to scan; all active accounts when empty")
	fatigueCmd.Flags().IntVar(&fatigueTier, "tier", 0, "Size tier 1-4; defaults to the stored tier")
	fatigueCmd.Flags().StringVar(&fatigueDate, "date", "", "Day to score (YYYY-MM-DD, UTC); defaults to today")
}
