package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"caption-scheduler/internal/app"
)

var (
	selAccounts []string
	selSchedule string
	selQuotas   string
	selDate     string
	selHours    string
)

var selectionCmd = &cobra.Command{
	Use:   "run-selection",
	Short: "Select and lock caption assignments for one or more accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(selAccounts) == 0 {
			return fmt.Errorf("--account must be provided")
		}

		quotas, total, err := parseQuotas(selQuotas)
		if err != nil {
			return err
		}
		date, err := parseDate(selDate)
		if err != nil {
			return err
		}
		hours, err := parseHours(selHours)
		if err != nil {
			return err
		}

		schedule := selSchedule
		if schedule == "" {
			schedule = uuid.NewString()
		}

		return getApp().RunSelection(cmd.Context(), app.SelectionOptions{
			Accounts:   selAccounts,
			ScheduleID: schedule,
			Date:       date,
			Hours:      hours,
			Quotas:     quotas,
			TotalQuota: total,
		})
	},
}

func init() {
	selectionCmd.Flags().StringSliceVar(&selAccounts, "account", nil, "Account to schedule (repeatable)")
	selectionCmd.Flags().StringVar(&selSchedule, "schedule", "", "Schedule id; generated when empty")
	selectionCmd.Flags().StringVar(&selQuotas, "quotas", "total=3", `Tier quotas, "budget=2,mid=1" or "total=N"`)
	selectionCmd.Flags().StringVar(&selDate, "date", "", "Schedule date (YYYY-MM-DD, UTC); defaults to today")
	selectionCmd.Flags().StringVar(&selHours, "hours", "", "Comma separated slot hours; defaults to selection.slot_hours")
}
