package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"caption-scheduler/internal/app"
)

var (
	showAccount string
	showLimit   int
)

var showCmd = &cobra.Command{
	Use:   "show-assignments",
	Short: "Display active assignments for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAccount == "" {
			return fmt.Errorf("--account must be provided")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().ShowAssignments(cmd.Context(), app.ShowOptions{
			Account: showAccount,
			Limit:   showLimit,
		})
	},
}

var showBaselinesCmd = &cobra.Command{
	Use:   "show-baselines",
	Short: "Display the stored per (hour, weekday) fatigue baselines for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showAccount == "" {
			return fmt.Errorf("--account must be provided")
		}
		return getApp().ShowBaselines(cmd.Context(), app.ShowOptions{Account: showAccount})
	},
}

func init() {
	showCmd.Flags().StringVar(&showAccount, "account", "", "Account to display")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of assignments to display")
	showBaselinesCmd.Flags().StringVar(&showAccount, "account", "", "Account to display")
}
