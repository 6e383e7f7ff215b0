package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"caption-scheduler/internal/model"
)

// ShowAssignments prints the account's active assignments in slot order.
func (a *App) ShowAssignments(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	assignments, err := store.ListActiveAssignments(ctx, opts.Account, opts.Limit)
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		fmt.Fprintln(a.Out, "no active assignments found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Slot (UTC)\tItem\tSchedule\tStrategy\tConfidence\tLocked\tExpires")
	for _, as := range assignments {
		fmt.Fprintf(
			writer,
			"%s@%02d\t%d\t%s\t%s\t%.3f\t%s\t%s\n",
			as.SlotDate.Format("2006-01-02"),
			as.SlotHour,
			as.ItemID,
			sanitizeInline(as.ScheduleID),
			as.StrategyUsed,
			as.ConfidenceAtLock,
			as.LockedAt.UTC().Format(time.RFC3339),
			as.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

// ShowBaselines prints the account's stored per (hour, weekday) baselines.
func (a *App) ShowBaselines(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	baselines, err := store.ListBaselines(ctx, opts.Account)
	if err != nil {
		return err
	}
	if len(baselines) == 0 {
		fmt.Fprintln(a.Out, "no baselines found; run fatigue-scan first")
		return nil
	}
	writeBaselines(a.Out, baselines)
	return nil
}

func writeBaselines(out io.Writer, baselines []model.Baseline) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Weekday\tHour\tSamples\tUnlock mean\tUnlock var\tValue mean\tValue var\tComputed")
	for _, b := range baselines {
		fmt.Fprintf(writer, "%s\t%02d\t%d\t%.4f\t%.6f\t%.4f\t%.6f\t%s\n",
			b.Weekday.String()[:3],
			b.HourOfDay,
			b.Samples,
			b.UnlockRateMean,
			b.UnlockRateVariance,
			b.ValueMean,
			b.ValueVariance,
			b.ComputedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
