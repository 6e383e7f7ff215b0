package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/service"
)

// RunSelection runs one selection pass per account and prints the locked
// assignments. The returned error joins every failed account.
func (a *App) RunSelection(ctx context.Context, opts SelectionOptions) error {
	if len(opts.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := a.newLocker(ctx, store)
	if err != nil {
		return fmt.Errorf("open lock backend: %w", err)
	}
	defer closeLocker()

	svc, err := a.newSelection(store, locker)
	if err != nil {
		return err
	}
	hours := a.Config.ResolveSlotHours(opts.Hours)

	reqs := make([]service.RunRequest, 0, len(opts.Accounts))
	for _, account := range opts.Accounts {
		reqs = append(reqs, service.RunRequest{
			Account:    account,
			ScheduleID: opts.ScheduleID,
			Date:       opts.Date,
			Hours:      hours,
			Quotas:     opts.Quotas,
			TotalQuota: opts.TotalQuota,
		})
	}

	outcomes := svc.RunMany(ctx, reqs)
	writeOutcomes(a.Out, outcomes)

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

func writeOutcomes(out io.Writer, outcomes []service.AccountOutcome) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Account\tSlot\tItem\tStrategy\tConfidence\tKey\tStatus")
	for _, o := range outcomes {
		failures := append([]service.SlotFailure(nil), o.Result.Failures...)
		for _, as := range o.Result.Assignments {
			fmt.Fprintf(writer, "%s\t%s@%02d\t%d\t%s\t%.3f\t%s\t%s\n",
				as.AccountID,
				as.SlotDate.Format("2006-01-02"),
				as.SlotHour,
				as.ItemID,
				as.StrategyUsed,
				as.ConfidenceAtLock,
				as.Key,
				"locked",
			)
		}
		sort.Slice(failures, func(i, j int) bool { return failures[i].Slot.At().Before(failures[j].Slot.At()) })
		for _, f := range failures {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\t%s\n", o.Result.Account, f.Slot.Key(), apperr.KindOf(f.Err))
		}
		if len(o.Result.Assignments) == 0 && len(o.Result.Failures) == 0 && o.Err != nil {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\t%s\n", o.Result.Account, apperr.KindOf(o.Err))
		}
	}
	writer.Flush()
}
