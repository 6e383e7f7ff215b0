package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/storage"
)

// RunFatigueScan scores one account, or every active account when none is
// given, and prints the scans.
func (a *App) RunFatigueScan(ctx context.Context, opts FatigueOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	monitor, err := a.newMonitor(store)
	if err != nil {
		return err
	}

	day := opts.Date
	if day.IsZero() {
		day = time.Now().UTC()
	}

	if opts.Account != "" {
		tier := opts.Tier
		if tier == 0 {
			if tier, err = storedTier(ctx, store, opts.Account); err != nil {
				return err
			}
		}
		scan, err := monitor.Scan(ctx, fatigue.Request{Account: opts.Account, Tier: tier, Day: day})
		if err != nil {
			return err
		}
		writeScans(a.Out, []fatigue.Scan{scan})
		return nil
	}

	scans, err := a.scanAll(ctx, store, monitor, day)
	writeScans(a.Out, scans)
	return err
}

// scanAll runs a fatigue scan for every active account in the worker pool.
func (a *App) scanAll(ctx context.Context, store *storage.Store, monitor *fatigue.Monitor, day time.Time) ([]fatigue.Scan, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		scans []fatigue.Scan
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.Config.Fatigue.Workers, 1))
	for _, acct := range accounts {
		g.Go(func() error {
			scan, err := monitor.Scan(gctx, fatigue.Request{Account: acct.ID, Tier: acct.SizeTier, Day: day})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
				return nil
			}
			scans = append(scans, scan)
			return nil
		})
	}
	_ = g.Wait()

	a.Logger.Info().Int("accounts", len(accounts)).Int("failed", len(errs)).Msg("fatigue scans complete")
	return scans, errors.Join(errs...)
}

// storedTier returns the account's recorded size tier, or 2 when the account
// has no row.
func storedTier(ctx context.Context, store *storage.Store, account string) (int, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	for _, acct := range accounts {
		if acct.ID == account {
			return acct.SizeTier, nil
		}
	}
	return 2, nil
}

func writeScans(out io.Writer, scans []fatigue.Scan) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Account\tDay\tTier\tScore\tRisk\tFactor\tRecommendation\tIndicators\tExclusions")
	for _, s := range scans {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%.3f\t%s\t%.2f\t%s\t%s\t%s\n",
			s.AccountID,
			s.Day.Format("2006-01-02"),
			s.Tier,
			s.Score,
			s.Risk,
			s.VolumeFactor,
			s.Recommendation,
			orDash(strings.Join(s.Indicators, ",")),
			orDash(strings.Join(s.ExclusionReasons, ",")),
		)
	}
	writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
