package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/scheduler"
)

// RunEvidenceUpdate applies one decayed batch cycle up to now.
func (a *App) RunEvidenceUpdate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	updater := a.newUpdater(store, store, store)
	res, err := updater.RunCycle(ctx, time.Now().UTC())
	fmt.Fprintf(a.Out, "accounts: %d\nupdated: %d\nskipped: %d\nfailed: %d\n", res.Accounts, res.Updated, res.Skipped, res.Failed)
	return err
}

// BackfillEvidence replays one cycle per evidence interval over (from, to].
// A dry run reads history but applies it to an in-memory store.
func (a *App) BackfillEvidence(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Evidence.Interval
	cycles := scheduler.Cycles(opts.From.UTC(), opts.To.UTC(), interval)
	if len(cycles) == 0 {
		return errors.New("backfill window holds no evidence cycle; check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	updater := a.newUpdater(store, store, store)
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: evidence is applied in memory only")
		mem := evidence.NewMemoryStore(a.Config.Evidence.ConfidenceLevel)
		updater = a.newUpdater(mem, store, mem)
	}

	var total evidence.CycleResult
	failedCycles := 0
	for _, cycle := range cycles {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := updater.RunCycle(ctx, cycle)
		total.Accounts += res.Accounts
		total.Updated += res.Updated
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		if err != nil {
			failedCycles++
			a.Logger.Error().Err(err).Time("cycle", cycle).Msg("backfill cycle failed")
		}
	}

	a.Logger.Info().
		Int("cycles", len(cycles)).
		Int("failed_cycles", failedCycles).
		Int("updated", total.Updated).
		Int("failed_accounts", total.Failed).
		Msg("evidence backfill complete")
	fmt.Fprintf(a.Out, "cycles: %d\nupdated: %d\nskipped: %d\nfailed: %d\n", len(cycles), total.Updated, total.Skipped, total.Failed)
	if failedCycles > 0 {
		return fmt.Errorf("%d of %d backfill cycles had failures; see log", failedCycles, len(cycles))
	}
	return nil
}
