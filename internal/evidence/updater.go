package evidence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/metrics"
	"caption-scheduler/internal/model"
)

// DefaultSuccessRate is the conversions-per-open ratio that counts a send as a success.
const DefaultSuccessRate = 0.05

// HistorySource is the message-history feed.
type HistorySource interface {
	ListHistoryAccounts(ctx context.Context) ([]string, error)
	// ListMessagesSince returns sends with after < sent_at <= until.
	ListMessagesSince(ctx context.Context, account string, after, until time.Time) ([]model.MessageRecord, error)
}

// UpdaterOptions configure the batch updater.
type UpdaterOptions struct {
	Params      Params
	SuccessRate float64
	ReadTimeout time.Duration
	Workers     int
}

// Updater runs the periodic decayed batch update.
type Updater struct {
	store   Store
	history HistorySource
	locker  PartitionLocker
	opts    UpdaterOptions
	logger  zerolog.Logger
	now     func() time.Time
}

// CycleResult summarises one RunCycle.
type CycleResult struct {
	Accounts int
	Updated  int
	Skipped  int
	Failed   int
}

// NewUpdater wires the updater. locker may be nil when a single process owns the store.
func NewUpdater(store Store, history HistorySource, locker PartitionLocker, opts UpdaterOptions, logger zerolog.Logger) *Updater {
	if opts.SuccessRate <= 0 {
		opts.SuccessRate = DefaultSuccessRate
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Updater{
		store:   store,
		history: history,
		locker:  locker,
		opts:    opts,
		logger:  logger.With().Str("component", "evidence").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle applies one decay cycle for every account in the history feed,
// consuming history up to until.
func (u *Updater) RunCycle(ctx context.Context, until time.Time) (CycleResult, error) {
	readCtx, cancel := u.readContext(ctx)
	accounts, err := u.history.ListHistoryAccounts(readCtx)
	cancel()
	if err != nil {
		return CycleResult{}, apperr.FromContext(fmt.Errorf("list history accounts: %w", err), "", "history")
	}
	sort.Strings(accounts)

	var (
		mu   sync.Mutex
		res  = CycleResult{Accounts: len(accounts)}
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Workers)
	for _, account := range accounts {
		g.Go(func() error {
			applied, err := u.UpdateAccount(gctx, account, until)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				errs = append(errs, err)
			case applied:
				res.Updated++
			default:
				res.Skipped++
			}
			// account failures are isolated
			return nil
		})
	}
	_ = g.Wait()

	u.logger.Info().
		Int("accounts", res.Accounts).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Time("until", until).
		Msg("evidence cycle finished")
	return res, errors.Join(errs...)
}

// UpdateAccount applies one cycle to a single account partition. It reports
// false when another writer holds the partition or the window is empty.
func (u *Updater) UpdateAccount(ctx context.Context, account string, until time.Time) (bool, error) {
	start := time.Now()
	log := u.logger.With().Str("account", account).Logger()

	if u.locker != nil {
		unlock, acquired, err := u.locker.TryLockPartition(ctx, account)
		if err != nil {
			metrics.EvidenceUpdates.WithLabelValues("error").Inc()
			return false, fmt.Errorf("lock evidence partition %s: %w", account, err)
		}
		if !acquired {
			log.Debug().Msg("skip account because partition lock held elsewhere")
			metrics.EvidenceUpdates.WithLabelValues("locked").Inc()
			return false, nil
		}
		defer unlock()
	}

	cursor, err := u.store.Cursor(ctx, account)
	if err != nil {
		metrics.EvidenceUpdates.WithLabelValues("error").Inc()
		return false, fmt.Errorf("read evidence cursor %s: %w", account, err)
	}
	if !until.After(cursor) {
		metrics.EvidenceUpdates.WithLabelValues("noop").Inc()
		return false, nil
	}

	readCtx, cancel := u.readContext(ctx)
	records, err := u.history.ListMessagesSince(readCtx, account, cursor, until)
	cancel()
	if err != nil {
		metrics.EvidenceUpdates.WithLabelValues("error").Inc()
		return false, apperr.FromContext(fmt.Errorf("list messages %s: %w", account, err), account, "history")
	}

	snap, err := u.store.Snapshot(ctx, account)
	if err != nil {
		metrics.EvidenceUpdates.WithLabelValues("error").Inc()
		return false, fmt.Errorf("load evidence snapshot %s: %w", account, err)
	}

	next := Apply(account, snap.All(), Aggregate(records, u.opts.SuccessRate), u.opts.Params, u.now())
	if err := ctx.Err(); err != nil {
		return false, apperr.FromContext(err, account, "evidence")
	}
	if err := u.store.Swap(ctx, account, next, until); err != nil {
		metrics.EvidenceUpdates.WithLabelValues("error").Inc()
		return false, fmt.Errorf("swap evidence %s: %w", account, err)
	}

	metrics.EvidenceUpdates.WithLabelValues("ok").Inc()
	metrics.EvidenceUpdateDuration.Observe(time.Since(start).Seconds())
	log.Debug().Int("records", len(records)).Int("items", len(next)).Msg("evidence partition updated")
	return true, nil
}

func (u *Updater) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.opts.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.opts.ReadTimeout)
}

// Aggregate folds send records into per-item observations.
func Aggregate(records []model.MessageRecord, successRate float64) map[int64]Observation {
	out := make(map[int64]Observation)
	for _, rec := range records {
		obs := out[rec.ItemID]
		obs.ItemID = rec.ItemID
		if IsSuccess(rec, successRate) {
			obs.Successes++
		} else {
			obs.Failures++
		}
		obs.Sends++
		obs.RateSum += rec.UnlockRate()
		obs.ValueSum += rec.ValuePerRecipient()
		obs.Revenue = obs.Revenue.Add(rec.Revenue)
		if rec.SentAt.After(obs.LastSentAt) {
			obs.LastSentAt = rec.SentAt
		}
		out[rec.ItemID] = obs
	}
	return out
}

// IsSuccess reports whether conversions/opens reached successRate.
func IsSuccess(rec model.MessageRecord, successRate float64) bool {
	if rec.Opens <= 0 {
		return false
	}
	return float64(rec.Conversions)/float64(rec.Opens) >= successRate
}

// Apply decays every existing stat by one cycle, merges new observations
// (seeding unseen items with the prior) and recomputes percentiles.
func Apply(account string, prev []model.BanditStat, obs map[int64]Observation, p Params, now time.Time) []model.BanditStat {
	seen := make(map[int64]bool, len(prev))
	out := make([]model.BanditStat, 0, len(prev)+len(obs))
	for _, st := range prev {
		seen[st.ItemID] = true
		out = append(out, Merge(st, obs[st.ItemID], p, now))
	}
	ids := make([]int64, 0, len(obs))
	for id := range obs {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		prior := Prior(account, id, p.ConfidenceLevel)
		out = append(out, Merge(prior, obs[id], Params{Cap: p.Cap, ConfidenceLevel: p.ConfidenceLevel}, now))
	}
	AssignPercentiles(out)
	return out
}
