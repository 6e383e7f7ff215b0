package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/lock"
	"caption-scheduler/internal/metrics"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/selection"
)

// DefaultMaxAttempts bounds lock retries per slot.
const DefaultMaxAttempts = 3

// FlagSource reads the admin-surface restriction switch.
type FlagSource interface {
	RestrictionsEnabled(ctx context.Context) (bool, error)
}

// AccountProfile is the scoring context stored for an account.
type AccountProfile struct {
	Segment          selection.Segment
	RecentCategories map[string]int
}

// AccountSource loads an account's segment and recent category usage.
type AccountSource interface {
	AccountProfile(ctx context.Context, account string, since time.Time) (AccountProfile, error)
}

// FatigueSource returns the latest stored fatigue scan, or nil.
type FatigueSource interface {
	LatestFatigueScan(ctx context.Context, account string) (*fatigue.Scan, error)
}

// Options tune the selection engine.
type Options struct {
	Scope               model.Scope
	MaxAttempts         int
	RunTimeout          time.Duration
	ReadTimeout         time.Duration
	Workers             int
	RestrictionsEnabled bool
	RecentUseWindow     time.Duration
	ShapeByFatigue      bool
	Policy              selection.Options
	Seed                int64
}

// Deps are the collaborators of one engine. Flags, Accounts and Fatigue may be nil.
type Deps struct {
	Pool     *candidate.Pool
	Filter   *candidate.Filter
	Evidence evidence.Store
	Locker   lock.Locker
	Flags    FlagSource
	Accounts AccountSource
	Fatigue  FatigueSource
}

// RunRequest asks for assignments for one account.
type RunRequest struct {
	Account    string
	ScheduleID string
	Date       time.Time
	Hours      []int
	Quotas     map[string]int

	// TotalQuota, when positive, replaces Quotas with the segment's tier distribution.
	TotalQuota int
}

// SlotFailure is a slot that could not be assigned.
type SlotFailure struct {
	Slot model.Slot
	Err  error
}

// RunResult reports one account run.
type RunResult struct {
	Account      string
	RunID        string
	ScheduleID   string
	Quotas       map[string]int
	VolumeFactor float64
	Assignments  []model.Assignment
	Failures     []SlotFailure
	Duration     time.Duration
}

// Service runs the per-account selection pipeline.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the selection engine.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Scope == "" {
		opts.Scope = model.ScopeA
	}
	if opts.RecentUseWindow <= 0 {
		opts.RecentUseWindow = candidate.DefaultRecentUseWindow
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AccountOutcome pairs a run result with its error for RunMany.
type AccountOutcome struct {
	Result RunResult
	Err    error
}

// RunMany runs every request in the worker pool. A failing account never
// stops the others.
func (s *Service) RunMany(ctx context.Context, reqs []RunRequest) []AccountOutcome {
	out := make([]AccountOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.RunAccount(gctx, req)
			out[i] = AccountOutcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RunAccount executes pool, filter, policy and lock for every slot of one
// account. The returned error joins every slot failure.
func (s *Service) RunAccount(ctx context.Context, req RunRequest) (RunResult, error) {
	start := time.Now()
	res := RunResult{Account: req.Account, RunID: uuid.NewString(), ScheduleID: req.ScheduleID, VolumeFactor: 1}
	log := s.logger.With().
		Str("account", req.Account).
		Str("schedule_id", req.ScheduleID).
		Str("run_id", res.RunID).
		Logger()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	err := s.run(ctx, req, &res, log)
	res.Duration = time.Since(start)
	metrics.SelectionDuration.Observe(res.Duration.Seconds())

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		log.Error().Err(err).Str("error_kind", outcome).Int("assigned", len(res.Assignments)).Msg("selection run failed")
	} else {
		log.Info().Int("assigned", len(res.Assignments)).Dur("duration", res.Duration).Msg("selection run complete")
	}
	metrics.SelectionRuns.WithLabelValues(outcome).Inc()
	return res, err
}

func (s *Service) run(ctx context.Context, req RunRequest, res *RunResult, log zerolog.Logger) error {
	if req.Account == "" || req.ScheduleID == "" {
		return fmt.Errorf("run request: account and schedule id are required")
	}
	now := s.now()
	if req.Date.IsZero() {
		req.Date = now
	}

	// run-scoped inputs are read once and held for the whole pass
	enabled := s.restrictionsEnabled(ctx, log)
	profile, err := s.accountProfile(ctx, req.Account, now, log)
	if err != nil {
		return err
	}
	quotas := req.Quotas
	if req.TotalQuota > 0 {
		quotas = selection.TierDistribution(profile.Segment, req.TotalQuota)
	}
	quotas, res.VolumeFactor, err = s.shapeQuotas(ctx, req.Account, quotas, log)
	if err != nil {
		return err
	}
	res.Quotas = quotas

	snap, err := s.snapshot(ctx, req.Account)
	if err != nil {
		return err
	}

	slots, err := LayoutSlots(req.Date, req.Hours, quotas)
	if err != nil {
		return err
	}

	policy := selection.NewPolicy(s.opts.Policy, s.rngFor(req.Account))
	taken := make(map[int64]bool)
	var errs []error
	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			errs = append(errs, apperr.New(timeoutKind(err), req.Account, slot.Key(), err))
			break
		}
		a, err := s.fillSlot(ctx, req, slot, enabled, profile, snap, policy, taken, res.RunID, log)
		if err != nil {
			res.Failures = append(res.Failures, SlotFailure{Slot: slot, Err: err})
			errs = append(errs, err)
			if apperr.Is(err, apperr.TimeoutExceeded) {
				break
			}
			continue
		}
		taken[a.ItemID] = true
		res.Assignments = append(res.Assignments, a)
		metrics.SelectedByStrategy.WithLabelValues(a.StrategyUsed).Inc()
	}
	return errors.Join(errs...)
}

func (s *Service) fillSlot(
	ctx context.Context,
	req RunRequest,
	slot model.Slot,
	enabled bool,
	profile AccountProfile,
	snap *evidence.Snapshot,
	policy *selection.Policy,
	taken map[int64]bool,
	runID string,
	log zerolog.Logger,
) (model.Assignment, error) {
	exclude := make(map[int64]bool, len(taken))
	for id := range taken {
		exclude[id] = true
	}
	slotLog := log.With().Str("slot", slot.Key()).Str("tier", slot.Tier).Logger()

	var lastConflict lock.Result
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		pool, err := s.deps.Pool.Build(ctx, candidate.PoolRequest{
			Account: req.Account,
			Scope:   s.opts.Scope,
			Now:     s.now(),
			Exclude: exclude,
		})
		if err != nil {
			return model.Assignment{}, slotError(err, req.Account, slot)
		}
		if err := stageCheck(ctx, req.Account, slot); err != nil {
			return model.Assignment{}, err
		}

		filtered := candidate.FilterResult{Candidates: pool}
		if s.deps.Filter != nil {
			filtered, err = s.deps.Filter.Apply(ctx, candidate.FilterRequest{
				RunID:   runID,
				Account: req.Account,
				Scope:   s.opts.Scope,
				Now:     slot.At(),
				Enabled: enabled,
			}, pool)
			if err != nil {
				return model.Assignment{}, slotError(err, req.Account, slot)
			}
		}
		if err := stageCheck(ctx, req.Account, slot); err != nil {
			return model.Assignment{}, err
		}

		picked := policy.Select(selection.Input{
			Candidates: filtered.Candidates,
			Evidence:   snap,
			Quotas:     map[string]int{slot.Tier: 1},
			Context: selection.AccountContext{
				Segment:          profile.Segment,
				RecentCategories: profile.RecentCategories,
				SlotHour:         slot.Hour,
			},
		})
		if len(picked.Selected) == 0 {
			return model.Assignment{}, apperr.Newf(apperr.PoolExhausted, req.Account, slot.Key(),
				"no %s candidates left (pool %d, filtered %d, attempt %d)", slot.Tier, filtered.Before, filtered.After, attempt)
		}
		if err := stageCheck(ctx, req.Account, slot); err != nil {
			return model.Assignment{}, err
		}

		best := picked.Selected[0]
		lockRes, err := s.deps.Locker.Lock(ctx, lock.Request{
			AccountID:  req.Account,
			ItemID:     best.Candidate.Item.ID,
			SlotDate:   slot.Date,
			SlotHour:   slot.Hour,
			ScheduleID: req.ScheduleID,
			Strategy:   string(best.Strategy),
			Confidence: best.Stat.ConfidenceLower,
		})
		if err != nil {
			return model.Assignment{}, slotError(fmt.Errorf("lock assignment: %w", err), req.Account, slot)
		}
		if lockRes.Acquired {
			slotLog.Debug().
				Int64("item_id", best.Candidate.Item.ID).
				Str("strategy", string(best.Strategy)).
				Float64("score", best.Final).
				Bool("idempotent", lockRes.Idempotent).
				Int("attempt", attempt).
				Msg("slot assigned")
			return lockRes.Assignment, nil
		}

		metrics.LockConflicts.WithLabelValues(string(lockRes.Conflict)).Inc()
		lastConflict = lockRes
		if lockRes.Conflict == lock.SlotTaken {
			return model.Assignment{}, apperr.Newf(apperr.AssignmentConflict, req.Account, slot.Key(),
				"slot already held by assignment %s (schedule %s)", lockRes.HolderKey, lockRes.Assignment.ScheduleID)
		}
		slotLog.Warn().
			Int64("item_id", best.Candidate.Item.ID).
			Str("conflict", string(lockRes.Conflict)).
			Int("attempt", attempt).
			Msg("assignment conflict; retrying without item")
		exclude[best.Candidate.Item.ID] = true
	}

	return model.Assignment{}, apperr.Newf(apperr.PoolExhausted, req.Account, slot.Key(),
		"no lockable candidate after %d attempts (last conflict %s on %s)", s.opts.MaxAttempts, lastConflict.Conflict, lastConflict.HolderKey)
}

func (s *Service) restrictionsEnabled(ctx context.Context, log zerolog.Logger) bool {
	if !s.opts.RestrictionsEnabled {
		return false
	}
	if s.deps.Flags == nil {
		return true
	}
	readCtx, cancel := s.readContext(ctx)
	defer cancel()
	on, err := s.deps.Flags.RestrictionsEnabled(readCtx)
	if err != nil {
		log.Warn().Err(err).
			Str("error_kind", string(apperr.RestrictionSourceUnavailable)).
			Msg("restriction flag unavailable; restrictions off for this run")
		return false
	}
	return on
}

func (s *Service) accountProfile(ctx context.Context, account string, now time.Time, log zerolog.Logger) (AccountProfile, error) {
	if s.deps.Accounts == nil {
		return AccountProfile{Segment: selection.SegmentStandard}, nil
	}
	readCtx, cancel := s.readContext(ctx)
	defer cancel()
	p, err := s.deps.Accounts.AccountProfile(readCtx, account, now.Add(-s.opts.RecentUseWindow))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return AccountProfile{}, apperr.FromContext(fmt.Errorf("load account profile: %w", err), account, "account")
		}
		log.Warn().Err(err).Msg("account profile unavailable; using standard segment")
		return AccountProfile{Segment: selection.SegmentStandard}, nil
	}
	if p.Segment == "" {
		p.Segment = selection.SegmentStandard
	}
	return p, nil
}

func (s *Service) shapeQuotas(ctx context.Context, account string, quotas map[string]int, log zerolog.Logger) (map[string]int, float64, error) {
	if !s.opts.ShapeByFatigue || s.deps.Fatigue == nil {
		return quotas, 1, nil
	}
	readCtx, cancel := s.readContext(ctx)
	defer cancel()
	scan, err := s.deps.Fatigue.LatestFatigueScan(readCtx, account)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, apperr.FromContext(fmt.Errorf("load fatigue scan: %w", err), account, "fatigue")
		}
		log.Warn().Err(err).Msg("fatigue scan unavailable; quotas unchanged")
		return quotas, 1, nil
	}
	if scan == nil {
		return quotas, 1, nil
	}
	shaped := ShapeQuotas(quotas, scan.VolumeFactor)
	if scan.VolumeFactor != 1 {
		log.Info().
			Str("risk", string(scan.Risk)).
			Float64("volume_factor", scan.VolumeFactor).
			Interface("requested", quotas).
			Interface("shaped", shaped).
			Msg("quotas shaped by fatigue")
	}
	return shaped, scan.VolumeFactor, nil
}

func (s *Service) snapshot(ctx context.Context, account string) (*evidence.Snapshot, error) {
	readCtx, cancel := s.readContext(ctx)
	defer cancel()
	snap, err := s.deps.Evidence.Snapshot(readCtx, account)
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("load evidence snapshot: %w", err), account, "evidence")
	}
	return snap, nil
}

func (s *Service) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.ReadTimeout)
}

func (s *Service) rngFor(account string) *rand.Rand {
	seed := s.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(account))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// ShapeQuotas scales each tier by factor, flooring but keeping at least one
// slot for any tier that asked for one.
func ShapeQuotas(quotas map[string]int, factor float64) map[string]int {
	out := make(map[string]int, len(quotas))
	for tier, n := range quotas {
		if n <= 0 || factor <= 0 {
			out[tier] = 0
			continue
		}
		shaped := int(float64(n) * factor)
		if shaped < 1 {
			shaped = 1
		}
		out[tier] = shaped
	}
	return out
}

// LayoutSlots assigns quota tiers to hours in order, tier by tier.
func LayoutSlots(date time.Time, hours []int, quotas map[string]int) ([]model.Slot, error) {
	var tiers []string
	for _, tier := range selection.TierOrder(quotas) {
		for i := 0; i < quotas[tier]; i++ {
			tiers = append(tiers, model.NormalizeTier(tier))
		}
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no slots requested: all quotas are zero")
	}
	if len(hours) < len(tiers) {
		return nil, fmt.Errorf("need %d slot hours, got %d", len(tiers), len(hours))
	}
	sorted := append([]int(nil), hours...)
	sort.Ints(sorted)
	day := fatigue.DayOf(date)
	slots := make([]model.Slot, len(tiers))
	for i, tier := range tiers {
		slots[i] = model.Slot{Date: day, Hour: sorted[i], Tier: tier}
	}
	return slots, nil
}

func stageCheck(ctx context.Context, account string, slot model.Slot) error {
	if err := ctx.Err(); err != nil {
		return apperr.New(timeoutKind(err), account, slot.Key(), err)
	}
	return nil
}

func timeoutKind(err error) apperr.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.TimeoutExceeded
	}
	return apperr.Internal
}

func slotError(err error, account string, slot model.Slot) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Slot == "" {
			ae.Slot = slot.Key()
		}
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.TimeoutExceeded, account, slot.Key(), err)
	}
	return apperr.New(apperr.Internal, account, slot.Key(), err)
}
