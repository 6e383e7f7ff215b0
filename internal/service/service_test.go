package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/lock"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/selection"
	"caption-scheduler/internal/stats"
)

var runDate = time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

type staticCatalog []model.Item

func (c staticCatalog) ListItems(context.Context, model.Scope) ([]model.Item, error) { return c, nil }

type staticRules map[string][]model.RestrictionRule

func (r staticRules) ListRules(_ context.Context, account string) ([]model.RestrictionRule, error) {
	return r[account], nil
}

type staticProfiles map[string]*model.AllowProfile

func (p staticProfiles) GetAllowProfile(_ context.Context, account string) (*model.AllowProfile, error) {
	return p[account], nil
}

type staticFatigue struct{ factor float64 }

func (f staticFatigue) LatestFatigueScan(context.Context, string) (*fatigue.Scan, error) {
	risk, _ := fatigue.Classify(0.7)
	return &fatigue.Scan{Risk: risk, VolumeFactor: f.factor}, nil
}

func bandit(account string, id int64, s, f float64) model.BanditStat {
	iv := stats.Wilson(s, f, 0.95)
	return model.BanditStat{
		ItemID: id, AccountID: account, Successes: s, Failures: f,
		ConfidenceLower: iv.Lower, ConfidenceUpper: iv.Upper, ExplorationBonus: iv.Bonus,
	}
}

type fixture struct {
	svc    *Service
	locker *lock.MemoryLocker
	audit  *candidate.MemoryAuditSink
}

func newFixture(t *testing.T, opts Options, profiles staticProfiles) fixture {
	t.Helper()
	items := staticCatalog{
		{ID: 1, Text: "A", Category: "tease", PriceTier: "mid", Scope: model.ScopeA, Active: true},
		{ID: 2, Text: "B", Category: "solo", PriceTier: "mid", Scope: model.ScopeA, Active: true},
		{ID: 3, Text: "C", Category: "blocked", PriceTier: "mid", Scope: model.ScopeA, Active: true},
	}
	rules := staticRules{"acct": {
		{ID: 1, AccountID: "acct", Scope: model.ScopeBoth, Enforcement: model.EnforcementHard, Category: "blocked", Active: true},
	}}

	store := evidence.NewMemoryStore(0.95)
	require.NoError(t, store.Swap(context.Background(), "acct", []model.BanditStat{
		bandit("acct", 1, 80, 20),
		bandit("acct", 2, 10, 10),
	}, runDate))

	locker := lock.NewMemoryLocker(lock.Options{Cooldown: 72 * time.Hour})
	audit := &candidate.MemoryAuditSink{}
	if profiles == nil {
		profiles = staticProfiles{}
	}
	opts.RestrictionsEnabled = true
	if opts.Policy == (selection.Options{}) {
		opts.Policy = selection.DefaultOptions()
	}
	svc := New(Deps{
		Pool:     candidate.NewPool(items, profiles, nil, candidate.PoolOptions{}, zerolog.Nop()),
		Filter:   candidate.NewFilter(rules, audit, nil, candidate.FilterOptions{}, zerolog.Nop()),
		Evidence: store,
		Locker:   locker,
	}, opts, zerolog.Nop())
	return fixture{svc: svc, locker: locker, audit: audit}
}

func TestEndToEndSelectionAndConflict(t *testing.T) {
	f := newFixture(t, Options{Seed: 11}, nil)
	req := RunRequest{Account: "acct", ScheduleID: "sched-1", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1}}

	res, err := f.svc.RunAccount(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, int64(1), res.Assignments[0].ItemID)
	assert.NotEmpty(t, f.audit.Entries())

	// same slot, different schedule, shared lock store
	req.ScheduleID = "sched-2"
	res2, err := f.svc.RunAccount(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.AssignmentConflict))
	assert.Empty(t, res2.Assignments)
	require.Len(t, res2.Failures, 1)

	assert.Len(t, f.locker.Active("acct"), 1)
}

func TestIdempotentRerunSameSchedule(t *testing.T) {
	f := newFixture(t, Options{Seed: 3}, nil)
	req := RunRequest{Account: "acct", ScheduleID: "sched-1", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1}}
	_, err := f.svc.RunAccount(context.Background(), req)
	require.NoError(t, err)

	res, err := f.svc.RunAccount(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Len(t, f.locker.Active("acct"), 1)
}

func TestHardBlockedItemNeverSelected(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		f := newFixture(t, Options{Seed: seed}, nil)
		res, err := f.svc.RunAccount(context.Background(), RunRequest{
			Account: "acct", ScheduleID: "s", Date: runDate, Hours: []int{9, 13}, Quotas: map[string]int{"mid": 2},
		})
		require.NoError(t, err)
		for _, a := range res.Assignments {
			assert.NotEqual(t, int64(3), a.ItemID)
		}
	}
}

func TestRetryExcludesCooldownItem(t *testing.T) {
	f := newFixture(t, Options{Seed: 5}, nil)
	held, err := f.locker.Lock(context.Background(), lock.Request{
		AccountID: "acct", ItemID: 1, SlotDate: runDate, SlotHour: 20, ScheduleID: "other",
	})
	require.NoError(t, err)
	require.True(t, held.Acquired)

	res, err := f.svc.RunAccount(context.Background(), RunRequest{
		Account: "acct", ScheduleID: "sched", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, int64(2), res.Assignments[0].ItemID)
}

func TestRetryBoundSurfacesPoolExhausted(t *testing.T) {
	f := newFixture(t, Options{Seed: 5, MaxAttempts: 1}, nil)
	_, err := f.locker.Lock(context.Background(), lock.Request{
		AccountID: "acct", ItemID: 1, SlotDate: runDate, SlotHour: 20, ScheduleID: "other",
	})
	require.NoError(t, err)

	_, err = f.svc.RunAccount(context.Background(), RunRequest{
		Account: "acct", ScheduleID: "sched", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.PoolExhausted, apperr.KindOf(err))
}

func TestCancelledRunReportsTimeout(t *testing.T) {
	f := newFixture(t, Options{Seed: 5}, nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.svc.RunAccount(ctx, RunRequest{
		Account: "acct", ScheduleID: "sched", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.TimeoutExceeded, apperr.KindOf(err))
	assert.Empty(t, f.locker.Active("acct"))
}

func TestRunManyIsolatesAccounts(t *testing.T) {
	profiles := staticProfiles{"empty": {
		AccountID:  "empty",
		Categories: map[model.Scope][]string{model.ScopeA: {"nothing-matches"}},
	}}
	f := newFixture(t, Options{Seed: 9, Workers: 2}, profiles)
	out := f.svc.RunMany(context.Background(), []RunRequest{
		{Account: "empty", ScheduleID: "s", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1}},
		{Account: "acct", ScheduleID: "s", Date: runDate, Hours: []int{9}, Quotas: map[string]int{"mid": 1}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, apperr.PoolExhausted, apperr.KindOf(out[0].Err))
	assert.NoError(t, out[1].Err)
	assert.Len(t, out[1].Result.Assignments, 1)
}

func TestFatigueShapesQuotas(t *testing.T) {
	f := newFixture(t, Options{Seed: 2, ShapeByFatigue: true}, nil)
	f.svc.deps.Fatigue = staticFatigue{factor: 0.70}

	res, err := f.svc.RunAccount(context.Background(), RunRequest{
		Account: "acct", ScheduleID: "s", Date: runDate, Hours: []int{9, 13}, Quotas: map[string]int{"mid": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.70, res.VolumeFactor)
	assert.Equal(t, map[string]int{"mid": 1}, res.Quotas)
	assert.Len(t, res.Assignments, 1)
}

func TestShapeQuotas(t *testing.T) {
	assert.Equal(t, map[string]int{"budget": 2, "mid": 1, "premium": 0},
		ShapeQuotas(map[string]int{"budget": 3, "mid": 1, "premium": 0}, 0.85))
	assert.Equal(t, map[string]int{"budget": 7}, ShapeQuotas(map[string]int{"budget": 10}, 0.70))
}

func TestLayoutSlots(t *testing.T) {
	slots, err := LayoutSlots(runDate.Add(15*time.Hour), []int{17, 9, 13}, map[string]int{"premium": 1, "budget": 2})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, "budget", slots[0].Tier)
	assert.Equal(t, 9, slots[0].Hour)
	assert.Equal(t, "budget", slots[1].Tier)
	assert.Equal(t, 13, slots[1].Hour)
	assert.Equal(t, "premium", slots[2].Tier)
	assert.Equal(t, runDate, slots[2].Date)

	_, err = LayoutSlots(runDate, []int{9}, map[string]int{"mid": 2})
	assert.Error(t, err)
	_, err = LayoutSlots(runDate, []int{9}, map[string]int{"mid": 0})
	assert.Error(t, err)
}
