package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/config"
	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/lock"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/service"
)

func TestWriteOutcomesListsAssignmentsAndFailures(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeOutcomes(&buf, []service.AccountOutcome{
		{
			Result: service.RunResult{
				Account: "acct",
				Assignments: []model.Assignment{{
					Key: "k1", AccountID: "acct", ItemID: 42, SlotDate: day, SlotHour: 9,
					StrategyUsed: "exploit", ConfidenceAtLock: 0.412,
				}},
				Failures: []service.SlotFailure{{
					Slot: model.Slot{Date: day, Hour: 20, Tier: "premium"},
					Err:  apperr.Newf(apperr.PoolExhausted, "acct", "2026-03-14@20", "empty"),
				}},
			},
		},
		{
			Result: service.RunResult{Account: "down"},
			Err:    apperr.New(apperr.TimeoutExceeded, "down", "", context.DeadlineExceeded),
		},
	})

	out := buf.String()
	assert.Contains(t, out, "2026-03-14@09")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "locked")
	assert.Contains(t, out, "PoolExhausted")
	assert.Contains(t, out, "TimeoutExceeded")
}

func TestWriteScansDashesEmptyLists(t *testing.T) {
	var buf bytes.Buffer
	writeScans(&buf, []fatigue.Scan{{
		AccountID:      "acct",
		Tier:           3,
		Day:            time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Score:          0.2,
		Risk:           fatigue.RiskLow,
		VolumeFactor:   1,
		Recommendation: fatigue.RecommendMaintain,
	}})
	out := buf.String()
	assert.Contains(t, out, "acct")
	assert.Contains(t, out, "2026-03-14")
	assert.Contains(t, out, " - ")
}

func TestWriteBaselinesListsCells(t *testing.T) {
	var buf bytes.Buffer
	writeBaselines(&buf, []model.Baseline{{
		AccountID:      "acct",
		HourOfDay:      9,
		Weekday:        time.Wednesday,
		Samples:        4,
		UnlockRateMean: 0.1,
		ValueMean:      1,
		ComputedAt:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "Wed")
	assert.Contains(t, out, "09")
	assert.Contains(t, out, "0.1000")
	assert.Contains(t, out, "2026-03-14T00:00:00Z")
}

func TestNewLockerMemoryBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Lock.Backend = config.LockBackendMemory
	cfg.Lock.Cooldown = 72 * time.Hour
	cfg.Lock.TTL = 24 * time.Hour
	a := NewApp(cfg, zerolog.Nop())

	locker, closeLocker, err := a.newLocker(context.Background(), nil)
	require.NoError(t, err)
	defer closeLocker()

	res, err := locker.Lock(context.Background(), lock.Request{
		AccountID:  "acct",
		ItemID:     1,
		SlotDate:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		SlotHour:   9,
		ScheduleID: "s1",
		Strategy:   "exploit",
	})
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestNewSelectionRejectsInvalidScope(t *testing.T) {
	cfg := &config.Config{}
	cfg.Selection.Scope = "BOTH"
	a := NewApp(cfg, zerolog.Nop())

	svc, err := a.newSelection(nil, lock.NewMemoryLocker(lock.Options{}))
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "selection.scope")
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	_, _, err := a.openStore(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestBackfillRejectsEmptyWindow(t *testing.T) {
	cfg := &config.Config{}
	cfg.Evidence.Interval = time.Hour
	a := NewApp(cfg, zerolog.Nop())
	from := time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)
	err := a.BackfillEvidence(context.Background(), BackfillOptions{From: from, To: from.Add(10 * time.Minute)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no evidence cycle")
}
