package fatigue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/model"
	"caption-scheduler/internal/stats"
)

var scanDay = time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

func rec(day time.Time, hour int, conversions int64, revenue int64) model.MessageRecord {
	return model.MessageRecord{
		AccountID:   "acct",
		SentAt:      day.Add(time.Duration(hour) * time.Hour),
		Recipients:  100,
		Opens:       50,
		Conversions: conversions,
		Revenue:     decimal.NewFromInt(revenue),
	}
}

// history builds 40 steady days followed by `low` underperforming days ending at scanDay.
func history(low int) []model.MessageRecord {
	var out []model.MessageRecord
	for i := 40; i >= 0; i-- {
		day := scanDay.AddDate(0, 0, -i)
		if i < low {
			out = append(out, rec(day, 9, 5, 50))
			continue
		}
		out = append(out, rec(day, 9, 10, 100))
	}
	return out
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		score  float64
		risk   Risk
		factor float64
	}{
		{score: 0.6, risk: RiskHigh, factor: 0.70},
		{score: 0.2 + 0.4, risk: RiskHigh, factor: 0.70},
		{score: 0.5999, risk: RiskMedium, factor: 0.85},
		{score: 0.3, risk: RiskMedium, factor: 0.85},
		{score: 0.2999, risk: RiskLow, factor: 1.00},
		{score: 0, risk: RiskLow, factor: 1.00},
	}
	for _, tt := range tests {
		risk, factor := Classify(tt.score)
		assert.Equal(t, tt.risk, risk, "score %v", tt.score)
		assert.Equal(t, tt.factor, factor, "score %v", tt.score)
	}
}

func TestTierWeight(t *testing.T) {
	assert.Equal(t, 0.30, TierWeight(1))
	assert.Equal(t, 0.25, TierWeight(2))
	assert.Equal(t, 0.20, TierWeight(3))
	assert.Equal(t, 0.15, TierWeight(4))
}

func newMonitor(holidays ...time.Time) *Monitor {
	return NewMonitor(nil, nil, nil, Options{Holidays: holidays}, zerolog.Nop())
}

func TestEvaluateSteadyIsLow(t *testing.T) {
	scan := newMonitor().Evaluate("acct", 1, scanDay, Daily(history(0)), nil)
	assert.Equal(t, RiskLow, scan.Risk)
	assert.Equal(t, 1.0, scan.VolumeFactor)
	assert.Zero(t, scan.Score)
	assert.Empty(t, scan.Indicators)
}

func TestEvaluateSingleBadDay(t *testing.T) {
	scan := newMonitor().Evaluate("acct", 1, scanDay, Daily(history(1)), nil)
	assert.InDelta(t, -0.5, scan.UnlockDeviation, 1e-9)
	assert.InDelta(t, -0.5, scan.ValueDeviation, 1e-9)
	assert.InDelta(t, 0.70, scan.Score, 1e-9)
	assert.Equal(t, RiskHigh, scan.Risk)
	assert.Equal(t, []string{IndicatorUnlockDrop, IndicatorValueDrop}, scan.Indicators)
	assert.Equal(t, RecommendReduce, scan.Recommendation)
}

func TestEvaluateConsecutiveDays(t *testing.T) {
	scan := newMonitor().Evaluate("acct", 4, scanDay, Daily(history(3)), nil)
	assert.Equal(t, 3, scan.ConsecutiveDays)
	assert.InDelta(t, 0.15+0.40+0.20, scan.Score, 1e-9)
	assert.Contains(t, scan.Indicators, IndicatorConsecutive)
}

func TestEvaluateHolidaySuppressesAccountIndicators(t *testing.T) {
	scan := newMonitor(scanDay.Add(5*time.Hour)).Evaluate("acct", 1, scanDay, Daily(history(3)), nil)
	assert.Zero(t, scan.Score)
	assert.Equal(t, RiskLow, scan.Risk)
	assert.Equal(t, []string{ExclusionHoliday}, scan.ExclusionReasons)
}

// platformDrop builds 30 steady platform days and a 30% drop on scanDay.
func platformDrop() []DailyMetric {
	var platform []DailyMetric
	for i := 30; i >= 0; i-- {
		conv := int64(1000)
		if i == 0 {
			conv = 700
		}
		platform = append(platform, DailyMetric{Day: scanDay.AddDate(0, 0, -i), Recipients: 10000, Conversions: conv})
	}
	return platform
}

func TestEvaluatePlatformDecline(t *testing.T) {
	scan := newMonitor().Evaluate("acct", 1, scanDay, Daily(history(0)), platformDrop())
	assert.InDelta(t, -0.3, scan.PlatformDev, 1e-9)
	assert.InDelta(t, 0.10, scan.Score, 1e-9)
	assert.Equal(t, []string{ExclusionPlatformDrift}, scan.ExclusionReasons)
	assert.Equal(t, RiskLow, scan.Risk)
}

func TestEvaluatePlatformDeclineSuppressesAccountIndicators(t *testing.T) {
	records := history(0)
	records[len(records)-1] = rec(scanDay, 9, 7, 70)

	scan := newMonitor().Evaluate("acct", 1, scanDay, Daily(records), platformDrop())
	assert.InDelta(t, -0.3, scan.UnlockDeviation, 1e-9)
	assert.InDelta(t, -0.3, scan.ValueDeviation, 1e-9)
	assert.InDelta(t, 0.10, scan.Score, 1e-9)
	assert.Equal(t, []string{IndicatorPlatformDrop}, scan.Indicators)
	assert.Equal(t, []string{ExclusionPlatformDrift}, scan.ExclusionReasons)
	assert.Equal(t, RiskLow, scan.Risk)
	assert.Equal(t, 1.0, scan.VolumeFactor)
}

func TestRecommend(t *testing.T) {
	up := stats.WelchResult{Significant: true, T: 3, Effect: stats.EffectLarge}
	flat := stats.WelchResult{Significant: true, T: 2.5, Effect: stats.EffectNegligible}
	down := stats.WelchResult{Significant: true, T: -3, Effect: stats.EffectLarge}
	assert.Equal(t, RecommendIncrease, Recommend(RiskLow, up))
	assert.Equal(t, RecommendMaintain, Recommend(RiskLow, flat))
	assert.Equal(t, RecommendMaintain, Recommend(RiskLow, down))
	assert.Equal(t, RecommendInconclusive, Recommend(RiskLow, stats.WelchResult{}))
	assert.Equal(t, RecommendReduce, Recommend(RiskMedium, up))
}

type fakeHistory struct{ records []model.MessageRecord }

func (f fakeHistory) ListMessages(_ context.Context, _ string, from, to time.Time) ([]model.MessageRecord, error) {
	var out []model.MessageRecord
	for _, r := range f.records {
		if !r.SentAt.Before(from) && r.SentAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (fakeHistory) PlatformDaily(context.Context, time.Time, time.Time) ([]DailyMetric, error) {
	return nil, nil
}

type memorySink struct {
	baselines []model.Baseline
	scans     []Scan
}

func (m *memorySink) SaveBaselines(_ context.Context, _ string, b []model.Baseline) error {
	m.baselines = b
	return nil
}

func (m *memorySink) SaveFatigueScan(_ context.Context, s Scan) error {
	m.scans = append(m.scans, s)
	return nil
}

type recordingAlerter struct{ scans []Scan }

func (r *recordingAlerter) FatigueRisk(_ context.Context, s Scan) error {
	r.scans = append(r.scans, s)
	return nil
}

func TestScanPersistsAndAlerts(t *testing.T) {
	sink := &memorySink{}
	alerter := &recordingAlerter{}
	m := NewMonitor(fakeHistory{records: history(1)}, sink, alerter, Options{}, zerolog.Nop())

	scan, err := m.Scan(context.Background(), Request{Account: "acct", Tier: 2, Day: scanDay.Add(13 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, scan.Risk)
	require.Len(t, sink.scans, 1)
	require.Len(t, alerter.scans, 1)
	require.NotEmpty(t, sink.baselines)
	for _, b := range sink.baselines {
		assert.Equal(t, 9, b.HourOfDay)
		assert.InDelta(t, 0.10, b.UnlockRateMean, 1e-9)
	}
}

func TestScanRejectsBadTier(t *testing.T) {
	m := NewMonitor(fakeHistory{}, nil, nil, Options{}, zerolog.Nop())
	_, err := m.Scan(context.Background(), Request{Account: "acct", Tier: 5, Day: scanDay})
	assert.Error(t, err)
}

func TestComputeBaselines(t *testing.T) {
	monday := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)
	records := []model.MessageRecord{
		rec(monday, 9, 10, 100),
		rec(monday.AddDate(0, 0, 7), 9, 20, 300),
		rec(monday, 21, 5, 10),
		rec(monday.AddDate(0, 0, 30), 9, 90, 900),
	}
	got := ComputeBaselines("acct", records, monday, monday.AddDate(0, 0, 14), scanDay)
	require.Len(t, got, 2)
	assert.Equal(t, time.Monday, got[0].Weekday)
	assert.Equal(t, 9, got[0].HourOfDay)
	assert.Equal(t, 2, got[0].Samples)
	assert.InDelta(t, 0.15, got[0].UnlockRateMean, 1e-9)
	assert.InDelta(t, 0.005, got[0].UnlockRateVariance, 1e-9)
	assert.InDelta(t, 2.0, got[0].ValueMean, 1e-9)
	assert.Equal(t, 21, got[1].HourOfDay)
}
