// Package fatigue scores audience saturation per account and turns it into
// a volume factor for selection quotas.
package fatigue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/metrics"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/stats"
)

// Risk is the fatigue bucket.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Recommendation is the advisory volume direction.
type Recommendation string

const (
	RecommendReduce       Recommendation = "reduce"
	RecommendMaintain     Recommendation = "maintain"
	RecommendIncrease     Recommendation = "increase"
	RecommendInconclusive Recommendation = "inconclusive"
)

// Indicator and exclusion labels.
const (
	IndicatorUnlockDrop    = "unlock_rate_drop"
	IndicatorValueDrop     = "value_drop"
	IndicatorConsecutive   = "consecutive_underperformance"
	IndicatorPlatformDrop  = "platform_decline"
	ExclusionHoliday       = "holiday"
	ExclusionPlatformDrift = "platform_wide_decline"
)

const (
	unlockThreshold   = -0.15
	valueThreshold    = -0.20
	platformThreshold = -0.20
	valueWeight       = 0.40
	consecutiveWeight = 0.20
	platformWeight    = 0.10
	consecutiveDays   = 3
	highScore         = 0.6
	mediumScore       = 0.3
	scoreEpsilon      = 1e-9
)

var tierWeights = [...]float64{0.30, 0.25, 0.20, 0.15}

// TierWeight returns the unlock-drop weight for tier 1 (largest) to 4.
func TierWeight(tier int) float64 {
	if tier < 1 {
		tier = 1
	}
	if tier > len(tierWeights) {
		tier = len(tierWeights)
	}
	return tierWeights[tier-1]
}

// Classify maps a score to a risk bucket and volume factor. Boundary values
// belong to the higher-risk bucket.
func Classify(score float64) (Risk, float64) {
	switch {
	case score+scoreEpsilon >= highScore:
		return RiskHigh, 0.70
	case score+scoreEpsilon >= mediumScore:
		return RiskMedium, 0.85
	default:
		return RiskLow, 1.00
	}
}

// Scan is the stored result of one fatigue evaluation.
type Scan struct {
	AccountID        string
	Tier             int
	Day              time.Time
	Score            float64
	Risk             Risk
	VolumeFactor     float64
	UnlockDeviation  float64
	ValueDeviation   float64
	PlatformDev      float64
	ConsecutiveDays  int
	Indicators       []string
	ExclusionReasons []string
	Recommendation   Recommendation
	Significance     stats.WelchResult
	ComputedAt       time.Time
}

// HistorySource supplies account sends and platform-wide daily totals.
type HistorySource interface {
	ListMessages(ctx context.Context, account string, from, to time.Time) ([]model.MessageRecord, error)
	PlatformDaily(ctx context.Context, from, to time.Time) ([]DailyMetric, error)
}

// Sink persists scans and baselines.
type Sink interface {
	SaveBaselines(ctx context.Context, account string, baselines []model.Baseline) error
	SaveFatigueScan(ctx context.Context, scan Scan) error
}

// Alerter is told about HIGH risk scans.
type Alerter interface {
	FatigueRisk(ctx context.Context, scan Scan) error
}

// Options tune the monitor.
type Options struct {
	Lookback       time.Duration
	BaselineWindow time.Duration
	RecentWindow   time.Duration
	Holidays       []time.Time
	ReadTimeout    time.Duration
}

// Request selects the account, its size tier and the day to score.
type Request struct {
	Account string
	Tier    int
	Day     time.Time
}

// Monitor computes fatigue scans.
type Monitor struct {
	history  HistorySource
	sink     Sink
	alerter  Alerter
	opts     Options
	holidays map[time.Time]bool
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMonitor wires a Monitor. sink and alerter may be nil.
func NewMonitor(history HistorySource, sink Sink, alerter Alerter, opts Options, logger zerolog.Logger) *Monitor {
	if opts.Lookback <= 0 {
		opts.Lookback = 90 * 24 * time.Hour
	}
	if opts.BaselineWindow <= 0 {
		opts.BaselineWindow = 30 * 24 * time.Hour
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 7 * 24 * time.Hour
	}
	holidays := make(map[time.Time]bool, len(opts.Holidays))
	for _, h := range opts.Holidays {
		holidays[DayOf(h)] = true
	}
	return &Monitor{
		history:  history,
		sink:     sink,
		alerter:  alerter,
		opts:     opts,
		holidays: holidays,
		logger:   logger.With().Str("component", "fatigue").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Scan loads history, scores the day, recomputes baselines and persists the
// result.
func (m *Monitor) Scan(ctx context.Context, req Request) (Scan, error) {
	if req.Tier < 1 || req.Tier > len(tierWeights) {
		return Scan{}, fmt.Errorf("fatigue scan: tier %d out of range 1..%d", req.Tier, len(tierWeights))
	}
	day := DayOf(req.Day)
	from := day.Add(-m.opts.Lookback)
	to := day.Add(24 * time.Hour)

	readCtx, cancel := m.readContext(ctx)
	records, err := m.history.ListMessages(readCtx, req.Account, from, to)
	cancel()
	if err != nil {
		return Scan{}, apperr.FromContext(fmt.Errorf("load message history: %w", err), req.Account, "history")
	}

	readCtx, cancel = m.readContext(ctx)
	platform, err := m.history.PlatformDaily(readCtx, day.Add(-m.opts.BaselineWindow), to)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Scan{}, apperr.FromContext(fmt.Errorf("load platform totals: %w", err), req.Account, "platform")
		}
		m.logger.Warn().Err(err).Str("account", req.Account).Msg("platform totals unavailable; skipping platform indicator")
		platform = nil
	}

	scan := m.Evaluate(req.Account, req.Tier, day, Daily(records), platform)

	if m.sink != nil {
		baselines := ComputeBaselines(req.Account, records, day.Add(-m.opts.BaselineWindow), day, scan.ComputedAt)
		if err := m.sink.SaveBaselines(ctx, req.Account, baselines); err != nil {
			return scan, fmt.Errorf("save baselines: %w", err)
		}
		if err := m.sink.SaveFatigueScan(ctx, scan); err != nil {
			return scan, fmt.Errorf("save fatigue scan: %w", err)
		}
	}

	metrics.FatigueScore.WithLabelValues(req.Account).Set(scan.Score)
	metrics.FatigueScans.WithLabelValues(string(scan.Risk)).Inc()

	ev := m.logger.Info()
	if scan.Risk == RiskHigh {
		ev = m.logger.Warn()
	}
	ev.Str("account", req.Account).
		Int("tier", req.Tier).
		Time("day", day).
		Float64("score", scan.Score).
		Str("risk", string(scan.Risk)).
		Float64("volume_factor", scan.VolumeFactor).
		Str("recommendation", string(scan.Recommendation)).
		Strs("indicators", scan.Indicators).
		Strs("exclusions", scan.ExclusionReasons).
		Msg("fatigue scan complete")

	if scan.Risk == RiskHigh && m.alerter != nil {
		if err := m.alerter.FatigueRisk(ctx, scan); err != nil {
			m.logger.Error().Err(err).Str("account", req.Account).Msg("failed to dispatch fatigue alert")
		}
	}
	return scan, nil
}

// Evaluate scores one day from pre-aggregated daily metrics.
func (m *Monitor) Evaluate(account string, tier int, day time.Time, days map[time.Time]DailyMetric, platform []DailyMetric) Scan {
	day = DayOf(day)
	scan := Scan{AccountID: account, Tier: tier, Day: day, ComputedAt: m.now()}

	unlockDev, valueDev, ok := m.dayDeviation(days, day)
	scan.UnlockDeviation, scan.ValueDeviation = unlockDev, valueDev
	scan.ConsecutiveDays = m.consecutiveUnderperformance(days, day)
	scan.PlatformDev = m.platformDeviation(platform, day)

	holiday := m.holidays[day]
	if holiday {
		scan.ExclusionReasons = append(scan.ExclusionReasons, ExclusionHoliday)
	}
	// a platform-wide decline explains the account's own drop
	platformDrift := scan.PlatformDev < platformThreshold

	if ok && !holiday && !platformDrift {
		if unlockDev < unlockThreshold {
			scan.Score += TierWeight(tier)
			scan.Indicators = append(scan.Indicators, IndicatorUnlockDrop)
		}
		if valueDev < valueThreshold {
			scan.Score += valueWeight
			scan.Indicators = append(scan.Indicators, IndicatorValueDrop)
		}
		if scan.ConsecutiveDays >= consecutiveDays {
			scan.Score += consecutiveWeight
			scan.Indicators = append(scan.Indicators, IndicatorConsecutive)
		}
	}
	if platformDrift {
		scan.Score += platformWeight
		scan.Indicators = append(scan.Indicators, IndicatorPlatformDrop)
		scan.ExclusionReasons = append(scan.ExclusionReasons, ExclusionPlatformDrift)
	}

	scan.Risk, scan.VolumeFactor = Classify(scan.Score)
	scan.Significance = m.significance(days, day)
	scan.Recommendation = Recommend(scan.Risk, scan.Significance)
	return scan
}

// Recommend gates volume increases on a significant positive lift.
func Recommend(risk Risk, sig stats.WelchResult) Recommendation {
	if risk != RiskLow {
		return RecommendReduce
	}
	if !sig.Significant {
		return RecommendInconclusive
	}
	if sig.T > 0 && sig.Effect != stats.EffectNegligible {
		return RecommendIncrease
	}
	return RecommendMaintain
}

// dayDeviation compares day with the mean of the preceding baseline window.
func (m *Monitor) dayDeviation(days map[time.Time]DailyMetric, day time.Time) (unlock, value float64, ok bool) {
	cur, has := days[day]
	if !has || cur.Recipients <= 0 {
		return 0, 0, false
	}
	base := window(days, day.Add(-m.opts.BaselineWindow), day)
	if len(base) == 0 {
		return 0, 0, false
	}
	unlock = deviation(cur.UnlockRate(), meanOf(base, DailyMetric.UnlockRate))
	value = deviation(cur.ValuePerRecipient(), meanOf(base, DailyMetric.ValuePerRecipient))
	return unlock, value, true
}

func (m *Monitor) consecutiveUnderperformance(days map[time.Time]DailyMetric, day time.Time) int {
	n := 0
	for d := day; ; d = d.Add(-24 * time.Hour) {
		unlock, _, ok := m.dayDeviation(days, d)
		if !ok || unlock >= unlockThreshold {
			return n
		}
		n++
	}
}

func (m *Monitor) platformDeviation(platform []DailyMetric, day time.Time) float64 {
	if len(platform) == 0 {
		return 0
	}
	byDay := make(map[time.Time]DailyMetric, len(platform))
	for _, d := range platform {
		byDay[DayOf(d.Day)] = d
	}
	cur, ok := byDay[day]
	if !ok || cur.Recipients <= 0 {
		return 0
	}
	base := window(byDay, day.Add(-m.opts.BaselineWindow), day)
	return deviation(cur.UnlockRate(), meanOf(base, DailyMetric.UnlockRate))
}

// significance compares the recent window ending at day with the baseline
// window before it.
func (m *Monitor) significance(days map[time.Time]DailyMetric, day time.Time) stats.WelchResult {
	end := day.Add(24 * time.Hour)
	recentStart := end.Add(-m.opts.RecentWindow)
	recent := window(days, recentStart, end)
	base := window(days, recentStart.Add(-m.opts.BaselineWindow), recentStart)
	return stats.Welch(
		stats.Summarize(series(recent, DailyMetric.UnlockRate)),
		stats.Summarize(series(base, DailyMetric.UnlockRate)),
	)
}

func (m *Monitor) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.ReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.ReadTimeout)
}
