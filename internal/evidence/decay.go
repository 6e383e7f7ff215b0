// Package evidence maintains decayed bandit statistics per (item, account).
package evidence

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"caption-scheduler/internal/model"
	"caption-scheduler/internal/stats"
)

const (
	// PriorSuccesses and PriorFailures seed a key on first observation.
	PriorSuccesses = 1.0
	PriorFailures  = 1.0
	// DefaultCap bounds successes and failures.
	DefaultCap = 100.0
)

// Params controls the decayed merge.
type Params struct {
	Cap             float64
	HalfLifeCycles  float64
	ConfidenceLevel float64
}

// Decay returns the per-cycle multiplier 0.5^(1/H).
func (p Params) Decay() float64 {
	return DecayFactor(p.HalfLifeCycles)
}

func (p Params) limit() float64 {
	if p.Cap <= 0 {
		return DefaultCap
	}
	return p.Cap
}

// DecayFactor returns 0.5^(1/halfLife). A non-positive half-life disables decay.
func DecayFactor(halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, 1/halfLife)
}

// DecayedMerge applies one cycle: min(cap, v*decay + delta).
func DecayedMerge(v, delta, decay, limit float64) float64 {
	out := v*decay + delta
	if out > limit {
		out = limit
	}
	if out < 0 {
		out = 0
	}
	return out
}

// Observation is the aggregated evidence for one (item, account) in a cycle.
type Observation struct {
	ItemID     int64
	Successes  float64
	Failures   float64
	Sends      int64
	RateSum    float64
	ValueSum   float64
	Revenue    decimal.Decimal
	LastSentAt time.Time
}

// Prior returns the implicit statistic for an unseen key.
func Prior(account string, item int64, level float64) model.BanditStat {
	st := model.BanditStat{
		ItemID:       item,
		AccountID:    account,
		Successes:    PriorSuccesses,
		Failures:     PriorFailures,
		TotalRevenue: decimal.Zero,
	}
	refreshConfidence(&st, level)
	return st
}

// Merge folds obs into prev after decaying prev by one cycle.
// An Observation with no sends only decays.
func Merge(prev model.BanditStat, obs Observation, p Params, now time.Time) model.BanditStat {
	decay := p.Decay()
	limit := p.limit()

	next := prev
	next.Successes = DecayedMerge(prev.Successes, obs.Successes, decay, limit)
	next.Failures = DecayedMerge(prev.Failures, obs.Failures, decay, limit)

	if obs.Sends > 0 {
		oldN := float64(prev.TotalObservations)
		total := oldN + float64(obs.Sends)
		next.AvgConversionRate = (prev.AvgConversionRate*oldN + obs.RateSum) / total
		next.AvgExpectedValue = (prev.AvgExpectedValue*oldN + obs.ValueSum) / total
		next.TotalObservations = prev.TotalObservations + obs.Sends
		next.TotalRevenue = prev.TotalRevenue.Add(obs.Revenue)
		if !obs.LastSentAt.IsZero() && (next.LastUsedAt == nil || obs.LastSentAt.After(*next.LastUsedAt)) {
			ts := obs.LastSentAt
			next.LastUsedAt = &ts
		}
	}
	if now.After(next.LastUpdatedAt) {
		next.LastUpdatedAt = now
	}
	refreshConfidence(&next, p.ConfidenceLevel)
	return next
}

func refreshConfidence(st *model.BanditStat, level float64) {
	iv := stats.Wilson(st.Successes, st.Failures, level)
	st.ConfidenceLower = iv.Lower
	st.ConfidenceUpper = iv.Upper
	st.ExplorationBonus = iv.Bonus
}

// AssignPercentiles sets PerformancePercentile from the rank of each item's
// point estimate among the account's items.
func AssignPercentiles(all []model.BanditStat) {
	if len(all) == 0 {
		return
	}
	rates := make([]float64, len(all))
	for i, st := range all {
		rates[i] = pointEstimate(st)
	}
	sorted := append([]float64(nil), rates...)
	sort.Float64s(sorted)
	n := float64(len(all))
	for i := range all {
		atOrBelow := sort.Search(len(sorted), func(j int) bool { return sorted[j] > rates[i] })
		all[i].PerformancePercentile = 100 * float64(atOrBelow) / n
	}
}

func pointEstimate(st model.BanditStat) float64 {
	n := st.Evidence()
	if n <= 0 {
		return 0
	}
	return st.Successes / n
}
