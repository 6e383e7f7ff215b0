package selection

import (
	"math"
	"sort"
	"strings"

	"caption-scheduler/internal/model"
)

// Segment is an account's behavioral spending segment.
type Segment string

const (
	SegmentBudget      Segment = "BUDGET"
	SegmentExploratory Segment = "EXPLORATORY"
	SegmentStandard    Segment = "STANDARD"
	SegmentPremium     Segment = "PREMIUM"
	SegmentLuxury      Segment = "LUXURY"
)

// Canonical price tiers.
const (
	TierBudget  = "budget"
	TierMid     = "mid"
	TierPremium = "premium"
)

// ParseSegment normalises a segment label; unknown values map to STANDARD.
func ParseSegment(v string) Segment {
	switch s := Segment(strings.ToUpper(strings.TrimSpace(v))); s {
	case SegmentBudget, SegmentExploratory, SegmentStandard, SegmentPremium, SegmentLuxury:
		return s
	}
	return SegmentStandard
}

var contextMultipliers = map[Segment]map[string]float64{
	SegmentBudget:      {TierBudget: 1.10, TierMid: 1.0, TierPremium: 0.90},
	SegmentExploratory: {TierBudget: 1.10, TierMid: 1.0, TierPremium: 0.90},
	SegmentPremium:     {TierBudget: 0.90, TierMid: 1.0, TierPremium: 1.10},
	SegmentLuxury:      {TierBudget: 0.85, TierMid: 1.0, TierPremium: 1.15},
}

// ContextMultiplier looks up the (segment, tier) multiplier; anything not in
// the table is 1.0.
func ContextMultiplier(seg Segment, tier string) float64 {
	if m, ok := contextMultipliers[seg][model.NormalizeTier(tier)]; ok {
		return m
	}
	return 1.0
}

var tierShares = map[Segment][3]float64{
	SegmentBudget:      {0.60, 0.30, 0.10},
	SegmentExploratory: {0.60, 0.30, 0.10},
	SegmentStandard:    {0.30, 0.45, 0.25},
	SegmentPremium:     {0.15, 0.35, 0.50},
	SegmentLuxury:      {0.15, 0.35, 0.50},
}

// TierDistribution splits total across budget/mid/premium for seg using the
// largest-remainder method, so the parts always sum to total.
func TierDistribution(seg Segment, total int) map[string]int {
	out := map[string]int{TierBudget: 0, TierMid: 0, TierPremium: 0}
	if total <= 0 {
		return out
	}
	shares, ok := tierShares[seg]
	if !ok {
		shares = tierShares[SegmentStandard]
	}
	tiers := []string{TierBudget, TierMid, TierPremium}
	type rem struct {
		idx  int
		frac float64
	}
	rems := make([]rem, 0, 3)
	assigned := 0
	for i, share := range shares {
		exact := share * float64(total)
		whole := int(math.Floor(exact))
		out[tiers[i]] = whole
		assigned += whole
		rems = append(rems, rem{idx: i, frac: exact - float64(whole)})
	}
	sort.SliceStable(rems, func(a, b int) bool {
		if rems[a].frac != rems[b].frac {
			return rems[a].frac > rems[b].frac
		}
		return shares[rems[a].idx] > shares[rems[b].idx]
	})
	for i := 0; assigned < total; i++ {
		out[tiers[rems[i%3].idx]]++
		assigned++
	}
	return out
}

// TierOrder lists quota tiers with canonical tiers first.
func TierOrder(quotas map[string]int) []string {
	rank := map[string]int{TierBudget: 0, TierMid: 1, TierPremium: 2}
	out := make([]string, 0, len(quotas))
	for tier := range quotas {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return out[i] < out[j]
	})
	return out
}

// Period is a coarse time-of-day bucket used for energy matching.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
	PeriodEvening   Period = "evening"
	PeriodLateNight Period = "late_night"
)

// PeriodForHour maps an hour of day to its Period.
func PeriodForHour(hour int) Period {
	switch {
	case hour >= 5 && hour <= 11:
		return PeriodMorning
	case hour >= 12 && hour <= 16:
		return PeriodAfternoon
	case hour >= 17 && hour <= 21:
		return PeriodEvening
	default:
		return PeriodLateNight
	}
}

var periodKeywords = map[Period][]string{
	PeriodMorning:   {"morning", "coffee", "wake", "sunrise", "breakfast"},
	PeriodAfternoon: {"afternoon", "lunch", "break", "sunny", "midday"},
	PeriodEvening:   {"evening", "tonight", "dinner", "sunset", "date night"},
	PeriodLateNight: {"late", "midnight", "bed", "can't sleep", "after dark"},
}

// EnergyMatch reports whether text mentions a keyword for the period.
func EnergyMatch(text string, p Period) bool {
	lower := strings.ToLower(text)
	for _, kw := range periodKeywords[p] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const (
	unusedCategoryBonus = 0.20
	overusePenaltyStep  = 0.15
	overusePenaltyCap   = 0.60
)

// DiversityBonus rewards categories not used recently and penalises
// repeated ones in proportion to recent use.
func DiversityBonus(category string, recent map[string]int) float64 {
	count := recent[model.NormalizeTier(category)]
	if count <= 0 {
		return unusedCategoryBonus
	}
	return -math.Min(overusePenaltyStep*float64(count), overusePenaltyCap)
}
