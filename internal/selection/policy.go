// Package selection ranks filtered candidates and fills per-tier quotas.
package selection

import (
	"math/rand"
	"sort"

	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/model"
)

// Strategy is the informational explore/exploit label.
type Strategy string

const (
	StrategyExplore  Strategy = "explore"
	StrategyExploit  Strategy = "exploit"
	StrategyBalanced Strategy = "balanced"
)

// Weights blend the three score components.
type Weights struct {
	Thompson  float64
	Diversity float64
	Value     float64
}

// DefaultWeights returns 0.70/0.15/0.15.
func DefaultWeights() Weights {
	return Weights{Thompson: 0.70, Diversity: 0.15, Value: 0.15}
}

// Options tune the policy.
type Options struct {
	ExploreRate float64
	Jitter      float64
	Weights     Weights
	EnergyBonus float64
}

const (
	DefaultExploreRate = 0.2
	DefaultJitter      = 0.1
	DefaultEnergyBonus = 0.05

	exploreEvidence = 10
	exploreWidth    = 0.3
	exploitLower    = 0.6
	exploitValue    = 0.5
)

// AccountContext carries the per-account inputs to scoring.
type AccountContext struct {
	Segment Segment

	// RecentCategories counts recent sends per normalised category.
	RecentCategories map[string]int
	SlotHour         int
}

// Input is one selection request.
type Input struct {
	Candidates []candidate.Candidate
	Evidence   *evidence.Snapshot
	Quotas     map[string]int
	Context    AccountContext
}

// Scored is a candidate with every scoring component exposed.
type Scored struct {
	Candidate  candidate.Candidate
	Stat       model.BanditStat
	Thompson   float64
	Diversity  float64
	NormValue  float64
	Multiplier float64
	Final      float64
	Strategy   Strategy
}

// Result holds the full ranking and the quota-bounded selection.
type Result struct {
	Ranked   map[string][]Scored
	Selected []Scored

	// Shortfall counts quota slots per tier that could not be filled.
	Shortfall map[string]int
}

// Policy is the Thompson-style ranking policy. It is not safe for
// concurrent use because it owns its random source.
type Policy struct {
	opts Options
	rng  *rand.Rand
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		ExploreRate: DefaultExploreRate,
		Jitter:      DefaultJitter,
		Weights:     DefaultWeights(),
		EnergyBonus: DefaultEnergyBonus,
	}
}

// NewPolicy builds a Policy drawing jitter from rng. A zero Weights value
// falls back to DefaultWeights.
func NewPolicy(opts Options, rng *rand.Rand) *Policy {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Policy{opts: opts, rng: rng}
}

// Select scores every candidate, ranks each tier by final score and takes
// the top quota per tier.
func (p *Policy) Select(in Input) Result {
	res := Result{Ranked: make(map[string][]Scored), Shortfall: make(map[string]int)}

	maxValue := 0.0
	for _, c := range in.Candidates {
		if v := in.Evidence.Get(c.Item.ID).AvgExpectedValue; v > maxValue {
			maxValue = v
		}
	}
	period := PeriodForHour(in.Context.SlotHour)

	for _, c := range in.Candidates {
		sc := p.score(c, in, maxValue, period)
		tier := c.Item.Tier()
		res.Ranked[tier] = append(res.Ranked[tier], sc)
	}
	for tier := range res.Ranked {
		ranked := res.Ranked[tier]
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Final != ranked[j].Final {
				return ranked[i].Final > ranked[j].Final
			}
			return ranked[i].Candidate.Item.ID < ranked[j].Candidate.Item.ID
		})
	}

	for _, tier := range TierOrder(in.Quotas) {
		want := in.Quotas[tier]
		if want <= 0 {
			continue
		}
		ranked := res.Ranked[model.NormalizeTier(tier)]
		take := min(want, len(ranked))
		res.Selected = append(res.Selected, ranked[:take]...)
		if take < want {
			res.Shortfall[tier] = want - take
		}
	}
	return res
}

func (p *Policy) score(c candidate.Candidate, in Input, maxValue float64, period Period) Scored {
	st := in.Evidence.Get(c.Item.ID)
	e := p.opts.ExploreRate

	jitter := (p.rng.Float64()*2 - 1) * p.opts.Jitter
	thompson := st.ConfidenceLower*(1-e) + st.ConfidenceUpper*e + jitter*st.ExplorationBonus

	diversity := DiversityBonus(c.Item.Category, in.Context.RecentCategories)
	if EnergyMatch(c.Item.Text, period) {
		diversity += p.opts.EnergyBonus
	}

	norm := 0.0
	if maxValue > 0 {
		norm = st.AvgExpectedValue / maxValue
	}

	mult := ContextMultiplier(in.Context.Segment, c.Item.Tier())
	w := p.opts.Weights
	final := (thompson*w.Thompson+diversity*w.Diversity+norm*w.Value)*mult - c.Penalty

	return Scored{
		Candidate:  c,
		Stat:       st,
		Thompson:   thompson,
		Diversity:  diversity,
		NormValue:  norm,
		Multiplier: mult,
		Final:      final,
		Strategy:   Classify(st, norm),
	}
}

// Classify labels a candidate for audit and telemetry.
func Classify(st model.BanditStat, normValue float64) Strategy {
	if st.Evidence() < exploreEvidence || st.ConfidenceUpper-st.ConfidenceLower > exploreWidth {
		return StrategyExplore
	}
	if st.ConfidenceLower >= exploitLower && normValue >= exploitValue {
		return StrategyExploit
	}
	return StrategyBalanced
}
