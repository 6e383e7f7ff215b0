// Package stats holds the pure statistical helpers used by selection and
// fatigue analysis.
package stats

import "math"

// MinEvidence is the smallest sample size that yields a real interval.
const MinEvidence = 2.0

// Interval is a Wilson score interval plus the exploration bonus for n.
type Interval struct {
	Lower float64
	Upper float64
	Bonus float64
	// Insufficient is set when n < MinEvidence and the bounds were widened to [0,1].
	Insufficient bool
}

// Width returns Upper-Lower.
func (i Interval) Width() float64 { return i.Upper - i.Lower }

// ZScore maps a supported confidence level to its two-sided z value.
// Unknown levels fall back to 0.95.
func ZScore(level float64) float64 {
	switch {
	case almostEqual(level, 0.90):
		return 1.645
	case almostEqual(level, 0.99):
		return 2.576
	default:
		return 1.96
	}
}

// SupportedLevel reports whether level is one of 0.90, 0.95, 0.99.
func SupportedLevel(level float64) bool {
	return almostEqual(level, 0.90) || almostEqual(level, 0.95) || almostEqual(level, 0.99)
}

// Wilson computes the Wilson score interval for s successes and f failures.
// Counts are float64 because decayed evidence is fractional.
func Wilson(s, f, level float64) Interval {
	if s < 0 {
		s = 0
	}
	if f < 0 {
		f = 0
	}
	n := s + f
	bonus := ExplorationBonus(n)
	if n < MinEvidence {
		return Interval{Lower: 0, Upper: 1, Bonus: bonus, Insufficient: true}
	}

	z := ZScore(level)
	z2 := z * z
	p := s / n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	denom := 1 + z2/n

	lower := clamp01((center - margin) / denom)
	upper := clamp01((center + margin) / denom)
	if lower > upper {
		lower = upper
	}
	return Interval{Lower: lower, Upper: upper, Bonus: bonus}
}

// ExplorationBonus returns 1/sqrt(n+1).
func ExplorationBonus(n float64) float64 {
	if n < 0 {
		n = 0
	}
	return 1 / math.Sqrt(n+1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
