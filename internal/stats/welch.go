package stats

import "math"

// Sample summarises one group for a two-sample comparison.
type Sample struct {
	Mean   float64
	StdDev float64
	N      int
}

// Effect labels Cohen's d magnitude.
type Effect string

const (
	EffectNegligible Effect = "negligible"
	EffectSmall      Effect = "small"
	EffectMedium     Effect = "medium"
	EffectLarge      Effect = "large"
)

// WelchResult is the outcome of a Welch's t-test.
type WelchResult struct {
	T           float64
	DF          float64
	Critical    float64
	Significant bool
	CohensD     float64
	Effect      Effect
}

// Welch compares group against baseline without assuming equal variances.
// Degenerate inputs (n<2 or zero combined variance) return a non-significant
// result rather than an error.
func Welch(group, baseline Sample) WelchResult {
	res := WelchResult{Critical: CriticalValue(0), Effect: EffectNegligible}
	if group.N < 2 || baseline.N < 2 {
		return res
	}

	n1, n2 := float64(group.N), float64(baseline.N)
	v1 := group.StdDev * group.StdDev / n1
	v2 := baseline.StdDev * baseline.StdDev / n2
	se2 := v1 + v2

	res.CohensD = CohensD(group, baseline)
	res.Effect = EffectLabel(res.CohensD)

	if se2 <= 0 {
		return res
	}

	res.T = (group.Mean - baseline.Mean) / math.Sqrt(se2)
	denom := v1*v1/(n1-1) + v2*v2/(n2-1)
	if denom > 0 {
		res.DF = se2 * se2 / denom
	}
	res.Critical = CriticalValue(res.DF)
	res.Significant = math.Abs(res.T) > res.Critical
	return res
}

// WelchT evaluates significance for a precomputed t statistic and df.
func WelchT(t, df float64) bool {
	return math.Abs(t) > CriticalValue(df)
}

// CriticalValue returns the two-sided 95% critical value for the df bucket.
func CriticalValue(df float64) float64 {
	switch {
	case df >= 30:
		return 1.96
	case df >= 20:
		return 2.086
	case df >= 10:
		return 2.228
	case df >= 5:
		return 2.571
	default:
		return 3.182
	}
}

// CohensD computes the standardized mean difference using pooled variance.
func CohensD(group, baseline Sample) float64 {
	n1, n2 := float64(group.N), float64(baseline.N)
	if n1+n2 <= 2 {
		return 0
	}
	pooled := ((n1-1)*group.StdDev*group.StdDev + (n2-1)*baseline.StdDev*baseline.StdDev) / (n1 + n2 - 2)
	if pooled <= 0 {
		return 0
	}
	return (group.Mean - baseline.Mean) / math.Sqrt(pooled)
}

// EffectLabel buckets |d| at 0.2/0.5/0.8.
func EffectLabel(d float64) Effect {
	d = math.Abs(d)
	switch {
	case d >= 0.8:
		return EffectLarge
	case d >= 0.5:
		return EffectMedium
	case d >= 0.2:
		return EffectSmall
	default:
		return EffectNegligible
	}
}

// Summarize returns the mean, sample standard deviation and count of xs.
func Summarize(xs []float64) Sample {
	var w Welford
	for _, x := range xs {
		w.Add(x)
	}
	return Sample{Mean: w.Mean(), StdDev: math.Sqrt(w.Variance()), N: w.Count()}
}

// Welford accumulates a running mean and sample variance.
type Welford struct {
	n    int
	mean float64
	m2   float64
}

// Add folds x into the accumulator.
func (w *Welford) Add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

func (w *Welford) Count() int { return w.n }
func (w *Welford) Mean() float64 { return w.mean }

// Variance returns the unbiased sample variance, or 0 below two samples.
func (w *Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n-1)
}
