package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriticalValueBuckets(t *testing.T) {
	assert.Equal(t, 1.96, CriticalValue(30))
	assert.Equal(t, 1.96, CriticalValue(1000))
	assert.Equal(t, 2.086, CriticalValue(29.9))
	assert.Equal(t, 2.228, CriticalValue(10))
	assert.Equal(t, 2.571, CriticalValue(5))
	assert.Equal(t, 3.182, CriticalValue(4.99))
}

func TestWelchTSignificance(t *testing.T) {
	assert.True(t, WelchT(2.5, 35))
	assert.False(t, WelchT(1.9, 35))
	assert.False(t, WelchT(2.5, 4))
}

func TestWelchLargeSamples(t *testing.T) {
	res := Welch(Sample{Mean: 0.12, StdDev: 0.02, N: 40}, Sample{Mean: 0.10, StdDev: 0.02, N: 40})
	assert.Greater(t, res.DF, 30.0)
	assert.Equal(t, 1.96, res.Critical)
	assert.True(t, res.Significant)
	assert.InDelta(t, 1.0, res.CohensD, 1e-9)
	assert.Equal(t, EffectLarge, res.Effect)
}

func TestWelchDegenerate(t *testing.T) {
	res := Welch(Sample{Mean: 1, StdDev: 0, N: 1}, Sample{Mean: 0, StdDev: 1, N: 10})
	assert.False(t, res.Significant)

	flat := Welch(Sample{Mean: 2, StdDev: 0, N: 5}, Sample{Mean: 1, StdDev: 0, N: 5})
	assert.False(t, flat.Significant)
	assert.Equal(t, 0.0, flat.T)
}

func TestEffectLabel(t *testing.T) {
	assert.Equal(t, EffectNegligible, EffectLabel(0.1))
	assert.Equal(t, EffectSmall, EffectLabel(-0.2))
	assert.Equal(t, EffectMedium, EffectLabel(0.5))
	assert.Equal(t, EffectLarge, EffectLabel(0.8))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5.0, s.Mean, 1e-9)
	assert.InDelta(t, 2.138, s.StdDev, 0.001)
}
