package fatigue

import (
	"sort"
	"time"

	"caption-scheduler/internal/model"
	"caption-scheduler/internal/stats"
)

type baselineKey struct {
	hour    int
	weekday time.Weekday
}

// ComputeBaselines builds per (hour, weekday) rolling mean and variance of
// unlock rate and value per recipient from records in [from, to).
// The rows are persisted for operators and show-baselines; Evaluate scores
// against the daily mean of the same window, not against these cells.
func ComputeBaselines(account string, records []model.MessageRecord, from, to, now time.Time) []model.Baseline {
	unlock := make(map[baselineKey]*stats.Welford)
	value := make(map[baselineKey]*stats.Welford)
	for _, r := range records {
		if r.SentAt.Before(from) || !r.SentAt.Before(to) || r.Recipients <= 0 {
			continue
		}
		at := r.SentAt.UTC()
		k := baselineKey{hour: at.Hour(), weekday: at.Weekday()}
		if unlock[k] == nil {
			unlock[k] = &stats.Welford{}
			value[k] = &stats.Welford{}
		}
		unlock[k].Add(r.UnlockRate())
		value[k].Add(r.ValuePerRecipient())
	}

	out := make([]model.Baseline, 0, len(unlock))
	for k, u := range unlock {
		v := value[k]
		out = append(out, model.Baseline{
			AccountID:          account,
			HourOfDay:          k.hour,
			Weekday:            k.weekday,
			Samples:            u.Count(),
			UnlockRateMean:     u.Mean(),
			UnlockRateVariance: u.Variance(),
			ValueMean:          v.Mean(),
			ValueVariance:      v.Variance(),
			ComputedAt:         now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].HourOfDay < out[j].HourOfDay
	})
	return out
}
