package fatigue

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"caption-scheduler/internal/model"
)

// DailyMetric is one day of aggregated send outcomes.
type DailyMetric struct {
	Day         time.Time
	Sends       int64
	Recipients  int64
	Conversions int64
	Revenue     decimal.Decimal
}

// UnlockRate returns conversions per recipient for the day.
func (d DailyMetric) UnlockRate() float64 {
	if d.Recipients <= 0 {
		return 0
	}
	return float64(d.Conversions) / float64(d.Recipients)
}

// ValuePerRecipient returns revenue per recipient for the day.
func (d DailyMetric) ValuePerRecipient() float64 {
	if d.Recipients <= 0 {
		return 0
	}
	return d.Revenue.InexactFloat64() / float64(d.Recipients)
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Daily groups records by UTC day.
func Daily(records []model.MessageRecord) map[time.Time]DailyMetric {
	out := make(map[time.Time]DailyMetric)
	for _, r := range records {
		day := DayOf(r.SentAt)
		d := out[day]
		d.Day = day
		d.Sends++
		d.Recipients += r.Recipients
		d.Conversions += r.Conversions
		d.Revenue = d.Revenue.Add(r.Revenue)
		out[day] = d
	}
	return out
}

// window returns metrics for days in [from, to) that had sends, oldest first.
func window(days map[time.Time]DailyMetric, from, to time.Time) []DailyMetric {
	var out []DailyMetric
	for day, d := range days {
		if !day.Before(from) && day.Before(to) && d.Recipients > 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func meanOf(ds []DailyMetric, f func(DailyMetric) float64) float64 {
	if len(ds) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ds {
		sum += f(d)
	}
	return sum / float64(len(ds))
}

func series(ds []DailyMetric, f func(DailyMetric) float64) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = f(d)
	}
	return out
}

// deviation returns (current-base)/base, or 0 when there is no baseline.
func deviation(current, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (current - base) / base
}
