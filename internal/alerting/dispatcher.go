package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/fatigue"
)

// Dispatcher turns domain events into notifications, suppressing repeats of
// the same (kind, account) inside the cooldown.
type Dispatcher struct {
	notifier Notifier
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewDispatcher wires a notifier. A zero cooldown sends every event.
func NewDispatcher(notifier Notifier, cooldown time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		cooldown: cooldown,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		last:     make(map[string]time.Time),
	}
}

// FatigueRisk implements fatigue.Alerter.
func (d *Dispatcher) FatigueRisk(ctx context.Context, scan fatigue.Scan) error {
	fields := []Field{
		{Label: "Day", Value: scan.Day.Format("2006-01-02")},
		{Label: "Score", Value: fmt.Sprintf("%.3f", scan.Score)},
		{Label: "Risk", Value: string(scan.Risk)},
		{Label: "Volume factor", Value: fmt.Sprintf("%.2f", scan.VolumeFactor)},
		{Label: "Recommendation", Value: string(scan.Recommendation)},
	}
	if len(scan.Indicators) > 0 {
		fields = append(fields, Field{Label: "Indicators", Value: strings.Join(scan.Indicators, ", ")})
	}
	return d.send(ctx, Notification{
		Kind:    KindFatigue,
		Account: scan.AccountID,
		At:      scan.ComputedAt,
		Title:   "Audience fatigue risk",
		Fields:  fields,
	})
}

// RestrictionHealth implements candidate.HealthAlerter.
func (d *Dispatcher) RestrictionHealth(ctx context.Context, rep candidate.HealthReport) error {
	fields := []Field{
		{Label: "Run", Value: rep.RunID},
		{Label: "Scope", Value: string(rep.Scope)},
		{Label: "Pool", Value: fmt.Sprintf("%d -> %d (%.0f%% removed)", rep.Before, rep.After, rep.RemovedRatio()*100)},
	}
	if len(rep.TopRules) > 0 {
		fields = append(fields, Field{Label: "Top rules", Value: strings.Join(rep.TopRules, ", ")})
	}
	return d.send(ctx, Notification{
		Kind:    KindRestriction,
		Account: rep.Account,
		At:      d.now(),
		Title:   "Restrictions removing most of the pool",
		Fields:  fields,
	})
}

func (d *Dispatcher) send(ctx context.Context, note Notification) error {
	if d.notifier == nil {
		return nil
	}
	key := string(note.Kind) + "|" + note.Account
	now := d.now()

	d.mu.Lock()
	if last, ok := d.last[key]; ok && d.cooldown > 0 && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug().Str("kind", string(note.Kind)).Str("account", note.Account).Msg("alert suppressed by cooldown")
		return nil
	}
	d.last[key] = now
	d.mu.Unlock()

	if err := d.notifier.Notify(ctx, note); err != nil {
		d.mu.Lock()
		delete(d.last, key)
		d.mu.Unlock()
		return err
	}
	return nil
}

var (
	_ fatigue.Alerter         = (*Dispatcher)(nil)
	_ candidate.HealthAlerter = (*Dispatcher)(nil)
)
