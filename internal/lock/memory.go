package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"caption-scheduler/internal/model"
)

type slotKey struct {
	account string
	date    string
	hour    int
}

// MemoryLocker is an in-process Locker. The check and the insert happen
// under one mutex.
type MemoryLocker struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	byKey  map[string]model.Assignment
	bySlot map[slotKey]string
}

// NewMemoryLocker constructs an empty MemoryLocker.
func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{
		opts:   opts.WithDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		byKey:  make(map[string]model.Assignment),
		bySlot: make(map[slotKey]string),
	}
}

// Lock implements Locker.
func (m *MemoryLocker) Lock(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := req.Key()
	sk := slotKey{account: req.AccountID, date: req.SlotDate.UTC().Format("2006-01-02"), hour: req.SlotHour}

	m.mu.Lock()
	defer m.mu.Unlock()

	if holder, ok := m.bySlot[sk]; ok {
		existing := m.byKey[holder]
		if holder == key && existing.ScheduleID == req.ScheduleID {
			return Result{Acquired: true, Idempotent: true, Assignment: existing}, nil
		}
		return Result{Conflict: SlotTaken, HolderKey: holder, Assignment: existing}, nil
	}

	at := req.Slot().At()
	for k, a := range m.byKey {
		if !a.IsActive || a.AccountID != req.AccountID || a.ItemID != req.ItemID {
			continue
		}
		other := model.Slot{Date: a.SlotDate, Hour: a.SlotHour}.At()
		if absDuration(other.Sub(at)) < m.opts.Cooldown {
			return Result{Conflict: ItemCooldown, HolderKey: k, Assignment: a}, nil
		}
	}

	a := NewAssignment(req, m.opts.TTL, m.now())
	m.byKey[key] = a
	m.bySlot[sk] = key
	return Result{Acquired: true, Assignment: a}, nil
}

// DeactivateSchedule implements Locker.
func (m *MemoryLocker) DeactivateSchedule(_ context.Context, scheduleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, a := range m.byKey {
		if a.ScheduleID != scheduleID || !a.IsActive {
			continue
		}
		a.IsActive = false
		m.byKey[k] = a
		delete(m.bySlot, slotKey{account: a.AccountID, date: a.SlotDate.Format("2006-01-02"), hour: a.SlotHour})
		n++
	}
	return n, nil
}

// Active lists active assignments for account ordered by slot.
func (m *MemoryLocker) Active(account string) []model.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Assignment
	for _, a := range m.byKey {
		if a.IsActive && a.AccountID == account {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SlotDate.Equal(out[j].SlotDate) {
			return out[i].SlotDate.Before(out[j].SlotDate)
		}
		return out[i].SlotHour < out[j].SlotHour
	})
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
