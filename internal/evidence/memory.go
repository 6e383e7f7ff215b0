package evidence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"caption-scheduler/internal/model"
)

type memoryState struct {
	snapshots map[string]*Snapshot
	cursors   map[string]time.Time
}

// MemoryStore keeps statistics in process. Writers build a new state and
// publish it with a single pointer swap.
type MemoryStore struct {
	level float64
	state atomic.Pointer[memoryState]

	writeMu sync.Mutex
	partMu  sync.Mutex
	held    map[string]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(level float64) *MemoryStore {
	m := &MemoryStore{level: level, held: make(map[string]bool)}
	m.state.Store(&memoryState{snapshots: map[string]*Snapshot{}, cursors: map[string]time.Time{}})
	return m
}

// Snapshot implements Store.
func (m *MemoryStore) Snapshot(_ context.Context, account string) (*Snapshot, error) {
	st := m.state.Load()
	if snap, ok := st.snapshots[account]; ok {
		return snap, nil
	}
	return NewSnapshot(account, m.level, time.Now().UTC(), nil), nil
}

// Swap implements Store.
func (m *MemoryStore) Swap(_ context.Context, account string, stats []model.BanditStat, cursor time.Time) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.state.Load()
	next := &memoryState{
		snapshots: make(map[string]*Snapshot, len(cur.snapshots)+1),
		cursors:   make(map[string]time.Time, len(cur.cursors)+1),
	}
	for k, v := range cur.snapshots {
		next.snapshots[k] = v
	}
	for k, v := range cur.cursors {
		next.cursors[k] = v
	}
	next.snapshots[account] = NewSnapshot(account, m.level, time.Now().UTC(), stats)
	if cursor.After(next.cursors[account]) {
		next.cursors[account] = cursor
	}
	m.state.Store(next)
	return nil
}

// Cursor implements Store.
func (m *MemoryStore) Cursor(_ context.Context, account string) (time.Time, error) {
	return m.state.Load().cursors[account], nil
}

// Accounts lists accounts with stored statistics.
func (m *MemoryStore) Accounts() []string {
	st := m.state.Load()
	out := make([]string, 0, len(st.snapshots))
	for k := range st.snapshots {
		out = append(out, k)
	}
	return out
}

// TryLockPartition implements PartitionLocker.
func (m *MemoryStore) TryLockPartition(_ context.Context, account string) (func(), bool, error) {
	m.partMu.Lock()
	defer m.partMu.Unlock()
	if m.held[account] {
		return nil, false, nil
	}
	m.held[account] = true
	return func() {
		m.partMu.Lock()
		delete(m.held, account)
		m.partMu.Unlock()
	}, true, nil
}
