package evidence

import (
	"context"
	"sort"
	"time"

	"caption-scheduler/internal/model"
)

// Snapshot is an immutable view of one account's statistics. Selection reads
// a snapshot for the whole run; updates replace it wholesale.
type Snapshot struct {
	Account string
	TakenAt time.Time
	level   float64
	stats   map[int64]model.BanditStat
}

// NewSnapshot copies stats into an immutable snapshot.
func NewSnapshot(account string, level float64, takenAt time.Time, all []model.BanditStat) *Snapshot {
	m := make(map[int64]model.BanditStat, len(all))
	for _, st := range all {
		m[st.ItemID] = st
	}
	return &Snapshot{Account: account, TakenAt: takenAt, level: level, stats: m}
}

// Get returns the stat for item, or the 1/1 prior when the key is absent.
func (s *Snapshot) Get(item int64) model.BanditStat {
	if s != nil {
		if st, ok := s.stats[item]; ok {
			return st
		}
	}
	account, level := "", 0.95
	if s != nil {
		account, level = s.Account, s.level
	}
	return Prior(account, item, level)
}

// Has reports whether item has recorded evidence.
func (s *Snapshot) Has(item int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.stats[item]
	return ok
}

// All returns every stored stat ordered by item id.
func (s *Snapshot) All() []model.BanditStat {
	if s == nil {
		return nil
	}
	out := make([]model.BanditStat, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Len returns the number of stored keys.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.stats)
}

// Store is the persistence boundary for bandit statistics.
type Store interface {
	// Snapshot returns the account's current statistics.
	Snapshot(ctx context.Context, account string) (*Snapshot, error)
	// Swap atomically replaces the account's statistics and advances its
	// history cursor. Readers see either the old or the new set.
	Swap(ctx context.Context, account string, stats []model.BanditStat, cursor time.Time) error
	// Cursor returns the end of the last applied history window.
	Cursor(ctx context.Context, account string) (time.Time, error)
}

// PartitionLocker grants single-writer access to one account partition.
type PartitionLocker interface {
	TryLockPartition(ctx context.Context, account string) (unlock func(), acquired bool, err error)
}

// Get is a point read of one (item, account) key.
func Get(ctx context.Context, store Store, item int64, account string) (model.BanditStat, error) {
	snap, err := store.Snapshot(ctx, account)
	if err != nil {
		return model.BanditStat{}, err
	}
	return snap.Get(item), nil
}
