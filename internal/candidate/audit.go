package candidate

import (
	"context"
	"sync"

	"caption-scheduler/internal/model"
)

// AuditSink is the append-only destination for filter decisions.
type AuditSink interface {
	AppendAudit(ctx context.Context, entries []model.AuditEntry) error
}

// MemoryAuditSink collects entries in process.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

// AppendAudit implements AuditSink.
func (m *MemoryAuditSink) AppendAudit(_ context.Context, entries []model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryAuditSink) Entries() []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEntry(nil), m.entries...)
}
