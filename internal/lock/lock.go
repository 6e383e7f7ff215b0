// Package lock reserves items for account slots with an atomic conditional
// write.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"caption-scheduler/internal/model"
)

const (
	DefaultCooldown = 72 * time.Hour
	DefaultTTL      = 24 * time.Hour
)

// ConflictReason explains a rejected lock.
type ConflictReason string

const (
	// SlotTaken means another assignment holds the (account, date, hour) slot.
	SlotTaken ConflictReason = "slot_taken"
	// ItemCooldown means the item is assigned to a nearby slot for the account.
	ItemCooldown ConflictReason = "item_cooldown"
)

// Request asks for one (account, item, slot) reservation.
type Request struct {
	AccountID  string
	ItemID     int64
	SlotDate   time.Time
	SlotHour   int
	ScheduleID string
	Strategy   string
	Confidence float64
}

// Slot returns the request's slot.
func (r Request) Slot() model.Slot {
	return model.Slot{Date: r.SlotDate, Hour: r.SlotHour}
}

// Key returns the deterministic assignment key.
func (r Request) Key() string {
	return Key(r.AccountID, r.ItemID, r.SlotDate, r.SlotHour)
}

// Result reports the outcome of a lock attempt. Acquired is true for a
// fresh reservation and for an idempotent retry by the same schedule.
type Result struct {
	Acquired   bool
	Idempotent bool
	Conflict   ConflictReason
	Assignment model.Assignment

	// HolderKey is the assignment key blocking the request.
	HolderKey string
}

// Locker is the AssignmentLock contract.
type Locker interface {
	Lock(ctx context.Context, req Request) (Result, error)
	DeactivateSchedule(ctx context.Context, scheduleID string) (int, error)
}

// Options shared by lockers.
type Options struct {
	Cooldown time.Duration
	TTL      time.Duration
}

// WithDefaults fills zero durations with the package defaults.
func (o Options) WithDefaults() Options {
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Key hashes (account, item, slot date, slot hour) into a stable hex key.
func Key(account string, item int64, date time.Time, hour int) string {
	h := sha256.New()
	h.Write([]byte(account))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(item, 10)))
	h.Write([]byte{0})
	h.Write([]byte(date.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(hour)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NewAssignment builds the active assignment a successful lock records.
func NewAssignment(req Request, ttl time.Duration, now time.Time) model.Assignment {
	slot := req.Slot()
	return model.Assignment{
		Key:              req.Key(),
		AccountID:        req.AccountID,
		ItemID:           req.ItemID,
		ScheduleID:       req.ScheduleID,
		SlotDate:         day(req.SlotDate),
		SlotHour:         req.SlotHour,
		IsActive:         true,
		LockedAt:         now,
		ExpiresAt:        slot.At().Add(ttl),
		StrategyUsed:     req.Strategy,
		ConfidenceAtLock: req.Confidence,
	}
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Validate rejects requests missing an account or schedule, or with an
// out-of-range hour.
func Validate(req Request) error {
	if req.AccountID == "" {
		return fmt.Errorf("lock request: account is required")
	}
	if req.ScheduleID == "" {
		return fmt.Errorf("lock request: schedule id is required")
	}
	if req.SlotHour < 0 || req.SlotHour > 23 {
		return fmt.Errorf("lock request: slot hour %d out of range", req.SlotHour)
	}
	return nil
}
