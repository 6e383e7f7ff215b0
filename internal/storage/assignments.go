package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/lock"
	"caption-scheduler/internal/model"
)

const (
	assignmentColumns = `assignment_key,
        account_id,
        item_id,
        schedule_id,
        slot_date,
        slot_hour,
        is_active,
        locked_at,
        expires_at,
        strategy_used,
        confidence_at_lock`

	accountXactLockSQL = `SELECT pg_advisory_xact_lock($1::int4, $2::int4);`

	slotHolderSQL = `SELECT ` + assignmentColumns + `
    FROM assignments
    WHERE account_id = $1
      AND slot_date = $2
      AND slot_hour = $3
      AND is_active
    LIMIT 1;`

	cooldownHolderSQL = `SELECT ` + assignmentColumns + `
    FROM assignments
    WHERE account_id = $1
      AND item_id = $2
      AND is_active
      AND abs(extract(epoch FROM (slot_at - $3::timestamptz))) < $4
    ORDER BY slot_at
    LIMIT 1;`

	insertAssignmentSQL = `INSERT INTO assignments (
        assignment_key,
        account_id,
        item_id,
        schedule_id,
        slot_date,
        slot_hour,
        slot_at,
        is_active,
        locked_at,
        expires_at,
        strategy_used,
        confidence_at_lock
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,TRUE,$8,$9,$10,$11
    )
    ON CONFLICT DO NOTHING
    RETURNING assignment_key;`

	deactivateScheduleSQL = `UPDATE assignments
    SET is_active = FALSE, deactivated_at = NOW()
    WHERE schedule_id = $1
      AND is_active;`

	listActiveAssignmentsSQL = `SELECT ` + assignmentColumns + `
    FROM assignments
    WHERE account_id = $1
      AND is_active
    ORDER BY slot_at
    LIMIT $2;`
)

// assignmentLockClass is the first key of the two-int advisory lock form.
// Postgres keeps that form apart from the single-bigint partition locks.
const assignmentLockClass int32 = 0x61736e67

// AssignmentLockKey 返回账户分配锁的 (class, key)。
// AssignmentLockKey returns the (class, key) pair of an account's assignment lock.
func AssignmentLockKey(account string) (int32, int32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(account))
	return assignmentLockClass, int32(h.Sum32())
}

// AssignmentLocker is the PostgreSQL lock.Locker. Each attempt runs in one
// transaction holding a per-account advisory lock; partial unique indexes on
// active rows back the slot and key invariants.
type AssignmentLocker struct {
	store *Store
	opts  lock.Options
}

// NewAssignmentLocker wraps the store as a lock.Locker.
func NewAssignmentLocker(store *Store, opts lock.Options) *AssignmentLocker {
	return &AssignmentLocker{store: store, opts: opts.WithDefaults()}
}

// Lock implements lock.Locker.
func (l *AssignmentLocker) Lock(ctx context.Context, req lock.Request) (lock.Result, error) {
	if err := lock.Validate(req); err != nil {
		return lock.Result{}, err
	}

	var res lock.Result
	err := l.store.inTx(ctx, func(tx pgx.Tx) error {
		class, key := AssignmentLockKey(req.AccountID)
		if _, err := tx.Exec(ctx, accountXactLockSQL, class, key); err != nil {
			return fmt.Errorf("lock account partition: %w", err)
		}

		slot := req.Slot()
		holder, found, err := queryAssignment(ctx, tx, slotHolderSQL, req.AccountID, dateOnly(req.SlotDate), req.SlotHour)
		if err != nil {
			return err
		}
		if found {
			if holder.Key == req.Key() && holder.ScheduleID == req.ScheduleID {
				res = lock.Result{Acquired: true, Idempotent: true, Assignment: holder}
				return nil
			}
			res = lock.Result{Conflict: lock.SlotTaken, HolderKey: holder.Key, Assignment: holder}
			return nil
		}

		holder, found, err = queryAssignment(ctx, tx, cooldownHolderSQL, req.AccountID, req.ItemID, slot.At(), l.opts.Cooldown.Seconds())
		if err != nil {
			return err
		}
		if found {
			res = lock.Result{Conflict: lock.ItemCooldown, HolderKey: holder.Key, Assignment: holder}
			return nil
		}

		a := lock.NewAssignment(req, l.opts.TTL, l.store.now())
		var insertedKey string
		err = tx.QueryRow(ctx, insertAssignmentSQL,
			a.Key,
			a.AccountID,
			a.ItemID,
			a.ScheduleID,
			a.SlotDate,
			a.SlotHour,
			slot.At(),
			a.LockedAt,
			a.ExpiresAt,
			a.StrategyUsed,
			a.ConfidenceAtLock,
		).Scan(&insertedKey)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// a writer outside the advisory lock won the unique index
			res = lock.Result{Conflict: lock.SlotTaken}
		case err != nil:
			return fmt.Errorf("insert assignment: %w", err)
		default:
			res = lock.Result{Acquired: true, Assignment: a}
		}
		return nil
	})
	if err != nil {
		return lock.Result{}, err
	}
	return res, nil
}

// DeactivateSchedule implements lock.Locker.
func (l *AssignmentLocker) DeactivateSchedule(ctx context.Context, scheduleID string) (int, error) {
	pool, err := l.store.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deactivateScheduleSQL, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("deactivate schedule: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveAssignments returns up to limit active assignments of account in
// slot order.
func (s *Store) ListActiveAssignments(ctx context.Context, account string, limit int) ([]model.Assignment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listActiveAssignmentsSQL, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}
	defer rows.Close()

	out := make([]model.Assignment, 0, limit)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func queryAssignment(ctx context.Context, tx pgx.Tx, query string, args ...interface{}) (model.Assignment, bool, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return model.Assignment{}, false, fmt.Errorf("query assignment: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return model.Assignment{}, false, rows.Err()
	}
	a, err := scanAssignment(rows)
	if err != nil {
		return model.Assignment{}, false, err
	}
	return a, true, nil
}

func scanAssignment(rows pgx.Rows) (model.Assignment, error) {
	var a model.Assignment
	if err := rows.Scan(
		&a.Key,
		&a.AccountID,
		&a.ItemID,
		&a.ScheduleID,
		&a.SlotDate,
		&a.SlotHour,
		&a.IsActive,
		&a.LockedAt,
		&a.ExpiresAt,
		&a.StrategyUsed,
		&a.ConfidenceAtLock,
	); err != nil {
		return model.Assignment{}, fmt.Errorf("scan assignment: %w", err)
	}
	a.SlotDate = dateOnly(a.SlotDate)
	a.LockedAt = a.LockedAt.UTC()
	a.ExpiresAt = a.ExpiresAt.UTC()
	return a, nil
}
