package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/model"
)

const (
	messageColumns = `id,
        account_id,
        item_id,
        sent_at,
        recipients,
        opens,
        conversions,
        revenue::text`

	listHistoryAccountsSQL = `SELECT DISTINCT account_id FROM message_history ORDER BY account_id;`

	listMessagesSinceSQL = `SELECT ` + messageColumns + `
    FROM message_history
    WHERE account_id = $1
      AND sent_at > $2
      AND sent_at <= $3
    ORDER BY sent_at, id;`

	listMessagesBetweenSQL = `SELECT ` + messageColumns + `
    FROM message_history
    WHERE account_id = $1
      AND sent_at >= $2
      AND sent_at < $3
    ORDER BY sent_at, id;`

	platformDailySQL = `SELECT
        date_trunc('day', sent_at AT TIME ZONE 'UTC') AS day,
        COUNT(*)::bigint,
        COALESCE(SUM(recipients), 0)::bigint,
        COALESCE(SUM(conversions), 0)::bigint,
        COALESCE(SUM(revenue), 0)::text
    FROM message_history
    WHERE sent_at >= $1
      AND sent_at < $2
    GROUP BY 1
    ORDER BY 1;`
)

// ListHistoryAccounts returns every account with recorded sends.
func (s *Store) ListHistoryAccounts(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listHistoryAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("list history accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]string, 0)
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan history account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// ListMessagesSince returns sends with after < sent_at <= until.
func (s *Store) ListMessagesSince(ctx context.Context, account string, after, until time.Time) ([]model.MessageRecord, error) {
	return s.listMessages(ctx, listMessagesSinceSQL, account, after, until)
}

// ListMessages returns sends with from <= sent_at < to.
func (s *Store) ListMessages(ctx context.Context, account string, from, to time.Time) ([]model.MessageRecord, error) {
	return s.listMessages(ctx, listMessagesBetweenSQL, account, from, to)
}

func (s *Store) listMessages(ctx context.Context, query, account string, from, to time.Time) ([]model.MessageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, account, from, to)
	if err != nil {
		return nil, fmt.Errorf("list message history: %w", err)
	}
	defer rows.Close()

	records := make([]model.MessageRecord, 0)
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// PlatformDaily aggregates every account's sends per UTC day.
func (s *Store) PlatformDaily(ctx context.Context, from, to time.Time) ([]fatigue.DailyMetric, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, platformDailySQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("platform daily totals: %w", err)
	}
	defer rows.Close()

	days := make([]fatigue.DailyMetric, 0)
	for rows.Next() {
		var (
			d          fatigue.DailyMetric
			revenueStr string
		)
		if err := rows.Scan(&d.Day, &d.Sends, &d.Recipients, &d.Conversions, &revenueStr); err != nil {
			return nil, fmt.Errorf("scan platform day: %w", err)
		}
		revenue, err := parseDecimal("platform revenue", revenueStr)
		if err != nil {
			return nil, err
		}
		d.Day = fatigue.DayOf(d.Day)
		d.Revenue = revenue
		days = append(days, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return days, nil
}

func scanMessage(rows pgx.Rows) (model.MessageRecord, error) {
	var (
		rec        model.MessageRecord
		revenueStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.ItemID,
		&rec.SentAt,
		&rec.Recipients,
		&rec.Opens,
		&rec.Conversions,
		&revenueStr,
	); err != nil {
		return model.MessageRecord{}, fmt.Errorf("scan message record: %w", err)
	}
	revenue, err := parseDecimal("revenue", revenueStr)
	if err != nil {
		return model.MessageRecord{}, err
	}
	rec.SentAt = rec.SentAt.UTC()
	rec.Revenue = revenue
	return rec, nil
}
