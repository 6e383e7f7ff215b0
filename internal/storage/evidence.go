package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/model"
)

const (
	listBanditStatsSQL = `SELECT
        item_id,
        successes,
        failures,
        total_observations,
        total_revenue::text,
        avg_conversion_rate,
        avg_expected_value,
        confidence_lower,
        confidence_upper,
        exploration_bonus,
        performance_percentile,
        last_used_at,
        last_updated_at
    FROM bandit_stats
    WHERE account_id = $1
    ORDER BY item_id;`

	deleteBanditStatsSQL = `DELETE FROM bandit_stats WHERE account_id = $1;`

	insertBanditStatSQL = `INSERT INTO bandit_stats (
        account_id,
        item_id,
        successes,
        failures,
        total_observations,
        total_revenue,
        avg_conversion_rate,
        avg_expected_value,
        confidence_lower,
        confidence_upper,
        exploration_bonus,
        performance_percentile,
        last_used_at,
        last_updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	upsertCursorSQL = `INSERT INTO evidence_cursors (account_id, applied_until, updated_at)
    VALUES ($1, $2, NOW())
    ON CONFLICT (account_id) DO UPDATE
    SET applied_until = EXCLUDED.applied_until,
        updated_at    = EXCLUDED.updated_at;`

	selectCursorSQL = `SELECT applied_until FROM evidence_cursors WHERE account_id = $1;`
)

// Snapshot reads every stat of the account in a single statement, so a
// concurrent Swap is seen either entirely or not at all.
func (s *Store) Snapshot(ctx context.Context, account string) (*evidence.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listBanditStatsSQL, account)
	if err != nil {
		return nil, fmt.Errorf("list bandit stats: %w", err)
	}
	defer rows.Close()

	all := make([]model.BanditStat, 0)
	for rows.Next() {
		st, err := scanBanditStat(rows, account)
		if err != nil {
			return nil, err
		}
		all = append(all, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return evidence.NewSnapshot(account, s.opts.ConfidenceLevel, s.now(), all), nil
}

// Swap replaces the account's stats and advances its cursor in one
// transaction.
func (s *Store) Swap(ctx context.Context, account string, all []model.BanditStat, cursor time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteBanditStatsSQL, account); err != nil {
			return fmt.Errorf("clear bandit stats: %w", err)
		}

		batch := &pgx.Batch{}
		for _, st := range all {
			batch.Queue(insertBanditStatSQL,
				account,
				st.ItemID,
				st.Successes,
				st.Failures,
				st.TotalObservations,
				st.TotalRevenue.String(),
				st.AvgConversionRate,
				st.AvgExpectedValue,
				st.ConfidenceLower,
				st.ConfidenceUpper,
				st.ExplorationBonus,
				st.PerformancePercentile,
				optionalTime(st.LastUsedAt),
				st.LastUpdatedAt,
			)
		}
		if err := execBatch(ctx, tx, batch, "insert bandit stats"); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, upsertCursorSQL, account, cursor.UTC()); err != nil {
			return fmt.Errorf("advance evidence cursor: %w", err)
		}
		return nil
	})
}

// Cursor returns the instant up to which history has been applied, or the
// zero time for a new account.
func (s *Store) Cursor(ctx context.Context, account string) (time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	if err := pool.QueryRow(ctx, selectCursorSQL, account).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read evidence cursor: %w", err)
	}
	return at.UTC(), nil
}

func scanBanditStat(rows pgx.Rows, account string) (model.BanditStat, error) {
	var (
		st         model.BanditStat
		revenueStr string
		lastUsed   *time.Time
	)
	if err := rows.Scan(
		&st.ItemID,
		&st.Successes,
		&st.Failures,
		&st.TotalObservations,
		&revenueStr,
		&st.AvgConversionRate,
		&st.AvgExpectedValue,
		&st.ConfidenceLower,
		&st.ConfidenceUpper,
		&st.ExplorationBonus,
		&st.PerformancePercentile,
		&lastUsed,
		&st.LastUpdatedAt,
	); err != nil {
		return model.BanditStat{}, fmt.Errorf("scan bandit stat: %w", err)
	}

	revenue, err := parseDecimal("total revenue", revenueStr)
	if err != nil {
		return model.BanditStat{}, err
	}
	st.AccountID = account
	st.TotalRevenue = revenue
	st.LastUpdatedAt = st.LastUpdatedAt.UTC()
	if lastUsed != nil {
		t := lastUsed.UTC()
		st.LastUsedAt = &t
	}
	return st, nil
}
