package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/stats"
)

const (
	deleteBaselinesSQL = `DELETE FROM baselines WHERE account_id = $1;`

	insertBaselineSQL = `INSERT INTO baselines (
        account_id,
        hour_of_day,
        weekday,
        samples,
        unlock_rate_mean,
        unlock_rate_variance,
        value_mean,
        value_variance,
        computed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listBaselinesSQL = `SELECT
        hour_of_day,
        weekday,
        samples,
        unlock_rate_mean,
        unlock_rate_variance,
        value_mean,
        value_variance,
        computed_at
    FROM baselines
    WHERE account_id = $1
    ORDER BY weekday, hour_of_day;`

	fatigueScanColumns = `account_id,
        scan_day,
        size_tier,
        score,
        risk,
        volume_factor,
        unlock_deviation,
        value_deviation,
        platform_deviation,
        consecutive_days,
        indicators,
        exclusion_reasons,
        recommendation,
        t_stat,
        degrees_freedom,
        significant,
        cohens_d,
        effect,
        computed_at`

	upsertFatigueScanSQL = `INSERT INTO fatigue_scans (` + fatigueScanColumns + `
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
    )
    ON CONFLICT (account_id, scan_day) DO UPDATE
    SET
        size_tier          = EXCLUDED.size_tier,
        score              = EXCLUDED.score,
        risk               = EXCLUDED.risk,
        volume_factor      = EXCLUDED.volume_factor,
        unlock_deviation   = EXCLUDED.unlock_deviation,
        value_deviation    = EXCLUDED.value_deviation,
        platform_deviation = EXCLUDED.platform_deviation,
        consecutive_days   = EXCLUDED.consecutive_days,
        indicators         = EXCLUDED.indicators,
        exclusion_reasons  = EXCLUDED.exclusion_reasons,
        recommendation     = EXCLUDED.recommendation,
        t_stat             = EXCLUDED.t_stat,
        degrees_freedom    = EXCLUDED.degrees_freedom,
        significant        = EXCLUDED.significant,
        cohens_d           = EXCLUDED.cohens_d,
        effect             = EXCLUDED.effect,
        computed_at        = EXCLUDED.computed_at;`

	latestFatigueScanSQL = `SELECT ` + fatigueScanColumns + `
    FROM fatigue_scans
    WHERE account_id = $1
    ORDER BY scan_day DESC
    LIMIT 1;`
)

// SaveBaselines replaces the account's baselines.
func (s *Store) SaveBaselines(ctx context.Context, account string, baselines []model.Baseline) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteBaselinesSQL, account); err != nil {
			return fmt.Errorf("clear baselines: %w", err)
		}
		batch := &pgx.Batch{}
		for _, b := range baselines {
			batch.Queue(insertBaselineSQL,
				account,
				b.HourOfDay,
				int(b.Weekday),
				b.Samples,
				b.UnlockRateMean,
				b.UnlockRateVariance,
				b.ValueMean,
				b.ValueVariance,
				b.ComputedAt,
			)
		}
		return execBatch(ctx, tx, batch, "insert baselines")
	})
}

// ListBaselines returns the stored baselines for an account.
func (s *Store) ListBaselines(ctx context.Context, account string) ([]model.Baseline, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listBaselinesSQL, account)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	out := make([]model.Baseline, 0)
	for rows.Next() {
		b := model.Baseline{AccountID: account}
		var weekday int
		if err := rows.Scan(
			&b.HourOfDay,
			&weekday,
			&b.Samples,
			&b.UnlockRateMean,
			&b.UnlockRateVariance,
			&b.ValueMean,
			&b.ValueVariance,
			&b.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		b.Weekday = time.Weekday(weekday)
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveFatigueScan upserts the scan for its (account, day).
func (s *Store) SaveFatigueScan(ctx context.Context, scan fatigue.Scan) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, upsertFatigueScanSQL,
		scan.AccountID,
		fatigue.DayOf(scan.Day),
		scan.Tier,
		scan.Score,
		string(scan.Risk),
		scan.VolumeFactor,
		scan.UnlockDeviation,
		scan.ValueDeviation,
		scan.PlatformDev,
		scan.ConsecutiveDays,
		nonNil(scan.Indicators),
		nonNil(scan.ExclusionReasons),
		string(scan.Recommendation),
		scan.Significance.T,
		scan.Significance.DF,
		scan.Significance.Significant,
		scan.Significance.CohensD,
		string(scan.Significance.Effect),
		scan.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert fatigue scan: %w", err)
	}
	return nil
}

// LatestFatigueScan returns the most recent scan for the account, or nil.
func (s *Store) LatestFatigueScan(ctx context.Context, account string) (*fatigue.Scan, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		scan           fatigue.Scan
		risk           string
		recommendation string
		effect         string
	)
	err = pool.QueryRow(ctx, latestFatigueScanSQL, account).Scan(
		&scan.AccountID,
		&scan.Day,
		&scan.Tier,
		&scan.Score,
		&risk,
		&scan.VolumeFactor,
		&scan.UnlockDeviation,
		&scan.ValueDeviation,
		&scan.PlatformDev,
		&scan.ConsecutiveDays,
		&scan.Indicators,
		&scan.ExclusionReasons,
		&recommendation,
		&scan.Significance.T,
		&scan.Significance.DF,
		&scan.Significance.Significant,
		&scan.Significance.CohensD,
		&effect,
		&scan.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest fatigue scan: %w", err)
	}
	scan.Risk = fatigue.Risk(risk)
	scan.Recommendation = fatigue.Recommendation(recommendation)
	scan.Significance.Effect = stats.Effect(effect)
	scan.Significance.Critical = stats.CriticalValue(scan.Significance.DF)
	scan.Day = fatigue.DayOf(scan.Day)
	return &scan, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
