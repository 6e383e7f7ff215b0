package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/model"
)

const (
	listRulesSQL = `SELECT
        rule_id,
        account_id,
        scope,
        enforcement,
        category,
        price_tier,
        keyword_pattern,
        item_id,
        is_active,
        effective_from,
        effective_to
    FROM restriction_rules
    WHERE account_id = $1
    ORDER BY rule_id;`

	flagEnabledSQL = `SELECT enabled FROM feature_flags WHERE name = $1;`

	insertAuditSQL = `INSERT INTO restriction_audit (
        id,
        run_id,
        account_id,
        item_id,
        rule_id,
        rule_type,
        rule_value,
        enforcement,
        pool_before,
        pool_after,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (id) DO NOTHING;`
)

// ListRules returns every restriction rule stored for the account, active or
// not. The filter decides effectiveness and validity.
func (s *Store) ListRules(ctx context.Context, account string) ([]model.RestrictionRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRulesSQL, account)
	if err != nil {
		return nil, fmt.Errorf("list restriction rules: %w", err)
	}
	defer rows.Close()

	rules := make([]model.RestrictionRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// RestrictionsEnabled reads the admin kill-switch. A missing row means on.
func (s *Store) RestrictionsEnabled(ctx context.Context) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var enabled bool
	if err := pool.QueryRow(ctx, flagEnabledSQL, FlagRestrictions).Scan(&enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("read restriction flag: %w", err)
	}
	return enabled, nil
}

// AppendAudit inserts audit entries in one transaction. Entries without an id
// get a fresh one.
func (s *Store) AppendAudit(ctx context.Context, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			id := e.ID
			if id == "" {
				id = uuid.NewString()
			}
			created := e.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			batch.Queue(insertAuditSQL,
				id,
				e.RunID,
				e.AccountID,
				e.ItemID,
				e.RuleID,
				string(e.RuleType),
				e.RuleValue,
				string(e.Enforcement),
				e.PoolBefore,
				e.PoolAfter,
				created,
			)
		}
		return execBatch(ctx, tx, batch, "append audit")
	})
}

func scanRule(rows pgx.Rows) (model.RestrictionRule, error) {
	var (
		rule        model.RestrictionRule
		scope       string
		enforcement string
		category    sql.NullString
		priceTier   sql.NullString
		keyword     sql.NullString
		item        sql.NullInt64
		from        sql.NullTime
		to          sql.NullTime
	)
	if err := rows.Scan(
		&rule.ID,
		&rule.AccountID,
		&scope,
		&enforcement,
		&category,
		&priceTier,
		&keyword,
		&item,
		&rule.Active,
		&from,
		&to,
	); err != nil {
		return model.RestrictionRule{}, fmt.Errorf("scan restriction rule: %w", err)
	}

	rule.Scope = model.Scope(scope)
	rule.Enforcement = model.Enforcement(enforcement)
	rule.Category = nullString(category)
	rule.PriceTier = nullString(priceTier)
	rule.KeywordPattern = nullString(keyword)
	if item.Valid {
		value := item.Int64
		rule.ItemID = &value
	}
	rule.EffectiveFrom = timePtr(from)
	rule.EffectiveTo = timePtr(to)
	return rule, nil
}
