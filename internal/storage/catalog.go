package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"caption-scheduler/internal/model"
	"caption-scheduler/internal/selection"
	"caption-scheduler/internal/service"
)

const (
	listItemsSQL = `SELECT
        item_id,
        caption_text,
        category,
        price_tier,
        scope,
        is_active,
        deleted_at IS NOT NULL
    FROM catalog_items
    WHERE scope = $1
    ORDER BY item_id;`

	listAllowProfileSQL = `SELECT
        scope,
        categories,
        price_tiers
    FROM allow_profiles
    WHERE account_id = $1;`

	recentItemUseSQL = `SELECT
        item_id,
        MAX(sent_at)
    FROM message_history
    WHERE account_id = $1
      AND sent_at >= $2
    GROUP BY item_id;`

	accountSegmentSQL = `SELECT segment FROM accounts WHERE account_id = $1;`

	recentCategoriesSQL = `SELECT
        c.category,
        COUNT(*)
    FROM message_history m
    JOIN catalog_items c ON c.item_id = m.item_id
    WHERE m.account_id = $1
      AND m.sent_at >= $2
    GROUP BY c.category;`

	listAccountsSQL = `SELECT
        account_id,
        segment,
        size_tier,
        is_active
    FROM accounts
    WHERE is_active
    ORDER BY account_id;`
)

// ListItems returns catalog captions for scope, including inactive rows so the
// pool can report what it dropped.
func (s *Store) ListItems(ctx context.Context, scope model.Scope) ([]model.Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listItemsSQL, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		var (
			item  model.Item
			scope string
		)
		if err := rows.Scan(&item.ID, &item.Text, &item.Category, &item.PriceTier, &scope, &item.Active, &item.Deleted); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Scope = model.Scope(scope)
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// GetAllowProfile returns the account's allow-lists, or nil when none exist.
func (s *Store) GetAllowProfile(ctx context.Context, account string) (*model.AllowProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listAllowProfileSQL, account)
	if err != nil {
		return nil, fmt.Errorf("get allow profile: %w", err)
	}
	defer rows.Close()

	profile := &model.AllowProfile{
		AccountID:  account,
		Categories: make(map[model.Scope][]string),
		PriceTiers: make(map[model.Scope][]string),
	}
	found := false
	for rows.Next() {
		var (
			scope      string
			categories []string
			tiers      []string
		)
		if err := rows.Scan(&scope, &categories, &tiers); err != nil {
			return nil, fmt.Errorf("scan allow profile: %w", err)
		}
		found = true
		profile.Categories[model.Scope(scope)] = categories
		profile.PriceTiers[model.Scope(scope)] = tiers
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if !found {
		return nil, nil
	}
	return profile, nil
}

// RecentItemUse returns the last send time per item since the given instant.
func (s *Store) RecentItemUse(ctx context.Context, account string, since time.Time) (map[int64]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, recentItemUseSQL, account, since)
	if err != nil {
		return nil, fmt.Errorf("recent item use: %w", err)
	}
	defer rows.Close()

	used := make(map[int64]time.Time)
	for rows.Next() {
		var (
			item int64
			last time.Time
		)
		if err := rows.Scan(&item, &last); err != nil {
			return nil, fmt.Errorf("scan recent item use: %w", err)
		}
		used[item] = last.UTC()
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return used, nil
}

// AccountProfile loads the behavioral segment and category usage since the
// given instant. Unknown accounts get the standard segment.
func (s *Store) AccountProfile(ctx context.Context, account string, since time.Time) (service.AccountProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return service.AccountProfile{}, err
	}

	profile := service.AccountProfile{Segment: selection.SegmentStandard, RecentCategories: make(map[string]int)}
	var segment string
	switch err := pool.QueryRow(ctx, accountSegmentSQL, account).Scan(&segment); {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return service.AccountProfile{}, fmt.Errorf("load account segment: %w", err)
	default:
		profile.Segment = selection.ParseSegment(segment)
	}

	rows, err := pool.Query(ctx, recentCategoriesSQL, account, since)
	if err != nil {
		return service.AccountProfile{}, fmt.Errorf("recent categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return service.AccountProfile{}, fmt.Errorf("scan recent category: %w", err)
		}
		profile.RecentCategories[model.NormalizeTier(category)] += count
	}
	if rows.Err() != nil {
		return service.AccountProfile{}, rows.Err()
	}
	return profile, nil
}

// ListAccounts returns the active accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]AccountRecord, 0)
	for rows.Next() {
		var rec AccountRecord
		if err := rows.Scan(&rec.ID, &rec.Segment, &rec.SizeTier, &rec.Active); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}
