// Package candidate builds and filters the per-account candidate set.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/model"
)

// DefaultRecentUseWindow is the recent-use exclusion lookback.
const DefaultRecentUseWindow = 30 * 24 * time.Hour

// Candidate is a catalog item flowing through the pipeline.
type Candidate struct {
	Item model.Item

	// Penalty is subtracted from the final score when SOFT rules match.
	Penalty   float64
	SoftRules []int64
}

// CatalogSource lists catalog items.
type CatalogSource interface {
	ListItems(ctx context.Context, scope model.Scope) ([]model.Item, error)
}

// AllowProfileSource returns an account's allow-list, or nil when none exists.
type AllowProfileSource interface {
	GetAllowProfile(ctx context.Context, account string) (*model.AllowProfile, error)
}

// UsageSource reports items sent by an account since a point in time.
type UsageSource interface {
	RecentItemUse(ctx context.Context, account string, since time.Time) (map[int64]time.Time, error)
}

// PoolOptions configure CandidatePool.
type PoolOptions struct {
	RecentUseWindow    time.Duration
	RecentUseExclusion bool
	ReadTimeout        time.Duration
}

// PoolRequest identifies the account, scope and items to leave out.
type PoolRequest struct {
	Account string
	Scope   model.Scope
	Now     time.Time
	Exclude map[int64]bool
}

// Pool builds the filterable candidate set for an account.
type Pool struct {
	catalog CatalogSource
	allow   AllowProfileSource
	usage   UsageSource
	opts    PoolOptions
	logger  zerolog.Logger
}

// NewPool constructs a Pool. allow and usage may be nil.
func NewPool(catalog CatalogSource, allow AllowProfileSource, usage UsageSource, opts PoolOptions, logger zerolog.Logger) *Pool {
	if opts.RecentUseWindow <= 0 {
		opts.RecentUseWindow = DefaultRecentUseWindow
	}
	return &Pool{
		catalog: catalog,
		allow:   allow,
		usage:   usage,
		opts:    opts,
		logger:  logger.With().Str("component", "candidate_pool").Logger(),
	}
}

// Build returns active, allowed, not-recently-used items ordered by id.
func (p *Pool) Build(ctx context.Context, req PoolRequest) ([]Candidate, error) {
	items, err := p.listItems(ctx, req)
	if err != nil {
		return nil, err
	}

	profile, err := p.allowProfile(ctx, req)
	if err != nil {
		return nil, err
	}

	used, err := p.recentUse(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		if !item.Active || item.Deleted {
			continue
		}
		if item.Scope != "" && item.Scope != req.Scope {
			continue
		}
		if req.Exclude[item.ID] {
			continue
		}
		if !profile.Allows(req.Scope, item) {
			continue
		}
		if _, ok := used[item.ID]; ok {
			continue
		}
		out = append(out, Candidate{Item: item})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ID < out[j].Item.ID })

	p.logger.Debug().
		Str("account", req.Account).
		Str("scope", string(req.Scope)).
		Int("catalog", len(items)).
		Int("recently_used", len(used)).
		Int("pool", len(out)).
		Msg("candidate pool built")
	return out, nil
}

func (p *Pool) listItems(ctx context.Context, req PoolRequest) ([]model.Item, error) {
	readCtx, cancel := withBudget(ctx, p.opts.ReadTimeout)
	defer cancel()
	items, err := p.catalog.ListItems(readCtx, req.Scope)
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("list catalog items: %w", err), req.Account, "catalog")
	}
	return items, nil
}

func (p *Pool) allowProfile(ctx context.Context, req PoolRequest) (*model.AllowProfile, error) {
	if p.allow == nil {
		return nil, nil
	}
	readCtx, cancel := withBudget(ctx, p.opts.ReadTimeout)
	defer cancel()
	profile, err := p.allow.GetAllowProfile(readCtx, req.Account)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.FromContext(fmt.Errorf("read allow profile: %w", err), req.Account, "allow_profile")
		}
		p.logger.Warn().Err(err).
			Str("account", req.Account).
			Str("error_kind", string(apperr.RestrictionSourceUnavailable)).
			Msg("allow profile unavailable; allowing all items")
		return nil, nil
	}
	return profile, nil
}

func (p *Pool) recentUse(ctx context.Context, req PoolRequest) (map[int64]time.Time, error) {
	if !p.opts.RecentUseExclusion || p.usage == nil {
		return nil, nil
	}
	readCtx, cancel := withBudget(ctx, p.opts.ReadTimeout)
	defer cancel()
	used, err := p.usage.RecentItemUse(readCtx, req.Account, req.Now.Add(-p.opts.RecentUseWindow))
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("read recent item use: %w", err), req.Account, "usage")
	}
	return used, nil
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}
