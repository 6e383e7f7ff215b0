package candidate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"caption-scheduler/internal/apperr"
	"caption-scheduler/internal/metrics"
	"caption-scheduler/internal/model"
)

const (
	// DefaultSoftPenalty pushes a penalised item below every unpenalised one.
	DefaultSoftPenalty = 10.0
	// DefaultHealthWarnRatio flags rule sets removing more than this share of the pool.
	DefaultHealthWarnRatio = 0.8
)

// RuleSource lists an account's restriction rules.
type RuleSource interface {
	ListRules(ctx context.Context, account string) ([]model.RestrictionRule, error)
}

// HealthAlerter is told when rules remove too much of a pool.
type HealthAlerter interface {
	RestrictionHealth(ctx context.Context, report HealthReport) error
}

// HealthReport describes pool shrinkage for one filter pass.
type HealthReport struct {
	RunID    string
	Account  string
	Scope    model.Scope
	Before   int
	After    int
	TopRules []string
}

// RemovedRatio is the share of the pool removed by HARD rules.
func (h HealthReport) RemovedRatio() float64 {
	if h.Before == 0 {
		return 0
	}
	return float64(h.Before-h.After) / float64(h.Before)
}

// FilterOptions configure RestrictionFilter.
type FilterOptions struct {
	SoftPenalty     float64
	HealthWarnRatio float64
	ReadTimeout     time.Duration
}

// FilterRequest carries run-scoped inputs. Enabled is the kill-switch value
// read once at run start.
type FilterRequest struct {
	RunID   string
	Account string
	Scope   model.Scope
	Now     time.Time
	Enabled bool
}

// FilterResult reports the filtered pool and its shrinkage.
type FilterResult struct {
	Candidates []Candidate
	Before     int
	After      int
	Blocked    int
	Penalized  int
	Audit      []model.AuditEntry

	// Bypassed is set with a reason when the filter ran as a no-op.
	Bypassed  string
	Invalid   int
	Unhealthy bool
}

// Filter applies HARD and SOFT restriction rules.
type Filter struct {
	rules   RuleSource
	audit   AuditSink
	alerter HealthAlerter
	opts    FilterOptions
	logger  zerolog.Logger
}

// NewFilter constructs a Filter. audit and alerter may be nil.
func NewFilter(rules RuleSource, audit AuditSink, alerter HealthAlerter, opts FilterOptions, logger zerolog.Logger) *Filter {
	if opts.SoftPenalty <= 0 {
		opts.SoftPenalty = DefaultSoftPenalty
	}
	if opts.HealthWarnRatio <= 0 {
		opts.HealthWarnRatio = DefaultHealthWarnRatio
	}
	return &Filter{
		rules:   rules,
		audit:   audit,
		alerter: alerter,
		opts:    opts,
		logger:  logger.With().Str("component", "restriction_filter").Logger(),
	}
}

type compiledRule struct {
	rule    model.RestrictionRule
	kind    model.RuleType
	value   string
	pattern *regexp.Regexp
}

// Apply filters cands. Source failures fail open; only a read budget
// overrun is returned as an error.
func (f *Filter) Apply(ctx context.Context, req FilterRequest, cands []Candidate) (FilterResult, error) {
	res := FilterResult{Candidates: cands, Before: len(cands), After: len(cands)}
	log := f.logger.With().Str("account", req.Account).Str("run_id", req.RunID).Logger()

	if !req.Enabled || f.rules == nil {
		res.Bypassed = "disabled"
		metrics.RestrictionFailOpen.WithLabelValues(res.Bypassed).Inc()
		return res, nil
	}

	readCtx, cancel := withBudget(ctx, f.opts.ReadTimeout)
	rules, err := f.rules.ListRules(readCtx, req.Account)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return res, apperr.FromContext(fmt.Errorf("list restriction rules: %w", err), req.Account, "restrictions")
		}
		log.Warn().Err(err).
			Str("error_kind", string(apperr.RestrictionSourceUnavailable)).
			Msg("restriction source unavailable; continuing without restrictions")
		res.Bypassed = "unavailable"
		metrics.RestrictionFailOpen.WithLabelValues(res.Bypassed).Inc()
		return res, nil
	}

	hard, soft := f.compile(rules, req, &res, log)
	if len(hard) == 0 && len(soft) == 0 {
		res.Bypassed = "no_rules"
		return res, nil
	}

	kept := make([]Candidate, 0, len(cands))
	pool := len(cands)
	hits := make(map[string]int)
	for _, c := range cands {
		if r, ok := firstMatch(hard, c.Item); ok {
			res.Audit = append(res.Audit, f.entry(req, c.Item, r, pool, pool-1))
			pool--
			res.Blocked++
			hits[ruleLabel(r)]++
			metrics.RestrictionBlocks.WithLabelValues(string(model.EnforcementHard), string(r.kind)).Inc()
			continue
		}
		for _, r := range soft {
			if !r.matches(c.Item) {
				continue
			}
			res.Audit = append(res.Audit, f.entry(req, c.Item, r, pool, pool))
			c.SoftRules = append(c.SoftRules, r.rule.ID)
			metrics.RestrictionBlocks.WithLabelValues(string(model.EnforcementSoft), string(r.kind)).Inc()
		}
		if len(c.SoftRules) > 0 {
			c.Penalty = f.opts.SoftPenalty
			res.Penalized++
		}
		kept = append(kept, c)
	}
	res.Candidates = kept
	res.After = len(kept)

	f.appendAudit(ctx, res.Audit, log)

	report := HealthReport{RunID: req.RunID, Account: req.Account, Scope: req.Scope, Before: res.Before, After: res.After, TopRules: topRules(hits, 3)}
	if report.RemovedRatio() > f.opts.HealthWarnRatio {
		res.Unhealthy = true
		metrics.RestrictionHealthWarnings.Inc()
		log.Warn().
			Int("pool_before", res.Before).
			Int("pool_after", res.After).
			Float64("removed_ratio", report.RemovedRatio()).
			Strs("top_rules", report.TopRules).
			Msg("restriction rules removed most of the candidate pool")
		if f.alerter != nil {
			if err := f.alerter.RestrictionHealth(ctx, report); err != nil {
				log.Error().Err(err).Msg("failed to dispatch restriction health alert")
			}
		}
	}

	log.Debug().
		Int("pool_before", res.Before).
		Int("pool_after", res.After).
		Int("blocked", res.Blocked).
		Int("penalized", res.Penalized).
		Msg("restriction filter applied")
	return res, nil
}

func (f *Filter) compile(rules []model.RestrictionRule, req FilterRequest, res *FilterResult, log zerolog.Logger) (hard, soft []compiledRule) {
	for _, rule := range rules {
		if rule.Scope != "" && !rule.Scope.Covers(req.Scope) {
			continue
		}
		if !rule.EffectiveAt(req.Now) {
			continue
		}
		cr, err := compileRule(rule)
		if err != nil {
			res.Invalid++
			log.Warn().Err(err).
				Int64("rule_id", rule.ID).
				Str("error_kind", string(apperr.InvalidRuleConfiguration)).
				Msg("skipping malformed restriction rule")
			continue
		}
		switch rule.Enforcement {
		case model.EnforcementHard:
			hard = append(hard, cr)
		case model.EnforcementSoft:
			soft = append(soft, cr)
		}
	}
	return hard, soft
}

func (f *Filter) entry(req FilterRequest, item model.Item, r compiledRule, before, after int) model.AuditEntry {
	return model.AuditEntry{
		ID:          uuid.NewString(),
		RunID:       req.RunID,
		AccountID:   req.Account,
		ItemID:      item.ID,
		RuleID:      r.rule.ID,
		RuleType:    r.kind,
		RuleValue:   r.value,
		Enforcement: r.rule.Enforcement,
		PoolBefore:  before,
		PoolAfter:   after,
		CreatedAt:   req.Now,
	}
}

func (f *Filter) appendAudit(ctx context.Context, entries []model.AuditEntry, log zerolog.Logger) {
	if f.audit == nil || len(entries) == 0 {
		return
	}
	if err := f.audit.AppendAudit(ctx, entries); err != nil {
		log.Error().Err(err).Int("entries", len(entries)).Msg("failed to append restriction audit")
	}
}

func compileRule(rule model.RestrictionRule) (compiledRule, error) {
	if rule.Enforcement != model.EnforcementHard && rule.Enforcement != model.EnforcementSoft {
		return compiledRule{}, apperr.Newf(apperr.InvalidRuleConfiguration, rule.AccountID, "", "rule %d: unknown enforcement %q", rule.ID, rule.Enforcement)
	}

	var targets []compiledRule
	if c := strings.TrimSpace(rule.Category); c != "" {
		targets = append(targets, compiledRule{rule: rule, kind: model.RuleCategory, value: c})
	}
	if t := strings.TrimSpace(rule.PriceTier); t != "" {
		targets = append(targets, compiledRule{rule: rule, kind: model.RulePriceTier, value: t})
	}
	if k := strings.TrimSpace(rule.KeywordPattern); k != "" {
		targets = append(targets, compiledRule{rule: rule, kind: model.RuleKeyword, value: k})
	}
	if rule.ItemID != nil {
		targets = append(targets, compiledRule{rule: rule, kind: model.RuleItem, value: strconv.FormatInt(*rule.ItemID, 10)})
	}
	if len(targets) != 1 {
		return compiledRule{}, apperr.Newf(apperr.InvalidRuleConfiguration, rule.AccountID, "", "rule %d: want exactly one target, got %d", rule.ID, len(targets))
	}

	cr := targets[0]
	if cr.kind == model.RuleKeyword {
		re, err := regexp.Compile("(?i)" + cr.value)
		if err != nil {
			return compiledRule{}, apperr.New(apperr.InvalidRuleConfiguration, rule.AccountID, "", fmt.Errorf("rule %d: keyword pattern: %w", rule.ID, err))
		}
		cr.pattern = re
	}
	return cr, nil
}

func (r compiledRule) matches(item model.Item) bool {
	switch r.kind {
	case model.RuleCategory:
		return strings.EqualFold(r.value, strings.TrimSpace(item.Category))
	case model.RulePriceTier:
		return strings.EqualFold(r.value, strings.TrimSpace(item.PriceTier))
	case model.RuleKeyword:
		return r.pattern.MatchString(item.Text)
	case model.RuleItem:
		return r.rule.ItemID != nil && *r.rule.ItemID == item.ID
	}
	return false
}

func firstMatch(rules []compiledRule, item model.Item) (compiledRule, bool) {
	for _, r := range rules {
		if r.matches(item) {
			return r, true
		}
	}
	return compiledRule{}, false
}

func ruleLabel(r compiledRule) string {
	return string(r.kind) + "=" + r.value
}

func topRules(hits map[string]int, n int) []string {
	labels := make([]string, 0, len(hits))
	for k := range hits {
		labels = append(labels, k)
	}
	sort.Slice(labels, func(i, j int) bool {
		if hits[labels[i]] != hits[labels[j]] {
			return hits[labels[i]] > hits[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if len(labels) > n {
		labels = labels[:n]
	}
	return labels
}
