package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scope selects which content family a rule or candidate set applies to.
type Scope string

const (
	// ScopeA covers paid unlock messages.
	ScopeA Scope = "A"
	// ScopeB covers free engagement messages.
	ScopeB Scope = "B"
	// ScopeBoth applies to either family; only meaningful on rules.
	ScopeBoth Scope = "BOTH"
)

// ParseScope normalises user input into a Scope.
func ParseScope(v string) (Scope, bool) {
	switch Scope(strings.ToUpper(strings.TrimSpace(v))) {
	case ScopeA:
		return ScopeA, true
	case ScopeB:
		return ScopeB, true
	case ScopeBoth:
		return ScopeBoth, true
	}
	return "", false
}

// Covers reports whether a rule scoped to s applies to a candidate in scope other.
func (s Scope) Covers(other Scope) bool {
	return s == ScopeBoth || s == other
}

// Item is a catalog caption as seen by the selection pipeline.
type Item struct {
	ID        int64
	Text      string
	Category  string
	PriceTier string
	Scope     Scope
	Active    bool
	Deleted   bool
}

// Tier returns the normalised price tier key used for quotas.
func (i Item) Tier() string {
	return NormalizeTier(i.PriceTier)
}

// NormalizeTier lower-cases and trims a tier or category label.
func NormalizeTier(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// AllowProfile restricts an account to categories and price tiers per scope.
// An empty list allows everything.
type AllowProfile struct {
	AccountID  string
	Categories map[Scope][]string
	PriceTiers map[Scope][]string
}

// Allows reports whether the item passes the allow-list for scope.
func (p *AllowProfile) Allows(scope Scope, item Item) bool {
	if p == nil {
		return true
	}
	return matchAny(p.Categories[scope], item.Category) && matchAny(p.PriceTiers[scope], item.PriceTier)
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// Enforcement decides whether a rule excludes or penalises.
type Enforcement string

const (
	EnforcementHard Enforcement = "HARD"
	EnforcementSoft Enforcement = "SOFT"
)

// RuleType names the single target a RestrictionRule carries.
type RuleType string

const (
	RuleCategory  RuleType = "category"
	RulePriceTier RuleType = "price_tier"
	RuleKeyword   RuleType = "keyword_pattern"
	RuleItem      RuleType = "specific_item_id"
)

// RestrictionRule is an admin-authored exclusion or penalty for one account.
// Exactly one of Category, PriceTier, KeywordPattern, ItemID must be set.
type RestrictionRule struct {
	ID             int64
	AccountID      string
	Scope          Scope
	Enforcement    Enforcement
	Category       string
	PriceTier      string
	KeywordPattern string
	ItemID         *int64
	Active         bool
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
}

// EffectiveAt reports whether the rule is active and inside its window at t.
func (r RestrictionRule) EffectiveAt(t time.Time) bool {
	if !r.Active {
		return false
	}
	if r.EffectiveFrom != nil && t.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !t.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// BanditStat holds decayed success/failure evidence for (item, account).
type BanditStat struct {
	ItemID                int64
	AccountID             string
	Successes             float64
	Failures              float64
	TotalObservations     int64
	TotalRevenue          decimal.Decimal
	AvgConversionRate     float64
	AvgExpectedValue      float64
	ConfidenceLower       float64
	ConfidenceUpper       float64
	ExplorationBonus      float64
	PerformancePercentile float64
	LastUsedAt            *time.Time
	LastUpdatedAt         time.Time
}

// Evidence returns successes+failures.
func (b BanditStat) Evidence() float64 {
	return b.Successes + b.Failures
}

// Slot is one scheduled send position for an account.
type Slot struct {
	Date time.Time
	Hour int
	Tier string
}

// Key formats the slot for logs and error reports.
func (s Slot) Key() string {
	return fmt.Sprintf("%s@%02d", s.Date.Format("2006-01-02"), s.Hour)
}

// At returns the slot start time in UTC.
func (s Slot) At() time.Time {
	d := s.Date.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), s.Hour, 0, 0, 0, time.UTC)
}

// Assignment is a locked (item, account, slot) reservation.
type Assignment struct {
	Key              string
	AccountID        string
	ItemID           int64
	ScheduleID       string
	SlotDate         time.Time
	SlotHour         int
	IsActive         bool
	LockedAt         time.Time
	ExpiresAt        time.Time
	StrategyUsed     string
	ConfidenceAtLock float64
}

// AuditEntry records one filtering decision. Entries are append-only.
type AuditEntry struct {
	ID          string
	RunID       string
	AccountID   string
	ItemID      int64
	RuleID      int64
	RuleType    RuleType
	RuleValue   string
	Enforcement Enforcement
	PoolBefore  int
	PoolAfter   int
	CreatedAt   time.Time
}

// Baseline is the rolling mean/variance for (account, hour, weekday).
type Baseline struct {
	AccountID          string
	HourOfDay          int
	Weekday            time.Weekday
	Samples            int
	UnlockRateMean     float64
	UnlockRateVariance float64
	ValueMean          float64
	ValueVariance      float64
	ComputedAt         time.Time
}

// MessageRecord is one send outcome from the message-history feed.
type MessageRecord struct {
	ID          int64
	AccountID   string
	ItemID      int64
	SentAt      time.Time
	Recipients  int64
	Opens       int64
	Conversions int64
	Revenue     decimal.Decimal
}

// UnlockRate returns conversions per recipient.
func (m MessageRecord) UnlockRate() float64 {
	if m.Recipients <= 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Recipients)
}

// ValuePerRecipient returns revenue per recipient.
func (m MessageRecord) ValuePerRecipient() float64 {
	if m.Recipients <= 0 {
		return 0
	}
	return m.Revenue.InexactFloat64() / float64(m.Recipients)
}
