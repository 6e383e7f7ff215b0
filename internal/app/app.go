package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"caption-scheduler/internal/alerting"
	"caption-scheduler/internal/candidate"
	"caption-scheduler/internal/catalog"
	"caption-scheduler/internal/config"
	"caption-scheduler/internal/evidence"
	"caption-scheduler/internal/fatigue"
	"caption-scheduler/internal/lock"
	"caption-scheduler/internal/selection"
	"caption-scheduler/internal/service"
	"caption-scheduler/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, storage.Options{
		AdvisoryLockKey: a.Config.Evidence.AdvisoryLockKey,
		ConfidenceLevel: a.Config.Evidence.ConfidenceLevel,
	})
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newDispatcher returns nil when alerting is off.
func (a *App) newDispatcher() *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	notifier := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	return alerting.NewDispatcher(notifier, a.Config.Alerting.Cooldown, a.Logger)
}

func (a *App) healthAlerter() candidate.HealthAlerter {
	if d := a.newDispatcher(); d != nil {
		return d
	}
	return nil
}

func (a *App) fatigueAlerter() fatigue.Alerter {
	if d := a.newDispatcher(); d != nil {
		return d
	}
	return nil
}

func (a *App) newLocker(ctx context.Context, store *storage.Store) (lock.Locker, func(), error) {
	opts := lock.Options{Cooldown: a.Config.Lock.Cooldown, TTL: a.Config.Lock.TTL}
	switch a.Config.Lock.Backend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		locker := lock.NewRedisLocker(client, a.Config.Redis.KeyPrefix, opts)
		if err := locker.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return locker, func() { _ = client.Close() }, nil
	case config.LockBackendMemory:
		a.Logger.Warn().Msg("memory lock backend: assignments are not shared across processes")
		return lock.NewMemoryLocker(opts), func() {}, nil
	default:
		return storage.NewAssignmentLocker(store, opts), func() {}, nil
	}
}

func (a *App) newCatalog(store *storage.Store) candidate.CatalogSource {
	if a.Config.Catalog.Source == config.CatalogSourceHTTP {
		return catalog.NewClient(catalog.Options{
			BaseURL:  a.Config.Catalog.BaseURL,
			Token:    a.Config.Catalog.Token,
			PageSize: a.Config.Catalog.PageSize,
			Timeout:  a.Config.Catalog.Timeout,
		}, a.Logger)
	}
	return store
}

func (a *App) newSelection(store *storage.Store, locker lock.Locker) (*service.Service, error) {
	cfg := a.Config
	scope, ok := cfg.Scope()
	if !ok {
		return nil, fmt.Errorf("selection.scope must be A or B; got %q", cfg.Selection.Scope)
	}

	pool := candidate.NewPool(a.newCatalog(store), store, store, candidate.PoolOptions{
		RecentUseWindow:    cfg.Selection.RecentUseWindow,
		RecentUseExclusion: cfg.Selection.RecentUseExclusion,
		ReadTimeout:        cfg.Budgets.ReadTimeout,
	}, a.Logger)

	filter := candidate.NewFilter(store, store, a.healthAlerter(), candidate.FilterOptions{
		SoftPenalty:     cfg.Selection.SoftPenalty,
		HealthWarnRatio: cfg.Restrictions.HealthWarnRatio,
		ReadTimeout:     cfg.Budgets.ReadTimeout,
	}, a.Logger)

	return service.New(service.Deps{
		Pool:     pool,
		Filter:   filter,
		Evidence: store,
		Locker:   locker,
		Flags:    store,
		Accounts: store,
		Fatigue:  store,
	}, service.Options{
		Scope:               scope,
		MaxAttempts:         cfg.Lock.MaxAttempts,
		RunTimeout:          cfg.Budgets.RunTimeout,
		ReadTimeout:         cfg.Budgets.ReadTimeout,
		Workers:             cfg.Selection.Workers,
		RestrictionsEnabled: cfg.Restrictions.Enabled,
		RecentUseWindow:     cfg.Selection.RecentUseWindow,
		ShapeByFatigue:      cfg.Selection.ShapeByFatigue,
		Policy:              a.policyOptions(),
		Seed:                cfg.Selection.Seed,
	}, a.Logger), nil
}

func (a *App) policyOptions() selection.Options {
	s := a.Config.Selection
	return selection.Options{
		ExploreRate: s.ExploreRate,
		Jitter:      s.Jitter,
		Weights: selection.Weights{
			Thompson:  s.Weights.Thompson,
			Diversity: s.Weights.Diversity,
			Value:     s.Weights.Value,
		},
		EnergyBonus: s.EnergyBonus,
	}
}

func (a *App) evidenceParams() evidence.Params {
	return evidence.Params{
		Cap:             a.Config.Evidence.Cap,
		HalfLifeCycles:  a.Config.Evidence.HalfLifeCycles,
		ConfidenceLevel: a.Config.Evidence.ConfidenceLevel,
	}
}

func (a *App) newUpdater(store evidence.Store, history evidence.HistorySource, locker evidence.PartitionLocker) *evidence.Updater {
	return evidence.NewUpdater(store, history, locker, evidence.UpdaterOptions{
		Params:      a.evidenceParams(),
		SuccessRate: a.Config.Evidence.SuccessConversionRate,
		ReadTimeout: a.Config.Budgets.ReadTimeout,
		Workers:     a.Config.Evidence.Workers,
	}, a.Logger)
}

func (a *App) newMonitor(store *storage.Store) (*fatigue.Monitor, error) {
	holidays, err := a.Config.HolidayDates()
	if err != nil {
		return nil, err
	}
	return fatigue.NewMonitor(store, store, a.fatigueAlerter(), fatigue.Options{
		Lookback:       a.Config.Fatigue.Lookback,
		BaselineWindow: a.Config.Fatigue.BaselineWindow,
		RecentWindow:   a.Config.Fatigue.RecentWindow,
		Holidays:       holidays,
		ReadTimeout:    a.Config.Budgets.ReadTimeout,
	}, a.Logger), nil
}

// SelectionOptions configure run-selection.
type SelectionOptions struct {
	Accounts   []string
	ScheduleID string
	Date       time.Time
	Hours      []int
	Quotas     map[string]int
	TotalQuota int
}

// BackfillOptions configure the evidence backfill.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// FatigueOptions configure run-fatigue-scan. An empty Account scans every
// active account with its stored size tier.
type FatigueOptions struct {
	Account string
	Tier    int
	Date    time.Time
}

// ShowOptions configure show-assignments.
type ShowOptions struct {
	Account string
	Limit   int
}
