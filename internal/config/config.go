package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"caption-scheduler/internal/logging"
	"caption-scheduler/internal/model"
	"caption-scheduler/internal/scheduler"
	"caption-scheduler/internal/stats"
)

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Catalog sources.
const (
	CatalogSourcePostgres = "postgres"
	CatalogSourceHTTP     = "http"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Lock         LockConfig         `mapstructure:"lock"`
	Evidence     EvidenceConfig     `mapstructure:"evidence"`
	Selection    SelectionConfig    `mapstructure:"selection"`
	Restrictions RestrictionsConfig `mapstructure:"restrictions"`
	Budgets      BudgetsConfig      `mapstructure:"budgets"`
	Fatigue      FatigueConfig      `mapstructure:"fatigue"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MigrationsPath   string        `mapstructure:"migrations_path"`
}

// RedisConfig 用于 redis 锁后端，仅支持单节点。
// RedisConfig is used by the redis lock backend. Addr names one node.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LockConfig governs assignment locking.
type LockConfig struct {
	Backend     string        `mapstructure:"backend"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// EvidenceConfig tunes the decayed batch update.
type EvidenceConfig struct {
	Cap                   float64       `mapstructure:"cap"`
	HalfLifeCycles        float64       `mapstructure:"half_life_cycles"`
	ConfidenceLevel       float64       `mapstructure:"confidence_level"`
	SuccessConversionRate float64       `mapstructure:"success_conversion_rate"`
	Interval              time.Duration `mapstructure:"interval"`
	AdvisoryLockKey       int64         `mapstructure:"advisory_lock_key"`
	Workers               int           `mapstructure:"workers"`
}

// WeightsConfig are the final-score blend weights.
type WeightsConfig struct {
	Thompson  float64 `mapstructure:"thompson"`
	Diversity float64 `mapstructure:"diversity"`
	Value     float64 `mapstructure:"value"`
}

// SelectionConfig tunes candidate scoring and the run worker pool.
type SelectionConfig struct {
	Scope              string        `mapstructure:"scope"`
	ExploreRate        float64       `mapstructure:"explore_rate"`
	Jitter             float64       `mapstructure:"jitter"`
	Weights            WeightsConfig `mapstructure:"weights"`
	EnergyBonus        float64       `mapstructure:"energy_bonus"`
	SoftPenalty        float64       `mapstructure:"soft_penalty"`
	RecentUseWindow    time.Duration `mapstructure:"recent_use_window"`
	RecentUseExclusion bool          `mapstructure:"recent_use_exclusion"`
	SlotHours          []int         `mapstructure:"slot_hours"`
	Workers            int           `mapstructure:"workers"`
	Seed               int64         `mapstructure:"seed"`
	ShapeByFatigue     bool          `mapstructure:"shape_by_fatigue"`
}

// RestrictionsConfig holds the process-wide kill-switch.
type RestrictionsConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	HealthWarnRatio float64 `mapstructure:"health_warn_ratio"`
}

// BudgetsConfig bounds external reads and whole runs.
type BudgetsConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
}

// FatigueConfig tunes fatigue scans.
type FatigueConfig struct {
	Lookback       time.Duration `mapstructure:"lookback"`
	BaselineWindow time.Duration `mapstructure:"baseline_window"`
	RecentWindow   time.Duration `mapstructure:"recent_window"`
	Holidays       []string      `mapstructure:"holidays"`
	Cron           string        `mapstructure:"cron"`
	Workers        int           `mapstructure:"workers"`
}

// CatalogConfig picks the catalog source.
type CatalogConfig struct {
	Source   string        `mapstructure:"source"`
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics from serve.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// SchedulerConfig governs the serve loop.
type SchedulerConfig struct {
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// Load 从配置文件、环境变量（CAPTIONCTL_ 前缀）和默认值构建配置。
// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAPTIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "captionctl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "0s")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "captionctl:")

	v.SetDefault("lock.backend", LockBackendPostgres)
	v.SetDefault("lock.cooldown", "72h")
	v.SetDefault("lock.ttl", "24h")
	v.SetDefault("lock.max_attempts", 3)

	v.SetDefault("evidence.cap", 100.0)
	v.SetDefault("evidence.half_life_cycles", 56.0)
	v.SetDefault("evidence.confidence_level", 0.95)
	v.SetDefault("evidence.success_conversion_rate", 0.05)
	v.SetDefault("evidence.interval", "6h")
	v.SetDefault("evidence.advisory_lock_key", int64(0x63617074))
	v.SetDefault("evidence.workers", 4)

	v.SetDefault("selection.scope", string(model.ScopeA))
	v.SetDefault("selection.explore_rate", 0.2)
	v.SetDefault("selection.jitter", 0.1)
	v.SetDefault("selection.weights.thompson", 0.70)
	v.SetDefault("selection.weights.diversity", 0.15)
	v.SetDefault("selection.weights.value", 0.15)
	v.SetDefault("selection.energy_bonus", 0.05)
	v.SetDefault("selection.soft_penalty", 10.0)
	v.SetDefault("selection.recent_use_window", "720h")
	v.SetDefault("selection.recent_use_exclusion", true)
	v.SetDefault("selection.slot_hours", []int{9, 13, 17, 20, 22})
	v.SetDefault("selection.workers", 4)
	v.SetDefault("selection.seed", 0)
	v.SetDefault("selection.shape_by_fatigue", true)

	v.SetDefault("restrictions.enabled", true)
	v.SetDefault("restrictions.health_warn_ratio", 0.8)

	v.SetDefault("budgets.read_timeout", "5s")
	v.SetDefault("budgets.run_timeout", "60s")

	v.SetDefault("fatigue.lookback", "2160h")
	v.SetDefault("fatigue.baseline_window", "720h")
	v.SetDefault("fatigue.recent_window", "168h")
	v.SetDefault("fatigue.holidays", []string{})
	v.SetDefault("fatigue.cron", "15 3 * * *")
	v.SetDefault("fatigue.workers", 2)

	v.SetDefault("catalog.source", CatalogSourcePostgres)
	v.SetDefault("catalog.page_size", 500)
	v.SetDefault("catalog.timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate 对配置值做基本校验。
// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case LockBackendPostgres, LockBackendMemory:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock backend")
		}
		if strings.ContainsAny(c.Redis.Addr, ", ") {
			return fmt.Errorf("redis.addr must name a single node; the redis lock backend does not support cluster or multi-node addresses, got %q", c.Redis.Addr)
		}
	default:
		return fmt.Errorf("lock.backend must be one of postgres, redis, memory; got %q", c.Lock.Backend)
	}
	if c.Lock.MaxAttempts < 1 {
		return fmt.Errorf("lock.max_attempts must be at least 1")
	}
	if c.Lock.Cooldown < 0 || c.Lock.TTL < 0 {
		return fmt.Errorf("lock.cooldown and lock.ttl cannot be negative")
	}

	if c.Evidence.Cap <= 0 {
		return fmt.Errorf("evidence.cap must be greater than zero")
	}
	if c.Evidence.HalfLifeCycles <= 0 {
		return fmt.Errorf("evidence.half_life_cycles must be greater than zero")
	}
	if !stats.SupportedLevel(c.Evidence.ConfidenceLevel) {
		return fmt.Errorf("evidence.confidence_level must be 0.90, 0.95 or 0.99")
	}
	if c.Evidence.SuccessConversionRate <= 0 || c.Evidence.SuccessConversionRate > 1 {
		return fmt.Errorf("evidence.success_conversion_rate must be in (0, 1]")
	}
	if c.Evidence.Interval <= 0 {
		return fmt.Errorf("evidence.interval must be greater than zero")
	}

	if _, ok := c.Scope(); !ok {
		return fmt.Errorf("selection.scope must be A or B; got %q", c.Selection.Scope)
	}
	if c.Selection.ExploreRate < 0 || c.Selection.ExploreRate > 1 {
		return fmt.Errorf("selection.explore_rate must be in [0, 1]")
	}
	if c.Selection.Jitter < 0 {
		return fmt.Errorf("selection.jitter cannot be negative")
	}
	w := c.Selection.Weights
	if w.Thompson < 0 || w.Diversity < 0 || w.Value < 0 || w.Thompson+w.Diversity+w.Value <= 0 {
		return fmt.Errorf("selection.weights must be non-negative with a positive sum")
	}
	if c.Selection.SoftPenalty < 0 {
		return fmt.Errorf("selection.soft_penalty cannot be negative")
	}
	for _, h := range c.Selection.SlotHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("selection.slot_hours entries must be in 0..23; got %d", h)
		}
	}

	if c.Restrictions.HealthWarnRatio <= 0 || c.Restrictions.HealthWarnRatio > 1 {
		return fmt.Errorf("restrictions.health_warn_ratio must be in (0, 1]")
	}
	if c.Budgets.ReadTimeout < 0 || c.Budgets.RunTimeout < 0 {
		return fmt.Errorf("budgets cannot be negative")
	}

	if c.Fatigue.Cron != "" {
		if err := scheduler.ValidateSpec(c.Fatigue.Cron); err != nil {
			return fmt.Errorf("fatigue.cron: %w", err)
		}
	}
	if _, err := c.HolidayDates(); err != nil {
		return err
	}

	switch c.Catalog.Source {
	case CatalogSourcePostgres:
	case CatalogSourceHTTP:
		if c.Catalog.BaseURL == "" {
			return fmt.Errorf("catalog.base_url is required for the http catalog source")
		}
	default:
		return fmt.Errorf("catalog.source must be postgres or http; got %q", c.Catalog.Source)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Scope returns the parsed selection scope.
func (c *Config) Scope() (model.Scope, bool) {
	scope, ok := model.ParseScope(c.Selection.Scope)
	if !ok || scope == model.ScopeBoth {
		return "", false
	}
	return scope, true
}

// HolidayDates parses fatigue.holidays as YYYY-MM-DD dates.
func (c *Config) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Fatigue.Holidays))
	for _, raw := range c.Fatigue.Holidays {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("fatigue.holidays: invalid date %q", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// ResolveSlotHours returns the CLI override or the configured hours.
func (c *Config) ResolveSlotHours(override []int) []int {
	if len(override) > 0 {
		return override
	}
	return c.Selection.SlotHours
}
