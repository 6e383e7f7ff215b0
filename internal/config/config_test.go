package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-scheduler/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, LockBackendPostgres, cfg.Lock.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Lock.Cooldown)
	assert.Equal(t, 3, cfg.Lock.MaxAttempts)
	assert.Equal(t, 56.0, cfg.Evidence.HalfLifeCycles)
	assert.Equal(t, 100.0, cfg.Evidence.Cap)
	assert.Equal(t, 6*time.Hour, cfg.Evidence.Interval)
	assert.Equal(t, 0.70, cfg.Selection.Weights.Thompson)
	assert.Equal(t, 720*time.Hour, cfg.Selection.RecentUseWindow)
	assert.Equal(t, 0.8, cfg.Restrictions.HealthWarnRatio)
	assert.True(t, cfg.Restrictions.Enabled)

	scope, ok := cfg.Scope()
	assert.True(t, ok)
	assert.Equal(t, model.ScopeA, scope)
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
lock:
  backend: memory
  cooldown: 48h
selection:
  slot_hours: [8, 12]
fatigue:
  holidays: ["2026-12-25"]
`))
	require.NoError(t, err)
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Lock.Cooldown)
	assert.Equal(t, []int{8, 12}, cfg.Selection.SlotHours)

	days, err := cfg.HolidayDates()
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, time.December, days[0].Month())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CAPTIONCTL_EVIDENCE_HALF_LIFE_CYCLES", "28")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 28.0, cfg.Evidence.HalfLifeCycles)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"lock backend":     "lock:\n  backend: etcd\n",
		"redis multi node": "lock:\n  backend: redis\nredis:\n  addr: a:6379,b:6379\n",
		"confidence level": "evidence:\n  confidence_level: 0.8\n",
		"scope":            "selection:\n  scope: BOTH\n",
		"weights":          "selection:\n  weights:\n    thompson: 0\n    diversity: 0\n    value: 0\n",
		"slot hour":        "selection:\n  slot_hours: [25]\n",
		"warn ratio":       "restrictions:\n  health_warn_ratio: 0\n",
		"cron":             "fatigue:\n  cron: whenever\n",
		"holiday":          "fatigue:\n  holidays: [\"25/12/2026\"]\n",
		"http catalog":     "catalog:\n  source: http\n",
		"telegram":         "alerting:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveSlotHours(t *testing.T) {
	cfg := &Config{Selection: SelectionConfig{SlotHours: []int{9}}}
	assert.Equal(t, []int{9}, cfg.ResolveSlotHours(nil))
	assert.Equal(t, []int{7, 8}, cfg.ResolveSlotHours([]int{7, 8}))
}
