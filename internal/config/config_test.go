package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "credit-risk-model", cfg.Model.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 300, cfg.Monitoring.IntervalSeconds)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.Equal(t, 200, cfg.Monitoring.MinSamples)
	assert.Equal(t, 0.05, cfg.Drift.PThreshold)
	assert.Equal(t, 0.1, cfg.Drift.EffectSizeFloor)
	assert.Equal(t, 0.30, cfg.Drift.DatasetThreshold)
	assert.Equal(t, 30, cfg.Drift.MinFeatureSamples)
	assert.Equal(t, 200, cfg.Decision.MinSamples)
	assert.Equal(t, 30.0, cfg.Decision.MinCoveragePct)
	assert.Equal(t, 7, cfg.Decision.CooldownDays)
	assert.Equal(t, 2.0, cfg.Decision.MinF1ImprovementPct)
	assert.Equal(t, 0.01, cfg.Decision.MaxBrierDegradation)
	assert.Equal(t, 1.0, cfg.Decision.MinSegmentF1DropPct)
	assert.Equal(t, 50, cfg.Decision.SegmentMin)
	assert.Equal(t, 168, cfg.Training.WindowHours)
	assert.Equal(t, 0.2, cfg.Training.TestFraction)
	assert.Equal(t, 3600, cfg.Training.TimeoutSeconds)
	assert.Equal(t, 604800, cfg.Training.StagingTTLSeconds)
	assert.Equal(t, []string{"age", "MonthlyIncome"}, cfg.Evaluation.SegmentColumns)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Monitoring, cfg.Monitoring)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftguard.yaml")
	body := `
model:
  name: churn-model
storage:
  driver: postgres
  dsn: "postgres://localhost/driftguard?sslmode=disable"
monitoring:
  interval_s: 60
  min_samples: 500
decision:
  cooldown_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "churn-model", cfg.Model.Name)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 60, cfg.Monitoring.IntervalSeconds)
	assert.Equal(t, 500, cfg.Monitoring.MinSamples)
	assert.Equal(t, 14, cfg.Decision.CooldownDays)
	// Untouched sections keep defaults.
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.Equal(t, 0.2, cfg.Training.TestFraction)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitoring: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		t.Setenv("DRIFTGUARD_DB_DRIVER", "postgres")
		t.Setenv("DRIFTGUARD_DB_DSN", "postgres://db/driftguard")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, "postgres://db/driftguard", cfg.Storage.DSN)
	})

	t.Run("monitoring interval", func(t *testing.T) {
		t.Setenv("DRIFTGUARD_MONITORING_INTERVAL", "45")
		t.Setenv("DRIFTGUARD_MONITORING_LOOKBACK", "6")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 45, cfg.Monitoring.IntervalSeconds)
		assert.Equal(t, 6, cfg.Monitoring.LookbackHours)
	})

	t.Run("non-numeric interval ignored", func(t *testing.T) {
		t.Setenv("DRIFTGUARD_MONITORING_INTERVAL", "soon")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 300, cfg.Monitoring.IntervalSeconds)
	})

	t.Run("model and dirs", func(t *testing.T) {
		t.Setenv("DRIFTGUARD_MODEL_NAME", "fraud-model")
		t.Setenv("DRIFTGUARD_REFERENCE_DIR", "/srv/reference")
		t.Setenv("DRIFTGUARD_ARTIFACT_DIR", "/srv/artifacts")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "fraud-model", cfg.Model.Name)
		assert.Equal(t, "/srv/reference", cfg.Reference.Dir)
		assert.Equal(t, "/srv/artifacts", cfg.Artifacts.Dir)
	})

	t.Run("load applies overrides on top of file", func(t *testing.T) {
		t.Setenv("DRIFTGUARD_DB_DSN", "postgres://env-wins/driftguard")

		path := filepath.Join(t.TempDir(), "driftguard.yaml")
		body := "storage:\n  dsn: file-loses.db\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env-wins/driftguard", cfg.Storage.DSN)
	})
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.MonitoringInterval())
	assert.Equal(t, 24*time.Hour, cfg.MonitoringLookback())
	assert.Equal(t, 168*time.Hour, cfg.TrainingWindow())
	assert.Equal(t, time.Hour, cfg.TrainingTimeout())
	assert.Equal(t, 24*time.Hour, cfg.TrainingInterval())
	assert.Equal(t, 7*24*time.Hour, cfg.Cooldown())
	assert.Equal(t, 7*24*time.Hour, cfg.StagingTTL())
	assert.Equal(t, time.Minute, cfg.ModelFetchTTL())
}

func TestValidate(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model name", func(c *Config) { c.Model.Name = "" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Storage.DSN = "" }},
		{"zero interval", func(c *Config) { c.Monitoring.IntervalSeconds = 0 }},
		{"zero lookback", func(c *Config) { c.Monitoring.LookbackHours = 0 }},
		{"negative min samples", func(c *Config) { c.Monitoring.MinSamples = -1 }},
		{"p threshold too high", func(c *Config) { c.Drift.PThreshold = 1 }},
		{"p threshold zero", func(c *Config) { c.Drift.PThreshold = 0 }},
		{"negative effect floor", func(c *Config) { c.Drift.EffectSizeFloor = -0.1 }},
		{"dataset threshold too high", func(c *Config) { c.Drift.DatasetThreshold = 1.5 }},
		{"zero feature samples", func(c *Config) { c.Drift.MinFeatureSamples = 0 }},
		{"zero decision samples", func(c *Config) { c.Decision.MinSamples = 0 }},
		{"coverage above 100", func(c *Config) { c.Decision.MinCoveragePct = 120 }},
		{"negative cooldown", func(c *Config) { c.Decision.CooldownDays = -1 }},
		{"negative brier budget", func(c *Config) { c.Decision.MaxBrierDegradation = -0.01 }},
		{"zero segment min", func(c *Config) { c.Decision.SegmentMin = 0 }},
		{"zero training window", func(c *Config) { c.Training.WindowHours = 0 }},
		{"test fraction one", func(c *Config) { c.Training.TestFraction = 1 }},
		{"zero training timeout", func(c *Config) { c.Training.TimeoutSeconds = 0 }},
		{"zero staging ttl", func(c *Config) { c.Training.StagingTTLSeconds = 0 }},
		{"one segment bin", func(c *Config) { c.Evaluation.SegmentBins = 1 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
