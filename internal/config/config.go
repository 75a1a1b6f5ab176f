// Package config holds the driftguard configuration: storage backends, the
// monitoring schedule, drift thresholds, the promotion gate policy, and
// training windows. Configuration is loaded from YAML with compiled-in
// defaults; a missing file is not an error. Environment variables override
// file values for the settings that differ per deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all driftguard configuration.
type Config struct {
	// Model under governance
	Model ModelConfig `yaml:"model"`

	// Storage backend for ledger, registry, and audit tables
	Storage StorageConfig `yaml:"storage"`

	// Reference baseline location
	Reference ReferenceConfig `yaml:"reference"`

	// Artifact store location
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Monitoring loop
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Drift verdict thresholds
	Drift DriftConfig `yaml:"drift"`

	// Promotion gate policy
	Decision DecisionConfig `yaml:"decision"`

	// Shadow training
	Training TrainingConfig `yaml:"training"`

	// Replay evaluation segmentation
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Daemon surfaces
	Server ServerConfig `yaml:"server"`
}

// ModelConfig names the governed model family.
type ModelConfig struct {
	Name string `yaml:"name"`
}

// StorageConfig selects and locates the SQL backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// ReferenceConfig locates the frozen reference baseline.
type ReferenceConfig struct {
	Dir string `yaml:"dir"`
}

// ArtifactsConfig locates the artifact store (drift detail, evaluation
// reports, model blobs).
type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

// MonitoringConfig configures the monitoring worker.
type MonitoringConfig struct {
	IntervalSeconds int `yaml:"interval_s"`
	LookbackHours   int `yaml:"lookback_h"`
	MinSamples      int `yaml:"min_samples"`
}

// DriftConfig holds the per-feature and dataset drift thresholds.
type DriftConfig struct {
	PThreshold        float64 `yaml:"p_threshold"`         // significance level for KS / chi-squared
	EffectSizeFloor   float64 `yaml:"effect_size_floor"`   // minimum normalized effect size
	DatasetThreshold  float64 `yaml:"dataset_threshold"`   // drifted/evaluated ratio for a dataset alert
	MinFeatureSamples int     `yaml:"min_feature_samples"` // non-null values required on each side
}

// DecisionConfig holds the six-gate promotion policy thresholds.
type DecisionConfig struct {
	MinSamples          int     `yaml:"min_samples"`
	MinCoveragePct      float64 `yaml:"min_coverage_pct"`
	CooldownDays        int     `yaml:"cooldown_days"`
	MinF1ImprovementPct float64 `yaml:"min_f1_improvement_pct"`
	MaxBrierDegradation float64 `yaml:"max_brier_degradation"`
	MinSegmentF1DropPct float64 `yaml:"min_segment_f1_drop"`
	SegmentMin          int     `yaml:"segment_min"`
}

// TrainingConfig configures the shadow training pipeline.
type TrainingConfig struct {
	WindowHours       int     `yaml:"window_h"`
	TestFraction      float64 `yaml:"test_fraction"`
	TimeoutSeconds    int     `yaml:"timeout_s"`
	StagingTTLSeconds int     `yaml:"staging_ttl_s"`
	Seed              int64   `yaml:"seed"`
	IntervalHours     int     `yaml:"interval_h"` // scheduled trigger period for the daemon
}

// EvaluationConfig configures fairness segmentation for replay evaluation.
type EvaluationConfig struct {
	SegmentColumns []string `yaml:"segment_columns"`
	SegmentBins    int      `yaml:"segment_bins"`
}

// ServerConfig configures the daemon's HTTP surfaces.
type ServerConfig struct {
	MetricsAddr      string `yaml:"metrics_addr"`
	ModelFetchTTLSec int    `yaml:"model_fetch_ttl_s"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: "credit-risk-model",
		},

		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "data/driftguard.db",
		},

		Reference: ReferenceConfig{
			Dir: "data/reference",
		},

		Artifacts: ArtifactsConfig{
			Dir: "data/artifacts",
		},

		Monitoring: MonitoringConfig{
			IntervalSeconds: 300,
			LookbackHours:   24,
			MinSamples:      200,
		},

		Drift: DriftConfig{
			PThreshold:        0.05,
			EffectSizeFloor:   0.1,
			DatasetThreshold:  0.30,
			MinFeatureSamples: 30,
		},

		Decision: DecisionConfig{
			MinSamples:          200,
			MinCoveragePct:      30.0,
			CooldownDays:        7,
			MinF1ImprovementPct: 2.0,
			MaxBrierDegradation: 0.01,
			MinSegmentF1DropPct: 1.0,
			SegmentMin:          50,
		},

		Training: TrainingConfig{
			WindowHours:       168,
			TestFraction:      0.2,
			TimeoutSeconds:    3600,
			StagingTTLSeconds: 604800,
			Seed:              42,
			IntervalHours:     24,
		},

		Evaluation: EvaluationConfig{
			SegmentColumns: []string{"age", "MonthlyIncome"},
			SegmentBins:    3,
		},

		Server: ServerConfig{
			MetricsAddr:      ":9090",
			ModelFetchTTLSec: 60,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied in either case.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIFTGUARD_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DRIFTGUARD_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("DRIFTGUARD_REFERENCE_DIR"); v != "" {
		c.Reference.Dir = v
	}
	if v := os.Getenv("DRIFTGUARD_ARTIFACT_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("DRIFTGUARD_MODEL_NAME"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("DRIFTGUARD_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("DRIFTGUARD_MONITORING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitoring.IntervalSeconds = n
		}
	}
	if v := os.Getenv("DRIFTGUARD_MONITORING_LOOKBACK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitoring.LookbackHours = n
		}
	}
}

// MonitoringInterval returns the monitoring tick period.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Monitoring.IntervalSeconds) * time.Second
}

// MonitoringLookback returns the monitoring window length.
func (c *Config) MonitoringLookback() time.Duration {
	return time.Duration(c.Monitoring.LookbackHours) * time.Hour
}

// TrainingWindow returns the labeled window length used for retraining.
func (c *Config) TrainingWindow() time.Duration {
	return time.Duration(c.Training.WindowHours) * time.Hour
}

// TrainingTimeout returns the deadline for one shadow training run.
func (c *Config) TrainingTimeout() time.Duration {
	return time.Duration(c.Training.TimeoutSeconds) * time.Second
}

// TrainingInterval returns the scheduled retraining period for the daemon.
func (c *Config) TrainingInterval() time.Duration {
	return time.Duration(c.Training.IntervalHours) * time.Hour
}

// StagingTTL returns how long an unpromoted Staging version survives before
// the janitor archives it.
func (c *Config) StagingTTL() time.Duration {
	return time.Duration(c.Training.StagingTTLSeconds) * time.Second
}

// Cooldown returns the minimum interval between promotions.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Decision.CooldownDays) * 24 * time.Hour
}

// ModelFetchTTL returns how long production-model lookups may be cached.
func (c *Config) ModelFetchTTL() time.Duration {
	return time.Duration(c.Server.ModelFetchTTLSec) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: sqlite, postgres)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn must not be empty")
	}
	if c.Monitoring.IntervalSeconds <= 0 {
		return fmt.Errorf("monitoring interval must be positive, got %d", c.Monitoring.IntervalSeconds)
	}
	if c.Monitoring.LookbackHours <= 0 {
		return fmt.Errorf("monitoring lookback must be positive, got %d", c.Monitoring.LookbackHours)
	}
	if c.Monitoring.MinSamples < 0 {
		return fmt.Errorf("monitoring min_samples must not be negative, got %d", c.Monitoring.MinSamples)
	}
	if c.Drift.PThreshold <= 0 || c.Drift.PThreshold >= 1 {
		return fmt.Errorf("drift p_threshold must be in (0,1), got %g", c.Drift.PThreshold)
	}
	if c.Drift.EffectSizeFloor < 0 {
		return fmt.Errorf("drift effect_size_floor must not be negative, got %g", c.Drift.EffectSizeFloor)
	}
	if c.Drift.DatasetThreshold <= 0 || c.Drift.DatasetThreshold > 1 {
		return fmt.Errorf("drift dataset_threshold must be in (0,1], got %g", c.Drift.DatasetThreshold)
	}
	if c.Drift.MinFeatureSamples < 1 {
		return fmt.Errorf("drift min_feature_samples must be at least 1, got %d", c.Drift.MinFeatureSamples)
	}
	if c.Decision.MinSamples < 1 {
		return fmt.Errorf("decision min_samples must be at least 1, got %d", c.Decision.MinSamples)
	}
	if c.Decision.MinCoveragePct < 0 || c.Decision.MinCoveragePct > 100 {
		return fmt.Errorf("decision min_coverage_pct must be in [0,100], got %g", c.Decision.MinCoveragePct)
	}
	if c.Decision.CooldownDays < 0 {
		return fmt.Errorf("decision cooldown_days must not be negative, got %d", c.Decision.CooldownDays)
	}
	if c.Decision.MaxBrierDegradation < 0 {
		return fmt.Errorf("decision max_brier_degradation must not be negative, got %g", c.Decision.MaxBrierDegradation)
	}
	if c.Decision.SegmentMin < 1 {
		return fmt.Errorf("decision segment_min must be at least 1, got %d", c.Decision.SegmentMin)
	}
	if c.Training.WindowHours <= 0 {
		return fmt.Errorf("training window_h must be positive, got %d", c.Training.WindowHours)
	}
	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training test_fraction must be in (0,1), got %g", c.Training.TestFraction)
	}
	if c.Training.TimeoutSeconds <= 0 {
		return fmt.Errorf("training timeout_s must be positive, got %d", c.Training.TimeoutSeconds)
	}
	if c.Training.StagingTTLSeconds <= 0 {
		return fmt.Errorf("training staging_ttl_s must be positive, got %d", c.Training.StagingTTLSeconds)
	}
	if c.Evaluation.SegmentBins < 2 {
		return fmt.Errorf("evaluation segment_bins must be at least 2, got %d", c.Evaluation.SegmentBins)
	}
	return nil
}
