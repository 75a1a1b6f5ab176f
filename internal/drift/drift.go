// Package drift compares current feature distributions against the frozen
// reference baseline. Continuous and ordinal features are tested with a
// two-sample Kolmogorov-Smirnov test plus a normalized Wasserstein effect
// size; categorical features with a chi-squared homogeneity test plus total
// variation distance. A feature only counts as drifted when the shift is
// both statistically significant and practically large, so high-volume
// windows do not alert on noise.
package drift

import (
	"math"

	"go.uber.org/zap"

	"driftguard/internal/featureset"
	"driftguard/internal/stats"
)

// Config holds the drift thresholds.
type Config struct {
	// PThreshold is the significance level for KS / chi-squared.
	PThreshold float64

	// EffectSizeFloor is the minimum normalized effect size.
	EffectSizeFloor float64

	// DatasetThreshold is the drifted/evaluated ratio at which the whole
	// dataset counts as drifted.
	DatasetThreshold float64

	// MinFeatureSamples is the number of non-null values required on each
	// side for a feature to be evaluated at all.
	MinFeatureSamples int
}

// FeatureResult is the verdict for one feature.
type FeatureResult struct {
	Feature    string          `json:"feature"`
	Kind       featureset.Kind `json:"semantic_type"`
	Test       string          `json:"test"`
	Statistic  float64         `json:"statistic"`
	PValue     float64         `json:"p_value"`
	EffectSize float64         `json:"effect_size"`
	Drifted    bool            `json:"drifted"`
	Evaluated  bool            `json:"evaluated"`
	ReferenceN int             `json:"reference_n"`
	CurrentN   int             `json:"current_n"`
}

// Report is the dataset-level verdict plus the per-feature detail that goes
// into the drift artifact.
type Report struct {
	DatasetDrift      bool            `json:"dataset_drift_detected"`
	FeatureDriftRatio float64         `json:"feature_drift_ratio"`
	NumDrifted        int             `json:"num_drifted_features"`
	NumEvaluated      int             `json:"num_evaluated_features"`
	NumExcluded       int             `json:"num_excluded_features"`
	DriftedFeatures   []string        `json:"drifted_features"`
	Features          []FeatureResult `json:"features"`
}

// Detector evaluates drift for one feature schema.
type Detector struct {
	schema featureset.Schema
	cfg    Config
	logger *zap.Logger
}

// New returns a Detector for the given schema.
func New(schema featureset.Schema, cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{schema: schema, cfg: cfg, logger: logger}
}

// Evaluate compares current rows against reference rows feature by feature
// and aggregates the dataset verdict. Features without enough non-null
// values on both sides are excluded from the ratio denominator.
func (d *Detector) Evaluate(reference, current []featureset.Row) Report {
	refCols := featureset.Columns(d.schema, reference)
	curCols := featureset.Columns(d.schema, current)

	report := Report{
		DriftedFeatures: []string{},
		Features:        make([]FeatureResult, 0, len(d.schema)),
	}

	for i, field := range d.schema {
		res := d.EvaluateFeature(field,
			featureset.NonNull(refCols[i]),
			featureset.NonNull(curCols[i]))
		report.Features = append(report.Features, res)

		if !res.Evaluated {
			report.NumExcluded++
			continue
		}
		report.NumEvaluated++
		if res.Drifted {
			report.NumDrifted++
			report.DriftedFeatures = append(report.DriftedFeatures, field.Name)
		}
	}

	if report.NumEvaluated > 0 {
		report.FeatureDriftRatio = float64(report.NumDrifted) / float64(report.NumEvaluated)
	}
	report.DatasetDrift = report.NumEvaluated > 0 && report.FeatureDriftRatio >= d.cfg.DatasetThreshold

	d.logger.Debug("drift evaluated",
		zap.Int("drifted", report.NumDrifted),
		zap.Int("evaluated", report.NumEvaluated),
		zap.Int("excluded", report.NumExcluded),
		zap.Float64("ratio", report.FeatureDriftRatio),
		zap.Bool("dataset_drift", report.DatasetDrift))
	return report
}

// EvaluateFeature runs the test pair for one feature over non-null values.
func (d *Detector) EvaluateFeature(field featureset.Field, ref, cur []float64) FeatureResult {
	res := FeatureResult{
		Feature:    field.Name,
		Kind:       field.Kind,
		ReferenceN: len(ref),
		CurrentN:   len(cur),
	}
	if len(ref) < d.cfg.MinFeatureSamples || len(cur) < d.cfg.MinFeatureSamples {
		return res
	}
	res.Evaluated = true

	switch field.Kind {
	case featureset.Categorical:
		res.Test = "chi2"
		chi := stats.ChiSquared(ref, cur)
		res.Statistic = chi.Statistic
		res.PValue = chi.PValue
		res.EffectSize = stats.TotalVariation(ref, cur)
	default: // continuous and ordinal share the KS path
		res.Test = "ks"
		ks := stats.KolmogorovSmirnov(ref, cur)
		res.Statistic = ks.Statistic
		res.PValue = ks.PValue
		res.EffectSize = normalizedWasserstein(ref, cur)
	}

	res.Drifted = res.PValue < d.cfg.PThreshold && res.EffectSize >= d.cfg.EffectSizeFloor
	return res
}

// normalizedWasserstein scales the transport distance by the reference
// spread, so one threshold works across features with different units. A
// constant reference makes any movement infinitely large relative to its
// history.
func normalizedWasserstein(ref, cur []float64) float64 {
	w := stats.Wasserstein1(ref, cur)
	std := stats.StdPop(ref)
	if std == 0 {
		if w == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return w / std
}
