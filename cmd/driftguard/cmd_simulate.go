// Package main implements the operator CLI for driftguard.
// This file feeds synthetic traffic, labels, and drift into the prediction
// ledger so the governance loop can be exercised without a serving stack.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftguard/internal/featureset"
	"driftguard/internal/store"
	"driftguard/internal/trainer"
)

// =============================================================================
// SIMULATION COMMANDS
// =============================================================================

var (
	// traffic / drift flags
	simCount    int
	simDelay    time.Duration
	simSeed     int64
	simSource   string
	simTarget   string
	simCoverage float64

	// drift flags
	simDriftFeature string
	simDriftScale   float64
	simDriftShift   float64

	// labels flags
	simLabelFraction float64
	simLabelLookback time.Duration
	simLabelFlip     float64
	simPositiveRate  float64
)

// simulateCmd groups the synthetic data generators
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed synthetic traffic, labels, or drift into the ledger",
	Long: `Generates synthetic workload for the governance loop.

Subcommands:
  traffic  - replay CSV rows through the production model into the ledger
  drift    - replay CSV rows with covariate shift injected into one feature
  labels   - attach delayed ground-truth labels to unlabeled predictions

All generators are seeded and write through the same ledger operations the
serving path would use, so dedupe and label immutability apply.`,
}

// simulateTrafficCmd replays CSV rows as prediction traffic
var simulateTrafficCmd = &cobra.Command{
	Use:   "traffic <rows.csv>",
	Short: "Replay CSV rows into the prediction ledger",
	Long: `Scores CSV rows with the current production model and appends the
results to the prediction ledger, one row at a time.

When the CSV carries the target column and --label-coverage is positive, a
random fraction of the generated predictions immediately receives its true
outcome as a delayed label, which is what the retraining loop feeds on.

Before the first model exists the rows are scored cold (class 0,
probability 0.5, version "none"): the bootstrap training run only needs
features and labels, not meaningful scores.

Example:
  driftguard simulate traffic data/cs-training.csv --count 500 --label-coverage 50`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulateTraffic,
}

// simulateDriftCmd replays CSV rows with covariate shift
var simulateDriftCmd = &cobra.Command{
	Use:   "drift <rows.csv>",
	Short: "Replay CSV rows with covariate shift injected into one feature",
	Long: `Same as "simulate traffic", but each row's value for --feature is
transformed to value*scale+shift before scoring. This reproduces the two
covariate-shift forms the monitoring loop is meant to catch: a scaling
change (incomes grow 30%: --scale 1.3) and a location change (applicants
age 5 years: --shift 5).

Example:
  driftguard simulate drift data/cs-training.csv --feature MonthlyIncome --scale 0.6`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulateDrift,
}

// simulateLabelsCmd attaches delayed ground truth
var simulateLabelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Attach delayed ground-truth labels to unlabeled predictions",
	Long: `Samples unlabeled predictions from the lookback window and attaches a
synthetic outcome to a fraction of them, simulating ground truth arriving
days after scoring.

By default the outcome is drawn from the probability the model logged at
prediction time, which simulates a world where the production model is
calibrated. --positive-rate replaces that with a fixed base rate, and
--flip adds label noise on top, which is how concept drift is produced.`,
	RunE: runSimulateLabels,
}

func init() {
	for _, c := range []*cobra.Command{simulateTrafficCmd, simulateDriftCmd} {
		c.Flags().IntVar(&simCount, "count", 0, "Rows to replay (0 = all)")
		c.Flags().DurationVar(&simDelay, "delay", 0, "Pause between rows (simulates traffic rate)")
		c.Flags().Float64Var(&simCoverage, "label-coverage", 30, "Percent of predictions that get their true label attached (0 disables)")
		c.Flags().StringVar(&simTarget, "target-column", "SeriousDlqin2yrs", "CSV column holding the true outcome")
		c.Flags().StringVar(&simSource, "source", "simulation", "request_source recorded on each prediction")
	}
	simulateDriftCmd.Flags().StringVar(&simDriftFeature, "feature", "", "Feature to shift (required)")
	simulateDriftCmd.Flags().Float64Var(&simDriftScale, "scale", 1.0, "Multiplier applied to the feature")
	simulateDriftCmd.Flags().Float64Var(&simDriftShift, "shift", 0.0, "Offset added to the feature")
	simulateDriftCmd.MarkFlagRequired("feature")

	simulateLabelsCmd.Flags().Float64Var(&simLabelFraction, "fraction", 0.3, "Fraction of unlabeled predictions to label")
	simulateLabelsCmd.Flags().DurationVar(&simLabelLookback, "lookback", 24*time.Hour, "How far back to look for unlabeled predictions")
	simulateLabelsCmd.Flags().Float64Var(&simLabelFlip, "flip", 0.0, "Probability of flipping each synthetic label")
	simulateLabelsCmd.Flags().Float64Var(&simPositiveRate, "positive-rate", -1, "Fixed positive base rate; negative draws from the logged probability")

	simulateCmd.PersistentFlags().Int64Var(&simSeed, "seed", 42, "Seed for reproducible simulation")

	simulateCmd.AddCommand(simulateTrafficCmd)
	simulateCmd.AddCommand(simulateDriftCmd)
	simulateCmd.AddCommand(simulateLabelsCmd)
}

func runSimulateTraffic(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return streamTraffic(ctx, a, args[0], nil)
}

func runSimulateDrift(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema := featureset.CreditRisk()
	idx := schema.Index(simDriftFeature)
	if idx < 0 {
		return fmt.Errorf("unknown feature %q", simDriftFeature)
	}
	if simDriftScale == 1.0 && simDriftShift == 0.0 {
		return fmt.Errorf("nothing to inject: set --scale and/or --shift")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Injecting covariate shift into %s: value*%g%+g\n", simDriftFeature, simDriftScale, simDriftShift)
	return streamTraffic(ctx, a, args[0], &injection{index: idx, scale: simDriftScale, shift: simDriftShift})
}

// injection is a covariate shift applied to one feature while streaming.
type injection struct {
	index int
	scale float64
	shift float64
}

func streamTraffic(ctx context.Context, a *app, csvPath string, inject *injection) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := featureset.CSVOptions{}
	if simCoverage > 0 {
		opts.TargetColumn = simTarget
	}
	ds, err := featureset.ReadCSV(f, featureset.CreditRisk(), opts)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", csvPath, err)
	}

	count := len(ds.Rows)
	if simCount > 0 && simCount < count {
		count = simCount
	}
	if count == 0 {
		return fmt.Errorf("%s has no rows", csvPath)
	}

	version := "none"
	var model *trainer.Model
	if ver, m, err := productionModel(ctx, a); err == nil {
		version, model = ver.Version, m
	} else if !errors.Is(err, store.ErrNoProduction) {
		return err
	} else {
		logger.Warn("no production model yet, scoring cold",
			zap.String("model", cfg.Model.Name))
	}

	type outcome struct {
		id    string
		label int
	}
	var outcomes []outcome

	for i := 0; i < count; i++ {
		row := ds.Rows[i].Clone()
		if inject != nil && !row.IsMissing(inject.index) {
			row[inject.index] = row[inject.index]*inject.scale + inject.shift
		}

		class, prob := 0, 0.5
		start := time.Now()
		if model != nil {
			class, prob = model.Score(row)
		}

		p := &store.Prediction{
			PredictionID:         uuid.NewString(),
			ModelName:            cfg.Model.Name,
			ModelVersion:         version,
			Features:             row,
			PredictedClass:       class,
			PredictedProbability: prob,
			RequestSource:        simSource,
			ResponseTimeMs:       time.Since(start).Milliseconds(),
		}
		if err := a.store.AppendPrediction(ctx, p); err != nil {
			return err
		}
		if ds.Labels != nil {
			outcomes = append(outcomes, outcome{p.PredictionID, ds.Labels[i]})
		}

		if (i+1)%100 == 0 {
			fmt.Printf("  %d/%d predictions\n", i+1, count)
		}
		if simDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(simDelay):
			}
		}
	}
	fmt.Printf("Appended %d predictions (model version %s)\n", count, version)

	if simCoverage > 0 && len(outcomes) > 0 {
		rng := rand.New(rand.NewSource(simSeed))
		rng.Shuffle(len(outcomes), func(i, j int) {
			outcomes[i], outcomes[j] = outcomes[j], outcomes[i]
		})
		k := int(float64(len(outcomes)) * simCoverage / 100)
		for _, o := range outcomes[:k] {
			err := a.store.AppendLabel(ctx, &store.Label{
				PredictionID: o.id,
				TrueClass:    o.label,
				LabelSource:  "simulation",
			})
			if err != nil {
				return err
			}
		}
		fmt.Printf("Attached %d delayed labels (%.0f%% coverage)\n", k, simCoverage)
	}
	return nil
}

func runSimulateLabels(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	since := time.Now().UTC().Add(-simLabelLookback)
	rows, err := a.store.LoadUnlabeledSince(ctx, cfg.Model.Name, since)
	if err != nil {
		return err
	}

	// Materialize before writing: appending labels while the read cursor is
	// open would contend for the single sqlite connection.
	type candidate struct {
		id   string
		prob float64
	}
	var pending []candidate
	for rows.Next() {
		rec := rows.Record()
		pending = append(pending, candidate{rec.PredictionID, rec.PredictedProbability})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rng := rand.New(rand.NewSource(simSeed))
	attached := 0
	for _, c := range pending {
		if rng.Float64() >= simLabelFraction {
			continue
		}
		p := c.prob
		if simPositiveRate >= 0 {
			p = simPositiveRate
		}
		class := 0
		if rng.Float64() < p {
			class = 1
		}
		if rng.Float64() < simLabelFlip {
			class = 1 - class
		}
		err := a.store.AppendLabel(ctx, &store.Label{
			PredictionID: c.id,
			TrueClass:    class,
			LabelSource:  "simulation",
		})
		if err != nil {
			return err
		}
		attached++
	}

	fmt.Printf("Attached %d labels to %d unlabeled predictions\n", attached, len(pending))
	return nil
}
