// Package main implements the operator CLI for driftguard.
// This file renders the governance status summary.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"driftguard/internal/store"
)

var statusLimit int

// statusCmd shows governance status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the production model, ledger health, and recent decisions",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "How many recent decisions and monitoring runs to show")
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("driftguard status")
	fmt.Println("=================")
	fmt.Printf("Model: %s\n\n", cfg.Model.Name)

	printReferenceStatus(ctx, a)
	printRegistryStatus(ctx, a)
	printLedgerStatus(ctx, a)
	printMonitoringStatus(ctx, a)
	printDecisionStatus(ctx, a)
	return nil
}

func printReferenceStatus(ctx context.Context, a *app) {
	if !a.refs.Exists() {
		fmt.Println("✗ Reference baseline: not bootstrapped")
		return
	}
	if err := a.refs.Verify(); err != nil {
		fmt.Printf("✗ Reference baseline: %v\n", err)
		return
	}

	info, err := a.store.GetReferenceInfo(ctx)
	switch {
	case err != nil:
		fmt.Printf("✓ Reference baseline: verified (mirror lookup failed: %v)\n", err)
	case info == nil:
		fmt.Println("✓ Reference baseline: verified (not mirrored in database)")
	default:
		fmt.Printf("✓ Reference baseline: %d rows, %s\n", info.RowCount, truncateStr(info.ContentDigest, 26))
	}
}

func printRegistryStatus(ctx context.Context, a *app) {
	prod, err := a.store.ProductionVersion(ctx, cfg.Model.Name)
	switch {
	case errors.Is(err, store.ErrNoProduction):
		fmt.Println("✗ Production: no version promoted yet")
	case err != nil:
		fmt.Printf("✗ Production: %v\n", err)
	default:
		promoted := "unknown"
		if prod.PromotedAt != nil {
			promoted = prod.PromotedAt.Format(time.RFC3339)
		}
		fmt.Printf("✓ Production: v%s (promoted %s, f1 %.3f, brier %.3f)\n",
			prod.Version, promoted, prod.F1Score, prod.BrierScore)
	}

	versions, err := a.store.ListVersions(ctx, cfg.Model.Name)
	if err != nil || len(versions) == 0 {
		fmt.Println()
		return
	}
	byStage := map[store.Stage]int{}
	for _, v := range versions {
		byStage[v.Stage]++
	}
	fmt.Printf("  Registry: %d versions (%d production, %d staging, %d archived)\n\n",
		len(versions), byStage[store.StageProduction], byStage[store.StageStaging], byStage[store.StageArchived])
}

func printLedgerStatus(ctx context.Context, a *app) {
	now := time.Now().UTC()

	cov, err := a.store.Coverage(ctx, cfg.Model.Name, now.Add(-cfg.MonitoringLookback()))
	if err != nil {
		fmt.Printf("Ledger: %v\n\n", err)
		return
	}
	fmt.Printf("Ledger (last %dh): %d predictions, %d labeled (%.1f%% coverage",
		cfg.Monitoring.LookbackHours, cov.TotalPredictions, cov.LabeledPredictions, cov.CoveragePct)
	if cov.LabeledPredictions > 0 {
		fmt.Printf(", mean delay %.1f days", cov.MeanLabelDelayDays)
	}
	fmt.Println(")")

	trainN, err := a.store.CountPredictionsSince(ctx, cfg.Model.Name, now.Add(-cfg.TrainingWindow()))
	if err == nil {
		fmt.Printf("Training window (%dh): %d predictions\n", cfg.Training.WindowHours, trainN)
	}
	fmt.Println()
}

func printMonitoringStatus(ctx context.Context, a *app) {
	runs, err := a.store.ListMonitoringRuns(ctx, statusLimit)
	if err != nil {
		fmt.Printf("Monitoring: %v\n\n", err)
		return
	}
	if len(runs) == 0 {
		fmt.Println("Monitoring: no runs recorded")
		fmt.Println()
		return
	}

	fmt.Println("Recent monitoring runs:")
	for _, r := range runs {
		line := fmt.Sprintf("  %s  %-22s  n=%d", r.RunAt.Format("2006-01-02 15:04"), r.Reason, r.NumPredictions)
		if r.FeatureDriftRatio != nil && r.NumDrifted != nil && r.NumEvaluated != nil {
			line += fmt.Sprintf("  drift %d/%d (ratio %.2f)", *r.NumDrifted, *r.NumEvaluated, *r.FeatureDriftRatio)
		}
		if r.DatasetDrift != nil && *r.DatasetDrift {
			line += "  DATASET DRIFT"
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func printDecisionStatus(ctx context.Context, a *app) {
	counts, err := a.store.CountDecisionsByAction(ctx)
	if err != nil {
		fmt.Printf("Decisions: %v\n", err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Decisions: %d total (skip %d, promote %d, reject %d, train %d)\n",
		total, counts[store.ActionSkip], counts[store.ActionPromote],
		counts[store.ActionReject], counts[store.ActionTrain])

	decisions, err := a.store.ListDecisions(ctx, statusLimit)
	if err != nil || len(decisions) == 0 {
		return
	}
	fmt.Println("Recent decisions:")
	for _, d := range decisions {
		version := ""
		if d.ShadowVersion != nil {
			version = "v" + *d.ShadowVersion
		}
		fmt.Printf("  %s  %-8s %-11s %-42s %s\n",
			d.DecidedAt.Format("2006-01-02 15:04"), d.Action, d.TriggerReason,
			truncateStr(d.Reason, 42), version)
	}
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
