package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"driftguard/internal/store"
)

var triggerReason string

// triggerCmd runs one orchestration pass
var triggerCmd = &cobra.Command{
	Use:   "trigger-retraining",
	Short: "Run one retraining orchestration and print the decision",
	Long: `Runs the retraining pipeline once: checks sample and label-coverage
preconditions, trains a shadow model on the labeled window, replays the
window through both models, and asks the promotion gate for a verdict.

The decision is recorded in the audit trail whatever the outcome. The
process exits 0 when the run reached a promote or reject verdict, and 2
when a precondition (samples, coverage, an orchestration already in
flight) cut the run short.

Example:
  driftguard trigger-retraining --reason manual`,
	RunE: runTriggerRetraining,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerReason, "reason", store.TriggerManual, "Trigger reason recorded in the decision (manual, scheduled, drift_alert)")
}

func runTriggerRetraining(cmd *cobra.Command, args []string) error {
	switch triggerReason {
	case store.TriggerManual, store.TriggerScheduled, store.TriggerDriftAlert:
	default:
		return fmt.Errorf("invalid --reason %q (valid: manual, scheduled, drift_alert)", triggerReason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TrainingTimeout()+time.Minute)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nRetraining cancelled")
		cancel()
	}()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orc, err := buildOrchestrator(a, nil, nil)
	if err != nil {
		return err
	}

	dec, err := orc.Run(ctx, triggerReason)
	if err != nil {
		return err
	}

	printDecision(dec)

	if dec.Action == store.ActionSkip {
		err := fmt.Errorf("retraining skipped: %s", dec.Reason)
		if strings.HasPrefix(dec.Reason, "training_") || strings.HasPrefix(dec.Reason, "promotion failed") {
			return err
		}
		return preconditionErr(err)
	}
	return nil
}

func printDecision(d *store.Decision) {
	fmt.Println("Retraining decision")
	fmt.Println("===================")
	fmt.Printf("  Decision ID:  %s\n", d.DecisionID)
	fmt.Printf("  Decided at:   %s\n", d.DecidedAt.Format(time.RFC3339))
	fmt.Printf("  Trigger:      %s\n", d.TriggerReason)
	fmt.Printf("  Action:       %s\n", d.Action)
	fmt.Printf("  Reason:       %s\n", d.Reason)
	if d.FailedGate != nil {
		fmt.Printf("  Failed gate:  %s\n", *d.FailedGate)
	}
	if d.LabeledSamples != nil && d.CoveragePct != nil {
		fmt.Printf("  Labeled:      %d rows (%.1f%% coverage)\n", *d.LabeledSamples, *d.CoveragePct)
	}
	if d.ShadowVersion != nil {
		fmt.Printf("  Shadow:       v%s\n", *d.ShadowVersion)
	}
	if d.ProductionVersion != nil {
		fmt.Printf("  Production:   v%s\n", *d.ProductionVersion)
	}
	if d.F1ImprovementPct != nil {
		fmt.Printf("  F1 change:    %+.2f%%\n", *d.F1ImprovementPct)
	}
	if d.BrierChange != nil {
		fmt.Printf("  Brier change: %+.4f\n", *d.BrierChange)
	}
	if d.EvalArtifactRef != nil {
		fmt.Printf("  Evidence:     %s\n", *d.EvalArtifactRef)
	}
}
