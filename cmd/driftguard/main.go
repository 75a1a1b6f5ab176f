package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"driftguard/internal/artifacts"
	"driftguard/internal/config"
	"driftguard/internal/evalgate"
	"driftguard/internal/events"
	"driftguard/internal/featureset"
	"driftguard/internal/metrics"
	"driftguard/internal/orchestrator"
	"driftguard/internal/refstore"
	"driftguard/internal/store"
	"driftguard/internal/trainer"
)

// Exit codes. Operators script against these: 2 means a precondition was
// not met and the invocation can be retried after fixing it, 3 means a
// governance invariant was violated and someone should look at the audit
// trail before retrying anything.
const (
	exitPrecondition = 2
	exitInvariant    = 3
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded once in PersistentPreRunE, shared by every command.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "driftguard",
	Short: "driftguard - self-healing governance for a credit-risk model",
	Long: `driftguard watches a binary credit-risk classifier in production and keeps
it healthy without a human in the loop.

It monitors the prediction ledger for feature drift against a frozen
reference baseline, retrains a shadow model when drift or the schedule
demands it, replays recent labeled traffic through both models, and
promotes the shadow only when every gate of the promotion policy passes.
Every tick, decision, and promotion leaves an audit row.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the binary carries the same overrides the
		// container environment would.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "driftguard.yaml", "Configuration file (missing file means defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// Add commands to root
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// =============================================================================
// EXIT CODE PLUMBING
// =============================================================================

// exitCoder carries a specific process exit code through cobra's error
// return path.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

// preconditionErr marks err as a failed precondition (exit 2).
func preconditionErr(err error) error { return &exitCoder{code: exitPrecondition, err: err} }

// invariantErr marks err as a violated invariant (exit 3).
func invariantErr(err error) error { return &exitCoder{code: exitInvariant, err: err} }

func exitCode(err error) int {
	var ec *exitCoder
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// =============================================================================
// SHARED WIRING
// =============================================================================

// app bundles the storage handles every command opens first.
type app struct {
	store *store.Store
	refs  *refstore.Store
	arts  *artifacts.Store
}

func openApp() (*app, error) {
	st, err := store.Open(store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Schema: featureset.CreditRisk(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		store: st,
		refs:  refstore.New(cfg.Reference.Dir, logger),
		arts:  artifacts.New(cfg.Artifacts.Dir, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}

// buildOrchestrator wires the retraining pipeline over the app handles. The
// bus and metrics may be nil for one-shot invocations; promotions then go
// unannounced.
func buildOrchestrator(a *app, bus *events.Bus, set *metrics.Set) (*orchestrator.Orchestrator, error) {
	schema := featureset.CreditRisk()
	return orchestrator.New(orchestrator.Config{
		ModelName: cfg.Model.Name,
		Schema:    schema,
		Store:     a.store,
		Artifacts: a.arts,
		Trainer:   trainer.NewLogistic(schema, logger),
		Promoter:  evalgate.NewPromoter(a.store, bus, logger),
		Metrics:   set,
		Logger:    logger,
		Thresholds: evalgate.Thresholds{
			MinSamples:          cfg.Decision.MinSamples,
			MinCoveragePct:      cfg.Decision.MinCoveragePct,
			CooldownDays:        cfg.Decision.CooldownDays,
			MinF1ImprovementPct: cfg.Decision.MinF1ImprovementPct,
			MaxBrierDegradation: cfg.Decision.MaxBrierDegradation,
			MaxSegmentDropPct:   cfg.Decision.MinSegmentF1DropPct,
			SegmentMin:          cfg.Decision.SegmentMin,
		},
		TrainingWindow:  cfg.TrainingWindow(),
		TestFraction:    cfg.Training.TestFraction,
		TrainingTimeout: cfg.TrainingTimeout(),
		Seed:            cfg.Training.Seed,
		SegmentColumns:  cfg.Evaluation.SegmentColumns,
		SegmentBins:     cfg.Evaluation.SegmentBins,
	})
}

// productionModel loads and validates the current Production model blob.
// It returns store.ErrNoProduction when the registry has no Production row.
func productionModel(ctx context.Context, a *app) (*store.ModelVersion, *trainer.Model, error) {
	ver, err := a.store.ProductionVersion(ctx, cfg.Model.Name)
	if err != nil {
		return nil, nil, err
	}
	var model trainer.Model
	if err := a.arts.Get(ver.TrainingRunRef, &model); err != nil {
		return nil, nil, fmt.Errorf("failed to load production model blob %s: %w", ver.TrainingRunRef, err)
	}
	if err := model.Validate(); err != nil {
		return nil, nil, fmt.Errorf("production model blob %s is unusable: %w", ver.TrainingRunRef, err)
	}
	return ver, &model, nil
}
