package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"driftguard/internal/featureset"
	"driftguard/internal/refstore"
	"driftguard/internal/store"
)

var bootstrapReferenceDir string

// bootstrapCmd freezes the reference baseline
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-reference <rows.csv>",
	Short: "Freeze the drift reference baseline from a CSV snapshot",
	Long: `Reads feature rows from a CSV file and freezes them as the reference
baseline that all drift comparisons run against.

The CSV must carry a header with every feature column of the credit-risk
schema; extra columns (a target, timestamps) are ignored. Bootstrapping is
a one-time operation: an existing baseline is never overwritten. Replacing
it means deleting the reference directory first and accepting that old
drift verdicts are no longer reproducible.

Example:
  driftguard bootstrap-reference data/cs-training.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runBootstrapReference,
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapReferenceDir, "reference-dir", "", "Baseline directory (default from config)")
}

func runBootstrapReference(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if bootstrapReferenceDir != "" {
		cfg.Reference.Dir = bootstrapReferenceDir
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	schema := featureset.CreditRisk()
	ds, err := featureset.ReadCSV(f, schema, featureset.CSVOptions{})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	baseline, err := a.refs.Bootstrap(schema, ds.Rows)
	if err != nil {
		if errors.Is(err, refstore.ErrAlreadyExists) {
			return preconditionErr(err)
		}
		return err
	}

	// Mirror the baseline identity into the database so audit rows and the
	// on-disk files can be cross-checked later.
	schemaJSON, err := json.Marshal(baseline.Schema)
	if err != nil {
		return err
	}
	if err := a.store.PutReferenceInfo(ctx, &store.ReferenceInfo{
		ReferenceID:   baseline.ReferenceID,
		FeatureSchema: string(schemaJSON),
		RowCount:      baseline.RowCount,
		ContentDigest: baseline.ContentDigest,
		CreatedAt:     baseline.CreatedAt,
	}); err != nil {
		return err
	}

	fmt.Println("Reference baseline frozen")
	fmt.Printf("  Reference ID: %s\n", baseline.ReferenceID)
	fmt.Printf("  Rows:         %d\n", baseline.RowCount)
	fmt.Printf("  Digest:       %s\n", baseline.ContentDigest)
	fmt.Printf("  Directory:    %s\n", a.refs.Dir())
	return nil
}
