package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"driftguard/internal/evalgate"
	"driftguard/internal/store"
)

// rollbackCmd restores an archived version to Production
var rollbackCmd = &cobra.Command{
	Use:   "rollback <model_name> <version>",
	Short: "Restore an archived model version to Production",
	Long: `Moves an Archived model version back into Production under the same
atomic registry transaction the promotion path uses: the current
Production version (if any) is archived and the named version takes the
slot, or the whole operation rolls back.

Only Archived versions can be restored. The operation is recorded in the
decision audit trail as a manual promotion with reason "rollback".

Example:
  driftguard rollback credit-risk-model 4`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	modelName, version := args[0], args[1]

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var displaced *string
	if prev, err := a.store.ProductionVersion(ctx, modelName); err == nil {
		displaced = &prev.Version
	} else if !errors.Is(err, store.ErrNoProduction) {
		return err
	}

	decisionID := uuid.NewString()
	prom := evalgate.NewPromoter(a.store, nil, logger)
	if err := prom.Rollback(ctx, modelName, version, decisionID); err != nil {
		if errors.Is(err, store.ErrVersionNotFound) || errors.Is(err, store.ErrIllegalTransition) {
			return invariantErr(err)
		}
		return err
	}

	dec := &store.Decision{
		DecisionID:        decisionID,
		TriggerReason:     store.TriggerManual,
		Action:            store.ActionPromote,
		Reason:            "rollback",
		ShadowVersion:     &version,
		ProductionVersion: displaced,
	}
	if err := a.store.InsertDecision(ctx, dec); err != nil {
		return err
	}

	fmt.Printf("Rolled back %s to version %s\n", modelName, version)
	if displaced != nil {
		fmt.Printf("  Displaced:   v%s (archived)\n", *displaced)
	}
	fmt.Printf("  Decision ID: %s\n", decisionID)
	return nil
}
