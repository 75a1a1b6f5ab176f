package evalgate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"driftguard/internal/events"
	"driftguard/internal/store"
)

// Promoter is the only component that moves registry versions between
// stages. Promotion is a single registry transaction, so readers observe
// either the old production model or the new one, never both.
type Promoter struct {
	store  *store.Store
	bus    *events.Bus
	logger *zap.Logger
}

func NewPromoter(st *store.Store, bus *events.Bus, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{store: st, bus: bus, logger: logger}
}

// Promote moves version into Production and archives the previous
// production version. A concurrent winner surfaces as
// store.ErrRegistryConflict and leaves the registry untouched.
func (p *Promoter) Promote(ctx context.Context, modelName, version, decisionID string) error {
	if err := p.store.PromoteVersion(ctx, modelName, version, decisionID); err != nil {
		return err
	}
	promotedAt := time.Now().UTC()
	p.logger.Info("model promoted to production",
		zap.String("model_name", modelName),
		zap.String("version", version),
		zap.String("decision_id", decisionID))
	if p.bus != nil {
		p.bus.PublishPromotion(events.ModelPromoted{
			ModelName:  modelName,
			Version:    version,
			DecisionID: decisionID,
			PromotedAt: promotedAt,
		})
	}
	return nil
}

// Rollback restores a previously archived version to Production, archiving
// the current production version.
func (p *Promoter) Rollback(ctx context.Context, modelName, version, decisionID string) error {
	if err := p.store.RestoreVersion(ctx, modelName, version, decisionID); err != nil {
		return err
	}
	p.logger.Info("model restored to production",
		zap.String("model_name", modelName),
		zap.String("version", version),
		zap.String("decision_id", decisionID))
	if p.bus != nil {
		p.bus.PublishPromotion(events.ModelPromoted{
			ModelName:  modelName,
			Version:    version,
			DecisionID: decisionID,
			PromotedAt: time.Now().UTC(),
		})
	}
	return nil
}
