// Package events is the in-process bus connecting the monitoring engine to
// the retraining orchestrator. Delivery is at-least-once within the process:
// publishes never block the monitoring tick, and consumers deduplicate by
// run id.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DriftAlert is emitted when a monitoring run crosses the dataset drift
// threshold.
type DriftAlert struct {
	RunID             string    `json:"run_id"`
	RunAt             time.Time `json:"run_at"`
	FeatureDriftRatio float64   `json:"feature_drift_ratio"`
	DriftedFeatures   []string  `json:"drifted_features"`
}

// ModelPromoted is emitted after a promotion transaction commits.
type ModelPromoted struct {
	ModelName  string    `json:"model_name"`
	Version    string    `json:"version"`
	DecisionID string    `json:"decision_id"`
	PromotedAt time.Time `json:"promoted_at"`
}

// Bus fans events out to subscribers. Publishing to a full subscriber drops
// the event for that subscriber rather than blocking the publisher.
type Bus struct {
	mu        sync.RWMutex
	driftSubs []chan DriftAlert
	promoSubs []chan ModelPromoted
	closed    bool
	logger    *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// SubscribeDrift registers a drift alert subscriber with the given buffer.
func (b *Bus) SubscribeDrift(buffer int) <-chan DriftAlert {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan DriftAlert, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.driftSubs = append(b.driftSubs, ch)
	return ch
}

// SubscribePromotions registers a promotion subscriber with the given buffer.
func (b *Bus) SubscribePromotions(buffer int) <-chan ModelPromoted {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ModelPromoted, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.promoSubs = append(b.promoSubs, ch)
	return ch
}

// PublishDrift delivers an alert to every subscriber without blocking.
func (b *Bus) PublishDrift(a DriftAlert) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.driftSubs {
		select {
		case ch <- a:
		default:
			b.logger.Warn("drift alert dropped for slow subscriber",
				zap.String("run_id", a.RunID))
		}
	}
}

// PublishPromotion delivers a promotion event to every subscriber without
// blocking.
func (b *Bus) PublishPromotion(e ModelPromoted) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.promoSubs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("promotion event dropped for slow subscriber",
				zap.String("version", e.Version))
		}
	}
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.driftSubs {
		close(ch)
	}
	for _, ch := range b.promoSubs {
		close(ch)
	}
	b.driftSubs = nil
	b.promoSubs = nil
}
