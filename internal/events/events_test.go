package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	s1 := b.SubscribeDrift(4)
	s2 := b.SubscribeDrift(4)

	alert := DriftAlert{RunID: "run-1", FeatureDriftRatio: 0.4, DriftedFeatures: []string{"age"}}
	b.PublishDrift(alert)

	for _, ch := range []<-chan DriftAlert{s1, s2} {
		select {
		case got := <-ch:
			assert.Equal(t, "run-1", got.RunID)
			assert.Equal(t, []string{"age"}, got.DriftedFeatures)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive alert")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch := b.SubscribeDrift(1)
	b.PublishDrift(DriftAlert{RunID: "run-1"})
	// Buffer full: this one is dropped, the publisher does not block.
	b.PublishDrift(DriftAlert{RunID: "run-2"})

	got := <-ch
	assert.Equal(t, "run-1", got.RunID)
	select {
	case extra, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra alert %s", extra.RunID)
		}
	default:
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus(nil)
	drift := b.SubscribeDrift(1)
	promo := b.SubscribePromotions(1)

	b.Close()

	_, ok := <-drift
	assert.False(t, ok)
	_, ok = <-promo
	assert.False(t, ok)

	// Idempotent, and publishing after close is a no-op.
	b.Close()
	b.PublishDrift(DriftAlert{RunID: "late"})

	// Subscribing after close yields a closed channel.
	late := b.SubscribePromotions(1)
	_, ok = <-late
	require.False(t, ok)
}

func TestPromotionEvents(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch := b.SubscribePromotions(2)
	b.PublishPromotion(ModelPromoted{ModelName: "credit-risk-model", Version: "3", DecisionID: "dec-9"})

	got := <-ch
	assert.Equal(t, "3", got.Version)
	assert.Equal(t, "dec-9", got.DecisionID)
}
