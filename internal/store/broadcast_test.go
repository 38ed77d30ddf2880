package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
)

func TestHubPublishFanout(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(model.Item{ID: "t1"})

	require.Equal(t, "t1", (<-a.C).ID)
	require.Equal(t, "t1", (<-b.C).ID)
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe()
	sub.Cancel()

	// Channel is closed; no events after cancel.
	_, open := <-sub.C
	require.False(t, open)

	// Publishing to a cancelled subscription must not panic.
	h.Publish(model.Item{ID: "t1"})
}

func TestHubCancelIdempotent(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe()
	sub.Cancel()
	sub.Cancel()
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe()
	defer sub.Cancel()

	// Overfill the buffer; publisher must never block.
	for i := 0; i < subscriptionBuffer+5; i++ {
		h.Publish(model.Item{ID: "t1"})
	}

	drained := 0
	for {
		select {
		case <-sub.C:
			drained++
			continue
		default:
		}
		break
	}
	require.Equal(t, subscriptionBuffer, drained)
}

func TestHubClose(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe()

	h.Close()
	_, open := <-sub.C
	require.False(t, open)

	// Late subscribers get an already-closed stream.
	late := h.Subscribe()
	_, open = <-late.C
	require.False(t, open)
	late.Cancel()

	// Cancel after close is a no-op.
	sub.Cancel()
}
