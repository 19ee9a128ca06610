package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBacklogKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TraceCompleted, map[string]int{"n": i})
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.JSONEq(t, `{"n": 4}`, string(all[2].Data))

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)

	assert.Empty(t, h.SnapshotSince(5))

	// Snapshots are copies.
	since[0].Type = "mutated"
	assert.Equal(t, TraceCompleted, h.SnapshotSince(4)[0].Type)
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()

	published := h.Publish(EngineExited, nil)
	select {
	case ev := <-ch:
		assert.Equal(t, published.ID, ev.ID)
		assert.Equal(t, EngineExited, ev.Type)
		assert.Equal(t, "{}", string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	cancel()

	// Publishing after every subscriber left must not block.
	h.Publish(TraceFailed, map[string]string{"error": "boom"})
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish(TraceCompleted, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestHubUnmarshalableData(t *testing.T) {
	h := NewHub(1)
	h.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600)) }

	ev := h.Publish(TraceFailed, make(chan int))
	assert.Equal(t, "{}", string(ev.Data))
	assert.Equal(t, time.UTC, ev.At.Location())
}

func TestHubClose(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	h.Publish(TraceCompleted, nil)

	h.Close()
	h.Close()

	ev, ok := <-ch
	require.True(t, ok, "buffered event survives close")
	assert.Equal(t, int64(1), ev.ID)
	_, ok = <-ch
	assert.False(t, ok)
	cancel()

	late, lateCancel := h.Subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")

	ev = h.Publish(EngineExited, nil)
	assert.Equal(t, int64(2), ev.ID)
	assert.Len(t, h.SnapshotSince(0), 1)
}
