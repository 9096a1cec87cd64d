package streaming

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/apierr"
	"github.com/ocx/videogen/internal/events"
)

func TestHub_SubscribeDeliverUnsubscribe(t *testing.T) {
	h := NewHub(10, time.Minute, time.Minute)

	sub, err := h.Subscribe("job-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.ConnectionCount("job-1"))

	h.Deliver(&events.Event{JobID: "job-1", EventType: "stage.started"})

	select {
	case evt := <-sub.ch:
		assert.Equal(t, "stage.started", evt.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected delivered event")
	}

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.ConnectionCount("job-1"))
}

func TestHub_RejectsBeyondCap(t *testing.T) {
	h := NewHub(2, time.Minute, time.Minute)

	_, err := h.Subscribe("job-1", "user-1")
	require.NoError(t, err)
	_, err = h.Subscribe("job-1", "user-2")
	require.NoError(t, err)

	_, err = h.Subscribe("job-1", "user-3")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestHub_DeliverOnlyReachesScopedJob(t *testing.T) {
	h := NewHub(10, time.Minute, time.Minute)

	subA, err := h.Subscribe("job-a", "user-1")
	require.NoError(t, err)
	subB, err := h.Subscribe("job-b", "user-1")
	require.NoError(t, err)

	h.Deliver(&events.Event{JobID: "job-a", EventType: "stage.started"})

	select {
	case <-subA.ch:
	case <-time.After(time.Second):
		t.Fatal("job-a should have received its own event")
	}

	select {
	case <-subB.ch:
		t.Fatal("job-b should not receive job-a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SweepStaleEvictsExpiredConnections(t *testing.T) {
	h := NewHub(10, time.Minute, 10*time.Millisecond)

	sub, err := h.Subscribe("job-1", "user-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	evicted := h.SweepStale()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, h.ConnectionCount("job-1"))

	_, ok := <-sub.ch
	assert.False(t, ok, "evicted subscription channel should be closed")
}

func TestHub_TouchKeepsConnectionAlive(t *testing.T) {
	h := NewHub(10, time.Minute, 30*time.Millisecond)

	sub, err := h.Subscribe("job-1", "user-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	h.touch(sub)
	time.Sleep(20 * time.Millisecond)

	evicted := h.SweepStale()
	assert.Equal(t, 0, evicted, "touched connection should survive the sweep")
}

func TestHub_ServeSSEWritesInitialEventAndStreams(t *testing.T) {
	h := NewHub(10, time.Hour, time.Hour)

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/stream?job_id=job-1", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		h.ServeSSE(rec, req, "job-1", "user-1", map[string]interface{}{"status": "queued"})
		close(done)
	}()

	for h.ConnectionCount("job-1") == 0 {
		time.Sleep(time.Millisecond)
	}
	h.Deliver(&events.Event{JobID: "job-1", EventType: "stage.completed", Data: map[string]interface{}{"stage": "analysis"}})

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: stage.completed")
}
