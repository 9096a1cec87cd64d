package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/fabric"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("job-1")
	defer b.Unsubscribe("job-1", ch)

	b.Emit("job-1", "stage.started", map[string]interface{}{"stage": "analysis"})

	select {
	case evt := <-ch:
		assert.Equal(t, "stage.started", evt.EventType)
		assert.Equal(t, "job-1", evt.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}
}

func TestBus_ScopedToJob(t *testing.T) {
	b := NewBus()
	chA := b.Subscribe("job-a")
	chB := b.Subscribe("job-b")
	defer b.Unsubscribe("job-a", chA)
	defer b.Unsubscribe("job-b", chB)

	b.Emit("job-a", "stage.started", nil)

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("job-a should have received its own event")
	}

	select {
	case <-chB:
		t.Fatal("job-b should not receive job-a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDurableBus_RemoteFanOut(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	busA := NewDurableBus(gw)
	busB := NewDurableBus(gw)

	ctx := context.Background()
	unsub, err := busB.SubscribeRemote(ctx, "job-1")
	require.NoError(t, err)
	defer unsub()

	ch := busB.Subscribe("job-1")
	defer busB.Unsubscribe("job-1", ch)

	busA.Emit(ctx, "job-1", "stage.completed", map[string]interface{}{"stage": "analysis"})

	select {
	case evt := <-ch:
		assert.Equal(t, "stage.completed", evt.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected remote-forwarded event")
	}
}
