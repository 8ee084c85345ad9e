package bus_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/DevJayantaGhosh/sherlock/internal/bus"
	"github.com/DevJayantaGhosh/sherlock/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_Ordering(t *testing.T) {
	t.Parallel()
	b := bus.New()
	a := b.Subscribe("s1", 0)
	other := b.Subscribe("s2", 16)
	defer other.Close()
	require.Equal(t, 1, b.Subscribers("s1"))

	go func() {
		for i := range 100 {
			b.PublishLog(t.Context(), model.LogEvent{SessionID: "s1", Progress: i})
		}
		b.PublishDone(t.Context(), model.Completion{SessionID: "s1", Success: true})
	}()

	var progress []int
	var done *model.Completion
	for ev := range a.C {
		if ev.Log != nil {
			require.Nil(t, done, "no log after completion")
			progress = append(progress, ev.Log.Progress)
		}
		if ev.Completion != nil {
			require.Nil(t, done, "single completion")
			done = ev.Completion
		}
	}
	require.Len(t, progress, 100)
	for i, p := range progress {
		require.Equal(t, i, p)
	}
	require.NotNil(t, done)
	require.True(t, done.Success)
	require.Zero(t, b.Subscribers("s1"))
	require.Len(t, other.C, 0, "events are session scoped")
	a.Close()
}

func TestBus_ClosedSubscriberNeverBlocks(t *testing.T) {
	t.Parallel()
	b := bus.New()
	s := b.Subscribe("s1", 0)
	s.Close()
	s.Close()
	require.Zero(t, b.Subscribers("s1"))

	b.PublishLog(t.Context(), model.LogEvent{SessionID: "s1", Log: "dropped"})
	b.PublishDone(t.Context(), model.Completion{SessionID: "s1"})
}

func TestBus_PublishHonoursContext(t *testing.T) {
	t.Parallel()
	b := bus.New()
	s := b.Subscribe("s1", 0)
	defer s.Close()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	b.PublishLog(ctx, model.LogEvent{SessionID: "s1"})
}

func TestBus_DoneContextKeepsRoomyDelivery(t *testing.T) {
	t.Parallel()
	b := bus.New()
	roomy := b.Subscribe("s1", 1)
	stalled := b.Subscribe("s1", 0)
	defer stalled.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	b.PublishDone(ctx, model.Completion{SessionID: "s1", Cancelled: true})

	var got []bus.Event
	for ev := range roomy.C {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Completion)
	require.True(t, got[0].Completion.Cancelled)
	_, open := <-stalled.C
	require.False(t, open)
	roomy.Close()
}

func TestBus_Cancel(t *testing.T) {
	t.Parallel()
	b := bus.New()

	require.False(t, b.Cancel("s1").Cancelled, "no handler registered")

	var calls atomic.Int32
	release := b.HandleCancel("s1", func() model.CancelResult {
		calls.Add(1)
		return model.CancelResult{Cancelled: true}
	})
	defer release()

	require.True(t, b.Cancel("s1").Cancelled)
	require.False(t, b.Cancel("s1").Cancelled, "one-shot")
	require.EqualValues(t, 1, calls.Load())

	release2 := b.HandleCancel("s2", func() model.CancelResult { return model.CancelResult{Cancelled: true} })
	release2()
	release2()
	require.False(t, b.Cancel("s2").Cancelled, "released handler")
}
