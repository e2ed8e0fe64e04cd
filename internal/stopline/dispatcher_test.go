package stopline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestDispatcherAppliesEventsInOrder(t *testing.T) {
	muteLogs(t)
	pts := circlePath(10, 10)
	pub := &recordingPublisher{}
	loop := NewLoop(LoopConfig{StopLines: []r2.Vec{flat(pts[4])}, Publisher: pub})
	d := NewDispatcher(loop, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	events := []Event{
		PathEvent{Points: pts},
		PoseEvent{Position: pts[0]},
	}
	for i := 0; i < 3; i++ {
		events = append(events,
			LightsEvent{Lights: []LightObservation{{Position: flat(pts[4]), Color: Red}}},
			FrameEvent{},
		)
	}
	for _, ev := range events {
		require.NoError(t, d.Submit(ctx, ev))
	}

	// queries and queued events race in Run's select
	require.Eventually(t, func() bool {
		snap, err := d.Snapshot(ctx)
		return err == nil && snap.Frames == 3
	}, time.Second, 5*time.Millisecond)

	snap, err := d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Signal.StopIndex)
	assert.Len(t, snap.Associations, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcherRejectedEventDoesNotStopLoop(t *testing.T) {
	muteLogs(t)
	loop := NewLoop(LoopConfig{})
	d := NewDispatcher(loop, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Submit(ctx, PathEvent{}))
	require.NoError(t, d.Submit(ctx, FrameEvent{}))
	require.Eventually(t, func() bool {
		snap, err := d.Snapshot(ctx)
		return err == nil && snap.Frames == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherCancelledContext(t *testing.T) {
	d := NewDispatcher(NewLoop(LoopConfig{}), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.Submit(ctx, FrameEvent{}), context.Canceled)
	_, err := d.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcherDoWaitsForAcceptedQuery(t *testing.T) {
	pts := circlePath(10, 10)
	d := NewDispatcher(NewLoop(LoopConfig{}), 1)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(runCtx)
	require.NoError(t, d.Submit(runCtx, PathEvent{Points: pts}))
	require.Eventually(t, func() bool {
		s, err := d.Snapshot(runCtx)
		return err == nil && s.PathLen == 10
	}, time.Second, 5*time.Millisecond)

	// the deadline passes while fn is running on the owner goroutine
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var snap Snapshot
	finished := false
	err := d.Do(ctx, func(l *Loop) {
		time.Sleep(60 * time.Millisecond)
		snap = l.Snapshot()
		finished = true
	})
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 10, snap.PathLen)
	assert.Error(t, ctx.Err())
}
