package stopline

import (
	"context"

	"github.com/banshee-data/stopline/internal/monitoring"
)

// Dispatcher gives a Loop a single owning goroutine. Events from any number
// of transports are queued and applied one at a time; readers run closures
// on the same goroutine through Do, so they always see the state between two
// events.
type Dispatcher struct {
	loop    *Loop
	events  chan Event
	queries chan query
}

type query struct {
	fn   func(*Loop)
	done chan struct{}
}

// NewDispatcher wraps loop with an event queue of the given capacity.
func NewDispatcher(loop *Loop, capacity int) *Dispatcher {
	if capacity < 0 {
		capacity = 0
	}
	return &Dispatcher{
		loop:    loop,
		events:  make(chan Event, capacity),
		queries: make(chan query),
	}
}

// Submit queues ev, blocking until there is room or ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the owning goroutine and waits for it to return. ctx only
// bounds the wait for the owner to pick fn up; once it has, Do returns after
// fn does, so anything fn writes is safe to read afterwards.
func (d *Dispatcher) Do(ctx context.Context, fn func(*Loop)) error {
	q := query{fn: fn, done: make(chan struct{})}
	select {
	case d.queries <- q:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-q.done
	return nil
}

// Snapshot returns a copy of the loop state.
func (d *Dispatcher) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := d.Do(ctx, func(l *Loop) { s = l.Snapshot() })
	return s, err
}

// Run applies events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			if err := ev.Apply(d.loop); err != nil {
				monitoring.Logf("[stopline] event %T rejected: %v", ev, err)
			}
		case q := <-d.queries:
			q.fn(d.loop)
			close(q.done)
		}
	}
}
