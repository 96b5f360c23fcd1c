package goAuthClient

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher moves events off the caller's goroutine. One worker feeds
// the sink in order; Close delivers whatever is still queued before
// returning.
type eventDispatcher struct {
	sink       EventSink
	dropIfFull bool

	// mu orders sends against close(queue): senders hold the read lock.
	mu      sync.RWMutex
	queue   chan Event
	stopped bool
	drained chan struct{}

	dropped atomic.Uint64
}

// newEventDispatcher returns nil when events are disabled; the Session then
// delivers synchronously.
func newEventDispatcher(cfg EventsConfig, sink EventSink) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		drained:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *eventDispatcher) run() {
	defer close(d.drained)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues ev. A full queue either drops and counts the event or blocks
// until there is room or ctx ends, depending on DropIfFull.
func (d *eventDispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	}
}

func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.drained
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
