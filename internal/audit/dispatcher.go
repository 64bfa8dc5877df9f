package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls how the dispatcher buffers events.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards routine events when the buffer is full. Alarms always wait.
	DropIfFull bool
}

// Dispatcher hands events to a Sink on a single background goroutine so slow sinks
// never add latency to Refresh.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  atomic.Bool
	dropped  atomic.Uint64
	alarms   atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled. All methods accept a nil receiver.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.wg.Go(d.deliver)
	return d
}

func (d *Dispatcher) deliver() {
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event. A routine event is dropped when the buffer is full and DropIfFull
// is set, or when ctx ends while waiting for room. An alarm ignores ctx and waits until
// it is queued or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case d.queue <- event:
		if event.IsAlarm() {
			d.alarms.Add(1)
		}
		return
	default:
	}

	switch {
	case event.IsAlarm():
		select {
		case d.queue <- event:
			d.alarms.Add(1)
		case <-d.stop:
		}
	case d.dropIfFull:
		d.dropped.Add(1)
	default:
		select {
		case d.queue <- event:
		case <-d.stop:
		case <-ctx.Done():
			d.dropped.Add(1)
		}
	}
}

// Close stops intake and flushes whatever is still queued.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped counts events discarded because the buffer was full or the caller gave up.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Alarms counts alarm events queued for delivery.
func (d *Dispatcher) Alarms() uint64 {
	if d == nil {
		return 0
	}
	return d.alarms.Load()
}
