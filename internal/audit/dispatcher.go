package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config is the engine's auth.audit section. BufferSize below one is
// raised to one.
type Config struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// Dispatcher carries events from engine operations to a Sink. A request
// pays at most one channel send; the sink runs on a single worker, in
// emission order.
//
// With DropIfFull a full queue costs the event. Otherwise the caller waits
// for room until its context ends. Either way a lost event is counted by
// Dropped, which the engine reports as stackauth_audit_dropped_total.
//
// A nil *Dispatcher, returned when auditing is off, accepts and discards
// events.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool

	stop      chan struct{}
	exited    chan struct{}
	stopping  atomic.Bool
	closeOnce sync.Once

	dropped atomic.Uint64
}

// NewDispatcher starts the worker, or returns nil when cfg is disabled.
// A nil sink discards.
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
		dropIfFull: cfg.DropIfFull,
		stop:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go d.work()
	return d
}

// work delivers until Close, then flushes whatever is still queued.
func (d *Dispatcher) work() {
	defer close(d.exited)
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.stop:
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

// deliver detaches from the request so a finished request cannot cancel
// its own audit record.
func (d *Dispatcher) deliver(e Event) {
	d.sink.Emit(context.Background(), e)
}

// Emit queues e for the sink. It is a no-op after Close.
func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if d.dropIfFull {
		select {
		case d.queue <- e:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- e:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close refuses further events, delivers the queued ones and returns once
// the worker has exited. Later calls return immediately.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
	})
	<-d.exited
}

// Dropped counts events that never reached the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
