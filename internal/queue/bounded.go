// Package queue provides a fixed-capacity FIFO used between the pipeline
// stages of the voice front end.
//
// [Bounded] never blocks producers: inserting into a full queue drops the
// incoming item and logs a warning. Items already queued are never evicted.
// Consumers pop with a timeout so that their loops can re-check a running flag.
package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Bounded is a fixed-capacity, non-blocking-insert FIFO backed by a buffered
// channel. It is safe for concurrent use by any number of producers and
// consumers.
type Bounded[T any] struct {
	name    string
	ch      chan T
	log     *slog.Logger
	onDrop  func()
	dropped atomic.Int64
}

// Option configures a [Bounded] queue.
type Option func(*options)

type options struct {
	log    *slog.Logger
	onDrop func()
}

// WithLogger sets the logger used for overflow warnings.
// The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDropHook registers fn to be called once for every dropped item, after
// the warning is logged. Typically used to increment a metric.
func WithDropHook(fn func()) Option {
	return func(o *options) { o.onDrop = fn }
}

// NewBounded returns an empty queue named name holding at most capacity items.
// A capacity below 1 is raised to 1.
func NewBounded[T any](name string, capacity int, opts ...Option) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bounded[T]{
		name:   name,
		ch:     make(chan T, capacity),
		log:    o.log,
		onDrop: o.onDrop,
	}
}

// TryPush inserts v without blocking. When the queue is full, v is dropped,
// a warning is logged and false is returned.
func (q *Bounded[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
	}
	total := q.dropped.Add(1)
	q.log.Warn("queue full, dropping newest item",
		"queue", q.name,
		"capacity", cap(q.ch),
		"dropped_total", total,
	)
	if q.onDrop != nil {
		q.onDrop()
	}
	return false
}

// Pop removes the oldest item, waiting at most timeout for one to arrive.
// The boolean is false when the timeout elapsed with the queue still empty.
// A non-positive timeout polls without waiting.
func (q *Bounded[T]) Pop(timeout time.Duration) (T, bool) {
	if timeout <= 0 {
		select {
		case v := <-q.ch:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-t.C:
		var zero T
		return zero, false
	}
}

// PopContext removes the oldest item, waiting until one arrives or ctx is done.
func (q *Bounded[T]) PopContext(ctx context.Context) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Drain discards every queued item and returns how many were removed.
func (q *Bounded[T]) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int { return cap(q.ch) }

// Dropped returns the number of items rejected since construction.
func (q *Bounded[T]) Dropped() int64 { return q.dropped.Load() }

// Name returns the label used in log lines.
func (q *Bounded[T]) Name() string { return q.name }
