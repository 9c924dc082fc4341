package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/luna/internal/queue"
)

// Recorder defaults.
const (
	DefaultRecorderCapacity = 256
	DefaultWriteTimeout     = 2 * time.Second
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecorderCapacity sets the pending-entry buffer size. Default: 256.
func WithRecorderCapacity(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithWriteTimeout bounds each store write. Default: 2s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRecorderLogger sets the logger. Default: [slog.Default].
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder buffers entries and appends them to a [Store] from its own
// goroutine. Store failures are logged and the entry is discarded.
type Recorder struct {
	store        Store
	capacity     int
	writeTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time

	pending *queue.Bounded[Entry]
}

// NewRecorder returns a Recorder writing to store. Call [Recorder.Run] to
// start writing.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        store,
		capacity:     DefaultRecorderCapacity,
		writeTimeout: DefaultWriteTimeout,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.pending = queue.NewBounded[Entry]("journal", r.capacity, queue.WithLogger(r.log))
	return r
}

// Record queues e for writing without blocking. It stamps e with the current
// time when At is zero and reports whether e was accepted.
func (r *Recorder) Record(e Entry) bool {
	if e.At.IsZero() {
		e.At = r.now()
	}
	return r.pending.TryPush(e)
}

// Run writes queued entries until ctx is cancelled, then flushes whatever is
// still pending. Each write is bounded by the write timeout rather than ctx.
// It always returns nil.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		e, ok := r.pending.PopContext(ctx)
		if !ok {
			break
		}
		r.write(e)
	}

	flushed := 0
	for {
		e, ok := r.pending.Pop(0)
		if !ok {
			break
		}
		r.write(e)
		flushed++
	}
	if flushed > 0 {
		r.log.Debug("journal flushed on shutdown", "entries", flushed)
	}
	return nil
}

func (r *Recorder) write(e Entry) {
	wctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if _, err := r.store.Append(wctx, e); err != nil {
		r.log.Warn("journal write failed", "kind", e.Kind, "err", err)
	}
}

// Pending returns the number of entries waiting to be written.
func (r *Recorder) Pending() int { return r.pending.Len() }

// Dropped returns the number of entries rejected because the buffer was full.
func (r *Recorder) Dropped() int64 { return r.pending.Dropped() }
