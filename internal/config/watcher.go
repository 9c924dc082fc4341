package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a file and re-parses it when its content changes. Change
// detection compares the modification time first and the SHA-256 of the
// content second, so touching a file without editing it is ignored. A file
// that fails to parse keeps the previous value.
type Watcher[T any] struct {
	path     string
	parse    func([]byte) (T, error)
	interval time.Duration
	onChange func(old, new T)
	log      *slog.Logger

	mu       sync.Mutex
	current  T
	loaded   bool
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
	lastErr   string
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	interval time.Duration
	log      *slog.Logger
	lenient  bool
}

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Default: [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(o *watcherOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithLenientStart lets [NewWatcher] succeed when the file is missing or
// invalid. The watcher starts without a value and keeps polling; the first
// successful parse is reported to onChange with the zero value as old.
func WithLenientStart() WatcherOption {
	return func(o *watcherOptions) { o.lenient = true }
}

// NewWatcher parses path once and starts polling it. The initial parse
// must succeed unless [WithLenientStart] is given. onChange, if non-nil, is
// called from the polling goroutine after every successful reload with a
// changed content.
func NewWatcher[T any](path string, parse func([]byte) (T, error), onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: DefaultWatchInterval, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		path:     path,
		parse:    parse,
		interval: o.interval,
		onChange: onChange,
		log:      o.log,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.load()
	switch {
	case err == nil:
		w.current, w.lastHash, w.lastMtime, w.loaded = v, hash, mtime, true
	case o.lenient:
		w.lastErr = err.Error()
		w.log.Warn("config watcher: initial load failed, waiting for a valid file", "path", path, "err", err)
	default:
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}

	go w.poll()
	return w, nil
}

// Current returns the most recently parsed value and whether any parse has
// succeeded yet.
func (w *Watcher[T]) Current() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.loaded
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher[T]) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.warn("config watcher: cannot stat file", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	v, hash, mtime, err := w.load()
	if err != nil {
		// Remember the mtime so the same broken content is parsed once.
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		w.warn("config watcher: reload failed, keeping previous version", err)
		return
	}

	w.mu.Lock()
	w.lastErr = ""
	if w.loaded && hash == w.lastHash {
		w.lastMtime = mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash, w.lastMtime, w.loaded = v, hash, mtime, true
	w.mu.Unlock()

	w.log.Info("config watcher: file reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

// warn logs err unless it repeats the previous failure.
func (w *Watcher[T]) warn(msg string, err error) {
	w.mu.Lock()
	repeat := w.lastErr == err.Error()
	w.lastErr = err.Error()
	w.mu.Unlock()
	if !repeat {
		w.log.Warn(msg, "path", w.path, "err", err)
	}
}

func (w *Watcher[T]) load() (T, [sha256.Size]byte, time.Time, error) {
	var (
		zero     T
		zeroHash [sha256.Size]byte
	)
	info, err := os.Stat(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	v, err := w.parse(bytes.Clone(data))
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}
