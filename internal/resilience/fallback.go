package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/luna/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker. The last entry's error is wrapped alongside it.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup]. Its Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics ("stt", "tts", "llm"). The typed
	// wrappers fill it in when empty.
	Kind string

	// Metrics, when non-nil, receives one provider request per attempted
	// entry and one provider error per failed attempt.
	Metrics *observe.Metrics
}

// Provider request statuses recorded on [observe.Metrics.ProviderRequests].
const (
	statusOK          = "ok"
	statusError       = "error"
	statusCircuitOpen = "circuit_open"
)

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary and then each fallback, in registration
// order, skipping entries whose breaker is open.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Breakers returns the current breaker state of every entry by name.
func (fg *FallbackGroup[T]) Breakers() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute runs fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry of fg until one succeeds and
// returns its result. When all fail the error wraps both [ErrAllFailed] and
// the last entry's error.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.record(entry.name, statusOK)
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.record(entry.name, statusCircuitOpen)
			fg.log.Debug("skipping provider, circuit open", "provider", entry.name)
			continue
		}
		fg.record(entry.name, statusError)
		if i < len(fg.entries)-1 {
			fg.log.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(provider, status string) {
	m := fg.cfg.Metrics
	if m == nil {
		return
	}
	ctx := context.Background()
	m.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	if status == statusError {
		m.RecordProviderError(ctx, provider, fg.cfg.Kind)
	}
}

// withKind returns cfg with Kind set to kind unless already set.
func withKind(cfg FallbackConfig, kind string) FallbackConfig {
	if cfg.Kind == "" {
		cfg.Kind = kind
	}
	return cfg
}
