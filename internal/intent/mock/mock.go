// Package mock provides test doubles for [intent.Recognizer] and
// [intent.Executor].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/intent"
)

// Recognizer is a mock implementation of [intent.Recognizer].
type Recognizer struct {
	mu sync.Mutex

	// Kind is the category returned for every command.
	Kind intent.Kind

	// Err is returned when non-nil.
	Err error

	// Calls records every command text in order.
	Calls []string
}

var _ intent.Recognizer = (*Recognizer)(nil)

// Recognize records text and returns Kind with full confidence.
func (r *Recognizer) Recognize(_ context.Context, text string) (intent.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, text)
	if r.Err != nil {
		return intent.Intent{Text: text}, r.Err
	}
	return intent.Intent{Kind: r.Kind, Confidence: 1, Text: text}, nil
}

// CallCount returns the number of Recognize calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Executor is a mock implementation of [intent.Executor].
type Executor struct {
	mu sync.Mutex

	// Reply is returned from Execute. When empty, the command text is echoed.
	Reply string

	// Err is returned when non-nil.
	Err error

	// Delay makes each call block, honouring ctx cancellation.
	Delay time.Duration

	// Panic, when non-empty, makes Execute panic with this value for commands
	// whose text equals it.
	Panic string

	executed []intent.Intent
}

var _ intent.Executor = (*Executor)(nil)

// Execute records in and returns Reply or Err.
func (e *Executor) Execute(ctx context.Context, in intent.Intent) (string, error) {
	e.mu.Lock()
	delay, panicOn := e.Delay, e.Panic
	e.mu.Unlock()

	if panicOn != "" && in.Text == panicOn {
		panic("mock: executor panic on " + in.Text)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, in)
	if e.Err != nil {
		return "", e.Err
	}
	if e.Reply == "" {
		return in.Text, nil
	}
	return e.Reply, nil
}

// Executed returns a copy of every executed intent in order.
func (e *Executor) Executed() []intent.Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]intent.Intent, len(e.executed))
	copy(out, e.executed)
	return out
}
