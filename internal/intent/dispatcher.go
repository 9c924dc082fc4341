package intent

import (
	"context"
	"fmt"
	"time"
)

// Handler executes one category of intent.
type Handler func(ctx context.Context, in Intent) (string, error)

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithName sets the assistant name used in replies. Default: "Luna".
func WithName(name string) DispatcherOption {
	return func(d *Dispatcher) {
		if name != "" {
			d.name = name
		}
	}
}

// WithSleepHook registers fn to be called when a [KindSleep] intent is
// executed. The interaction orchestrator uses it to end the command window.
func WithSleepHook(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onSleep = fn }
}

// WithHandler overrides the built-in handler for kind.
func WithHandler(kind Kind, h Handler) DispatcherOption {
	return func(d *Dispatcher) {
		if kind >= 0 && kind < numKinds && h != nil {
			d.overrides[kind] = h
		}
	}
}

// Dispatcher executes intents by kind. Each Kind resolves to exactly one
// handler; adding a Kind without a case in handlerFor is a bug caught by
// [Dispatcher.Execute] returning an error.
type Dispatcher struct {
	now       func() time.Time
	name      string
	onSleep   func()
	overrides [numKinds]Handler
}

var _ Executor = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher with the built-in handlers.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		now:  time.Now,
		name: "Luna",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Execute implements [Executor].
func (d *Dispatcher) Execute(ctx context.Context, in Intent) (string, error) {
	h := d.handlerFor(in.Kind)
	if h == nil {
		return "", fmt.Errorf("intent: no handler for kind %d", int(in.Kind))
	}
	return h(ctx, in)
}

func (d *Dispatcher) handlerFor(k Kind) Handler {
	if k >= 0 && k < numKinds && d.overrides[k] != nil {
		return d.overrides[k]
	}
	switch k {
	case KindGreeting:
		return d.greet
	case KindTime:
		return d.tellTime
	case KindDate:
		return d.tellDate
	case KindHelp:
		return d.help
	case KindSleep:
		return d.sleep
	case KindUnknown:
		return d.unknown
	}
	return nil
}

// Greeting returns the time-of-day salutation for t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning!"
	case h < 18:
		return "Good afternoon!"
	default:
		return "Good evening!"
	}
}

func (d *Dispatcher) greet(context.Context, Intent) (string, error) {
	return Greeting(d.now()), nil
}

func (d *Dispatcher) tellTime(context.Context, Intent) (string, error) {
	return "It's " + d.now().Format("3:04 PM") + ".", nil
}

func (d *Dispatcher) tellDate(context.Context, Intent) (string, error) {
	return "Today is " + d.now().Format("Monday, January 2, 2006") + ".", nil
}

func (d *Dispatcher) help(context.Context, Intent) (string, error) {
	return "You can ask me for the time or the date, or say goodbye when you're done.", nil
}

func (d *Dispatcher) sleep(context.Context, Intent) (string, error) {
	if d.onSleep != nil {
		d.onSleep()
	}
	return "Okay, I'll stop listening.", nil
}

func (d *Dispatcher) unknown(_ context.Context, in Intent) (string, error) {
	return fmt.Sprintf("Sorry, %s doesn't know how to help with %q yet.", d.name, in.Text), nil
}
