// Package notify carries interaction events to the presentation layer.
//
// Producers publish [Notification] values to a [Channel], a bounded queue that
// never blocks and drops the newest message when full. A [Bridge] drains the
// channel and fans every notification out to its subscribers, including
// WebSocket clients connected to its HTTP handler. There is no
// acknowledgement or backpressure from consumers.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/luna/internal/queue"
)

// Kind tags a notification.
type Kind string

const (
	// KindTranscription carries a command as heard by the assistant.
	KindTranscription Kind = "transcription"

	// KindResponse carries the assistant's reply to a command.
	KindResponse Kind = "response"

	// KindAsleep signals that the assistant went back to sleep. It has no
	// message.
	KindAsleep Kind = "luna_asleep"
)

// DefaultCapacity is the default [Channel] capacity.
const DefaultCapacity = 100

// Notification is one tagged message.
type Notification struct {
	Type    Kind   `json:"type"`
	Message string `json:"message,omitempty"`
}

// Publisher accepts notifications without blocking. It reports whether the
// notification was accepted.
type Publisher interface {
	Publish(n Notification) bool
}

// Channel is a bounded, drop-on-full notification queue. It is safe for
// concurrent use.
type Channel struct {
	q *queue.Bounded[Notification]
}

var _ Publisher = (*Channel)(nil)

// NewChannel returns a Channel holding at most capacity notifications.
// onDrop, if non-nil, is called for every dropped notification.
func NewChannel(capacity int, log *slog.Logger, onDrop func()) *Channel {
	opts := []queue.Option{queue.WithLogger(log)}
	if onDrop != nil {
		opts = append(opts, queue.WithDropHook(onDrop))
	}
	return &Channel{q: queue.NewBounded[Notification]("notifications", capacity, opts...)}
}

// Publish implements [Publisher].
func (c *Channel) Publish(n Notification) bool { return c.q.TryPush(n) }

// Receive waits for the next notification or until ctx is done.
func (c *Channel) Receive(ctx context.Context) (Notification, bool) {
	return c.q.PopContext(ctx)
}

// Poll waits at most timeout for the next notification.
func (c *Channel) Poll(timeout time.Duration) (Notification, bool) {
	return c.q.Pop(timeout)
}

// Len returns the number of queued notifications.
func (c *Channel) Len() int { return c.q.Len() }

// Dropped returns the number of notifications rejected because the channel
// was full.
func (c *Channel) Dropped() int64 { return c.q.Dropped() }
