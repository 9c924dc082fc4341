package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/luna/internal/observe"
)

// DefaultClientBuffer is the per-subscriber buffer size.
const DefaultClientBuffer = 32

// BridgeOption configures a [Bridge].
type BridgeOption func(*Bridge)

// WithClientBuffer sets the per-subscriber buffer size. Default: 32.
func WithClientBuffer(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.clientBuffer = n
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket connections. See [websocket.AcceptOptions.OriginPatterns].
func WithOriginPatterns(patterns ...string) BridgeOption {
	return func(b *Bridge) { b.origins = patterns }
}

// WithWriteTimeout bounds each WebSocket write. Default: 5s.
func WithWriteTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

// WithBridgeMetrics records subscriber counts and drops on m.
func WithBridgeMetrics(m *observe.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithBridgeLogger sets the logger. Default: [slog.Default].
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// subscriber is one fan-out target with its own bounded buffer.
type subscriber struct {
	ch chan Notification
}

// Bridge fans notifications from a [Channel] out to subscribers. Each
// subscriber has its own bounded buffer; a slow subscriber loses
// notifications without affecting the others.
type Bridge struct {
	source       *Channel
	clientBuffer int
	origins      []string
	writeTimeout time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBridge returns a Bridge draining source. Call [Bridge.Run] to start
// delivery.
func NewBridge(source *Channel, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		source:       source,
		clientBuffer: DefaultClientBuffer,
		writeTimeout: 5 * time.Second,
		log:          slog.Default(),
		subs:         make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run delivers notifications until ctx is cancelled. It always returns nil
// so that it can be used directly in an errgroup.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		n, ok := b.source.Receive(ctx)
		if !ok {
			return nil
		}
		b.broadcast(n)
	}
}

func (b *Bridge) broadcast(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- n:
		default:
			b.log.Warn("notification subscriber full, dropping notification", "type", n.Type)
			if b.metrics != nil {
				b.metrics.RecordQueueDrop(context.Background(), "notify_subscriber")
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its receive channel and a
// function that unregisters it. The channel is closed by the cancel function.
func (b *Bridge) Subscribe() (<-chan Notification, func()) {
	s := &subscriber{ch: make(chan Notification, b.clientBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.NotificationClients.Add(context.Background(), 1)
	}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.NotificationClients.Add(context.Background(), -1)
			}
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bridge) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeHTTP upgrades the request to a WebSocket and streams every
// notification as a JSON text message until the client disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		b.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// once the client goes away.
	ctx := conn.CloseRead(r.Context())

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	b.log.Info("notification client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			b.log.Info("notification client disconnected", "remote", r.RemoteAddr)
			return
		case n := <-ch:
			data, err := json.Marshal(n)
			if err != nil {
				b.log.Error("failed to encode notification", "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				b.log.Warn("notification write failed, closing client", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
