package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/journal"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// Processor defaults.
const (
	DefaultCommandCapacity = 100
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultStopTimeout     = 5 * time.Second
	DefaultCommandTimeout  = 30 * time.Second
)

// Journal accepts interaction events without blocking. [journal.Recorder]
// satisfies it.
type Journal interface {
	Record(e journal.Entry) bool
}

var _ Journal = (*journal.Recorder)(nil)

// Command is one transcribed command awaiting processing.
type Command struct {
	Text       string
	ReceivedAt time.Time
}

// ProcessorOption configures a [Processor].
type ProcessorOption func(*Processor)

// WithCommandCapacity sets the command queue size. Default: 100.
func WithCommandCapacity(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithPollInterval sets how long the worker waits for a command before
// re-checking for a stop request. Default: 500ms.
func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithStopTimeout bounds how long [Processor.Stop] waits for the worker.
// Default: 5s.
func WithStopTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithCommandTimeout bounds recognition plus execution of one command.
// Default: 30s.
func WithCommandTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.commandTimeout = d
		}
	}
}

// WithReplySpeaker speaks every reply in addition to publishing it.
func WithReplySpeaker(s tts.Speaker) ProcessorOption {
	return func(p *Processor) { p.speaker = s }
}

// WithProcessorPublisher sets where transcriptions and replies are published.
func WithProcessorPublisher(pub notify.Publisher) ProcessorOption {
	return func(p *Processor) { p.publisher = pub }
}

// WithProcessorJournal records commands and replies.
func WithProcessorJournal(j Journal) ProcessorOption {
	return func(p *Processor) { p.journal = j }
}

// WithProcessorMetrics records command outcomes and queue drops on m.
func WithProcessorMetrics(m *observe.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithProcessorLogger sets the logger. Default: [slog.Default].
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// session is one Start/Stop cycle of the worker goroutine.
type session struct {
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Processor queues commands and executes them one at a time on a worker
// goroutine that runs between [Processor.Start] and [Processor.Stop].
//
// Start, Stop and Submit are safe for concurrent use. Starting a running
// processor or stopping a stopped one is logged and otherwise ignored.
type Processor struct {
	recognizer     intent.Recognizer
	executor       intent.Executor
	speaker        tts.Speaker
	publisher      notify.Publisher
	journal        Journal
	metrics        *observe.Metrics
	log            *slog.Logger
	capacity       int
	pollInterval   time.Duration
	stopTimeout    time.Duration
	commandTimeout time.Duration
	now            func() time.Time

	commands *queue.Bounded[Command]

	mu      sync.Mutex
	current *session
	windows uint64
}

// NewProcessor returns a stopped Processor.
func NewProcessor(rec intent.Recognizer, exec intent.Executor, opts ...ProcessorOption) *Processor {
	p := &Processor{
		recognizer:     rec,
		executor:       exec,
		log:            slog.Default(),
		capacity:       DefaultCommandCapacity,
		pollInterval:   DefaultPollInterval,
		stopTimeout:    DefaultStopTimeout,
		commandTimeout: DefaultCommandTimeout,
		now:            time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	qopts := []queue.Option{queue.WithLogger(p.log)}
	if p.metrics != nil {
		m := p.metrics
		qopts = append(qopts, queue.WithDropHook(func() {
			m.RecordQueueDrop(context.Background(), "commands")
		}))
	}
	p.commands = queue.NewBounded[Command]("commands", p.capacity, qopts...)
	return p
}

// Start launches the worker goroutine. It reports whether a new session was
// started; false means the processor was already running.
func (p *Processor) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.log.Warn("already listening for commands")
		return false
	}

	p.windows++
	ctx, cancel := context.WithCancel(observe.WakeWindow(context.Background(), p.windows))
	s := &session{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	p.current = s
	go p.loop(ctx, s)
	p.log.Info("listening for commands")
	return true
}

// Stop ends the current session. It waits at most the stop timeout for the
// worker to finish the command in progress; past that the command's context
// is cancelled and Stop returns without waiting further. Commands still
// queued are discarded.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.current
	if s == nil {
		p.log.Info("not currently listening for commands")
		return
	}
	p.current = nil

	close(s.stop)
	t := time.NewTimer(p.stopTimeout)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		p.log.Warn("command processor did not stop in time, abandoning it",
			"timeout", p.stopTimeout,
		)
	}
	s.cancel()

	if n := p.commands.Drain(); n > 0 {
		p.log.Info("discarded pending commands", "count", n)
	}
	p.log.Info("stopped listening for commands")
}

// Running reports whether a session is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Pending returns the number of queued commands.
func (p *Processor) Pending() int { return p.commands.Len() }

// Dropped returns the number of commands rejected because the queue was full.
func (p *Processor) Dropped() int64 { return p.commands.Dropped() }

// Submit queues text for processing without blocking. A queued command is
// published as a transcription notification. Submit reports false when the
// processor is stopped, text is blank or the queue is full.
func (p *Processor) Submit(text string) bool {
	if text == "" {
		return false
	}
	p.mu.Lock()
	running := p.current != nil
	p.mu.Unlock()
	if !running {
		p.log.Debug("command ignored, not listening", "text", text)
		return false
	}

	cmd := Command{Text: text, ReceivedAt: p.now()}
	if !p.commands.TryPush(cmd) {
		return false
	}
	p.publish(notify.KindTranscription, text)
	p.record(journal.KindCommand, text, cmd.ReceivedAt)
	return true
}

func (p *Processor) loop(ctx context.Context, s *session) {
	defer close(s.done)
	p.log.Debug("command processor started")
	for {
		select {
		case <-s.stop:
			p.log.Debug("command processor ending")
			return
		default:
		}
		cmd, ok := p.commands.Pop(p.pollInterval)
		if !ok {
			continue
		}
		p.process(ctx, cmd)
	}
}

// process handles one command. Failures, panics included, are logged and
// never end the loop.
func (p *Processor) process(parent context.Context, cmd Command) {
	ctx, cancel := context.WithTimeout(parent, p.commandTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "interaction.command",
		trace.WithAttributes(attribute.Int("command.length", len(cmd.Text))),
	)
	defer span.End()
	ctx = observe.WithAttrs(ctx, slog.String("command", cmd.Text))
	log := observe.Logger(ctx, p.log)
	start := time.Now()

	kind := intent.KindUnknown
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			span.SetStatus(codes.Error, "panic")
			log.Error("command processing panicked", "panic", r)
		}
		if p.metrics != nil {
			p.metrics.CommandDuration.Record(ctx, time.Since(start).Seconds())
			p.metrics.RecordCommand(ctx, kind.String(), status)
		}
	}()

	log.Info("processing command")
	in, err := p.recognizer.Recognize(ctx, cmd.Text)
	if err != nil {
		status = "recognize_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("intent recognition failed", "err", err)
		return
	}
	kind = in.Kind
	span.SetAttributes(attribute.String("intent", kind.String()))

	reply, err := p.executor.Execute(ctx, in)
	if err != nil {
		status = "execute_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("intent execution failed", "intent", kind, "err", fmt.Errorf("interaction: execute: %w", err))
		return
	}

	p.publish(notify.KindResponse, reply)
	p.record(journal.KindResponse, reply, p.now())
	if p.speaker != nil && reply != "" {
		speakStart := time.Now()
		err := p.speaker.Speak(ctx, reply)
		if p.metrics != nil {
			p.metrics.RecordSpeech(ctx, time.Since(speakStart), err)
		}
		if err != nil {
			log.Warn("failed to speak reply", "err", err)
		}
	}
	log.Info("command handled", "intent", kind, "reply", reply, "elapsed", time.Since(start))
}

func (p *Processor) publish(kind notify.Kind, msg string) {
	if p.publisher == nil {
		return
	}
	if !p.publisher.Publish(notify.Notification{Type: kind, Message: msg}) {
		p.log.Debug("notification dropped", "type", kind)
	}
}

func (p *Processor) record(kind journal.Kind, text string, at time.Time) {
	if p.journal != nil {
		p.journal.Record(journal.Entry{Kind: kind, Text: text, At: at})
	}
}
