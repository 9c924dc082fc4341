package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/journal"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/phrase"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// Orchestrator defaults.
const (
	DefaultInactivityTimeout = 15 * time.Second
	DefaultTranscriptBuffer  = 16
	DefaultIntroduction      = "I'm Luna, your voice assistant. How can I help you?"
)

// ErrAlreadyRunning is returned by [Orchestrator.Run] when called twice.
var ErrAlreadyRunning = errors.New("interaction: orchestrator already running")

// Listener is the capture session feeding transcripts. [capture.Stream]
// satisfies it.
type Listener interface {
	StartListening(onTranscript func(text string)) error
	StopListening()
}

var _ Listener = (*capture.Stream)(nil)

// Detector finds wake and sleep phrases in a transcript. [phrase.Matcher]
// satisfies it.
type Detector interface {
	Detect(ctx context.Context, transcript string) (phrase.Match, bool)
}

var _ Detector = (*phrase.Matcher)(nil)

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithInactivityTimeout sets how long the assistant listens for commands
// after waking. The window is fixed: commands do not extend it.
// Default: 15s.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithGreeting replaces the time-of-day greeting spoken on wake.
func WithGreeting(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.greeting = fn
		}
	}
}

// WithIntroduction sets the sentence spoken after the greeting.
func WithIntroduction(text string) Option {
	return func(o *Orchestrator) {
		if text != "" {
			o.introduction = text
		}
	}
}

// WithSpeaker sets the speech output for the greeting and introduction.
func WithSpeaker(s tts.Speaker) Option {
	return func(o *Orchestrator) { o.speaker = s }
}

// WithPublisher sets where greetings and sleep events are published.
func WithPublisher(p notify.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithJournal records wake and sleep events.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics records phrase events and the awake gauge on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTranscriptBuffer sets how many transcripts may wait for the
// orchestrator before new ones are dropped. Default: 16.
func WithTranscriptBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.transcriptBuffer = n
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// Orchestrator runs the interaction state machine. All state lives in the
// Run goroutine; other goroutines reach it through [Orchestrator.HandleTranscript]
// and [Orchestrator.RequestSleep].
type Orchestrator struct {
	listener         Listener
	detector         Detector
	processor        *Processor
	speaker          tts.Speaker
	publisher        notify.Publisher
	journal          Journal
	metrics          *observe.Metrics
	log              *slog.Logger
	timeout          time.Duration
	greeting         func() string
	introduction     string
	transcriptBuffer int

	transcripts chan string
	timerFired  chan uint64
	sleepReq    chan struct{}

	started atomic.Bool
	state   atomic.Int32

	// Owned by the Run goroutine.
	current     State
	timerGen    uint64
	timerCancel context.CancelFunc
	timerDone   chan struct{}
}

// New returns an Orchestrator in [StateSleeping]. The listener is started by
// [Orchestrator.Run]; the processor is started on every wake and stopped on
// every sleep.
func New(listener Listener, detector Detector, processor *Processor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		listener:         listener,
		detector:         detector,
		processor:        processor,
		log:              slog.Default(),
		timeout:          DefaultInactivityTimeout,
		greeting:         func() string { return intent.Greeting(time.Now()) },
		introduction:     DefaultIntroduction,
		transcriptBuffer: DefaultTranscriptBuffer,
		timerFired:       make(chan uint64),
		sleepReq:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.transcripts = make(chan string, o.transcriptBuffer)
	return o
}

// State returns the current state. It is safe to call from any goroutine.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Timeout returns the inactivity window.
func (o *Orchestrator) Timeout() time.Duration { return o.timeout }

// HandleTranscript hands a transcript to the state machine without
// blocking. It is the callback registered with the [Listener]; when the
// orchestrator is busy and its buffer is full the transcript is dropped.
func (o *Orchestrator) HandleTranscript(text string) {
	select {
	case o.transcripts <- text:
	default:
		o.log.Warn("orchestrator busy, dropping transcript", "text", text)
		if o.metrics != nil {
			o.metrics.RecordQueueDrop(context.Background(), "transcripts")
		}
	}
}

// RequestSleep asks the orchestrator to end the command window early. It
// never blocks and is a no-op while asleep.
func (o *Orchestrator) RequestSleep() {
	select {
	case o.sleepReq <- struct{}{}:
	default:
	}
}

// Run starts the listener and processes events until ctx is cancelled. A
// listener start failure, such as [capture.ErrResourceUnavailable], is
// returned wrapped. On return the timer and processor are stopped, the
// listener is released and the state is [StateTerminated].
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := o.listener.StartListening(o.HandleTranscript); err != nil {
		o.setState(StateTerminated)
		return fmt.Errorf("interaction: start listening: %w", err)
	}
	defer o.shutdown()

	o.log.Info("luna is asleep, waiting for wake phrase", "inactivity_timeout", o.timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-o.transcripts:
			o.handle(ctx, text)
		case gen := <-o.timerFired:
			if gen == o.timerGen && o.current == StateListeningCommands {
				o.log.Info("inactivity timeout elapsed", "timeout", o.timeout)
				o.goToSleep(ReasonTimeout)
			}
		case <-o.sleepReq:
			if o.current == StateListeningCommands {
				o.goToSleep(ReasonRequested)
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, text string) {
	switch o.current {
	case StateSleeping:
		m, ok := o.detector.Detect(ctx, text)
		if !ok {
			return
		}
		if !m.IsWake {
			o.log.Debug("sleep phrase ignored while asleep", "phrase", m.Phrase)
			return
		}
		o.wake(ctx, m)
	case StateListeningCommands:
		m, ok := o.detector.Detect(ctx, text)
		switch {
		case ok && !m.IsWake:
			o.recordPhrase(ctx, false)
			o.goToSleep(ReasonSleepPhrase)
		case ok:
			o.log.Info("wake phrase ignored, already awake", "phrase", m.Phrase)
		default:
			o.processor.Submit(text)
		}
	case StateAwakeGreeting, StateTerminated:
	}
}

func (o *Orchestrator) wake(ctx context.Context, m phrase.Match) {
	o.log.Info("wake phrase detected", "phrase", m.Phrase, "confidence", m.Confidence)
	o.setState(StateAwakeGreeting)
	o.recordPhrase(ctx, true)
	o.record(journal.KindWake, m.Phrase)
	if o.metrics != nil {
		o.metrics.Awake.Add(ctx, 1)
	}

	o.say(ctx, o.greeting())
	o.say(ctx, o.introduction)

	// Drop a sleep request left over from a previous window.
	select {
	case <-o.sleepReq:
	default:
	}
	o.processor.Start()
	o.startTimer()
	o.setState(StateListeningCommands)
}

func (o *Orchestrator) goToSleep(reason string) {
	o.stopTimer()
	o.processor.Stop()
	o.setState(StateSleeping)
	if o.metrics != nil {
		o.metrics.Awake.Add(context.Background(), -1)
	}
	o.publish(notify.Notification{Type: notify.KindAsleep})
	o.record(journal.KindSleep, reason)
	o.log.Info("luna is going back to sleep", "reason", reason)
}

// say publishes text as a response and speaks it.
func (o *Orchestrator) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	o.publish(notify.Notification{Type: notify.KindResponse, Message: text})
	if o.speaker == nil {
		return
	}
	start := time.Now()
	err := o.speaker.Speak(ctx, text)
	if o.metrics != nil {
		o.metrics.RecordSpeech(ctx, time.Since(start), err)
	}
	if err != nil {
		o.log.Warn("failed to speak", "text", text, "err", err)
	}
}

// startTimer launches the inactivity timer, first stopping and joining any
// timer still running so at most one exists.
func (o *Orchestrator) startTimer() {
	o.stopTimer()
	o.timerGen++
	gen := o.timerGen
	tctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.timerCancel, o.timerDone = cancel, done

	go func() {
		defer close(done)
		t := time.NewTimer(o.timeout)
		defer t.Stop()
		select {
		case <-t.C:
			select {
			case o.timerFired <- gen:
			case <-tctx.Done():
			}
		case <-tctx.Done():
		}
	}()
}

func (o *Orchestrator) stopTimer() {
	if o.timerCancel == nil {
		return
	}
	o.timerCancel()
	<-o.timerDone
	o.timerCancel, o.timerDone = nil, nil
}

func (o *Orchestrator) shutdown() {
	o.stopTimer()
	if o.current == StateListeningCommands && o.metrics != nil {
		o.metrics.Awake.Add(context.Background(), -1)
	}
	if o.processor.Running() {
		o.processor.Stop()
	}
	o.listener.StopListening()
	o.setState(StateTerminated)
	o.log.Info("interaction orchestrator stopped")
}

func (o *Orchestrator) setState(s State) {
	o.current = s
	o.state.Store(int32(s))
}

func (o *Orchestrator) recordPhrase(ctx context.Context, wake bool) {
	if o.metrics != nil {
		o.metrics.RecordPhraseEvent(ctx, wake)
	}
}

func (o *Orchestrator) publish(n notify.Notification) {
	if o.publisher != nil {
		o.publisher.Publish(n)
	}
}

func (o *Orchestrator) record(kind journal.Kind, text string) {
	if o.journal != nil {
		o.journal.Record(journal.Entry{Kind: kind, Text: text})
	}
}
