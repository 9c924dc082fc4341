// Package app wires all Luna subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture, interaction and delivery loops, and
// Shutdown tears down what New acquired.
//
// For testing, inject test doubles via functional options (WithJournalStore,
// WithMetrics, etc.) and through [Providers]. When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/health"
	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/internal/interaction"
	"github.com/MrWong99/luna/internal/journal"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/phrase"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/llm"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ErrPhrasesRequired is returned by [New] when phrases.required is set and
// the phrase file is missing, invalid or lists no phrase at all.
var ErrPhrasesRequired = errors.New("app: phrase configuration required")

// Providers holds one interface value per external collaborator. Populated
// by main.go via the config registry.
type Providers struct {
	// Device is the capture device. Required.
	Device audio.Device

	// STT transcribes utterances. Required.
	STT stt.Recognizer

	// TTS speaks greetings, phrase responses and replies. Nil keeps Luna
	// silent; notifications are still published.
	TTS tts.Speaker

	// Intent classifies commands. Nil uses the keyword recognizer.
	Intent llm.Provider
}

// breakerReporter is implemented by the resilience wrappers.
type breakerReporter interface {
	Breakers() map[string]resilience.State
}

// Status is the /statez snapshot.
type Status struct {
	State             string            `json:"state"`
	Capturing         bool              `json:"capturing"`
	PhrasesLoaded     bool              `json:"phrases_loaded"`
	WakeWords         int               `json:"wake_words"`
	SleepWords        int               `json:"sleep_words"`
	Capture           capture.Stats     `json:"capture"`
	PendingCommands   int               `json:"pending_commands"`
	DroppedCommands   int64             `json:"dropped_commands"`
	Notifications     int               `json:"notifications_queued"`
	NotifyClients     int               `json:"notification_clients"`
	JournalPending    int               `json:"journal_pending"`
	Breakers          map[string]string `json:"breakers,omitempty"`
	InactivityTimeout string            `json:"inactivity_timeout"`
}

// App owns all subsystem lifetimes and runs the voice front end.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	matcher       *phrase.Matcher
	phraseWatcher *config.Watcher[*phrase.Config]
	stream        *capture.Stream
	processor     *interaction.Processor
	orch          *interaction.Orchestrator
	notes         *notify.Channel
	bridge        *notify.Bridge
	store         journal.Store
	recorder      *journal.Recorder

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournalStore injects a journal store instead of creating one from
// config.
func WithJournalStore(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger handed to every subsystem. Default:
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: journal connection and
// migration, phrase loading, and construction of the capture stream, command
// processor and orchestrator. The device is not opened until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Device == nil || providers.STT == nil {
		return nil, errors.New("app: a capture device and an STT provider are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Notifications ─────────────────────────────────────────────────
	a.notes = notify.NewChannel(cfg.Interaction.NotificationCapacity, a.log, func() {
		a.metrics.RecordQueueDrop(context.Background(), "notifications")
	})
	a.bridge = notify.NewBridge(a.notes,
		notify.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		notify.WithBridgeMetrics(a.metrics),
		notify.WithBridgeLogger(a.log),
	)

	// ── 3. Phrases ───────────────────────────────────────────────────────
	if err := a.initPhrases(); err != nil {
		a.close()
		return nil, err
	}

	// ── 4. Capture ───────────────────────────────────────────────────────
	a.initCapture()

	// ── 5. Commands + orchestrator ───────────────────────────────────────
	a.initInteraction()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initJournal connects the PostgreSQL journal or falls back to memory.
func (a *App) initJournal(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			pool, err := journal.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			pg := journal.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			a.store = pg
			a.log.Info("journal connected to postgres")
		} else {
			a.store = journal.NewMemoryStore(a.cfg.Journal.MemoryCapacity)
			a.log.Info("journal kept in memory", "capacity", a.cfg.Journal.MemoryCapacity)
		}
	}
	a.recorder = journal.NewRecorder(a.store, journal.WithRecorderLogger(a.log))
	return nil
}

// initPhrases loads the phrase file and starts watching it. A missing or
// invalid file degrades to an empty config unless phrases.required is set.
func (a *App) initPhrases() error {
	pc := a.cfg.Phrases
	opts := []phrase.Option{
		phrase.WithThreshold(pc.ConfidenceThreshold),
		phrase.WithSource(pc.File),
		phrase.WithLogger(a.log),
	}
	if a.providers.TTS != nil {
		opts = append(opts, phrase.WithSpeaker(a.providers.TTS))
	}

	cfg, err := phrase.LoadFile(pc.File)
	switch {
	case err != nil && pc.Required:
		return fmt.Errorf("%w: %w", ErrPhrasesRequired, err)
	case err != nil:
		a.log.Error("phrase config unavailable, Luna cannot wake until it is fixed", "path", pc.File, "err", err)
		cfg = &phrase.Config{}
	case cfg.Empty() && pc.Required:
		return fmt.Errorf("%w: %s lists no wake or sleep phrase", ErrPhrasesRequired, pc.File)
	case cfg.Empty():
		a.log.Error("phrase config lists no wake or sleep phrase, Luna cannot wake", "path", pc.File)
	}
	a.matcher = phrase.New(cfg, opts...)

	w, err := config.NewWatcher(pc.File, phrase.Parse, func(_, next *phrase.Config) {
		a.matcher.Update(next)
	},
		config.WithInterval(pc.WatchInterval.Std()),
		config.WithWatcherLogger(a.log),
		config.WithLenientStart(),
	)
	if err != nil {
		a.log.Warn("phrase file not watched, edits need a restart", "path", pc.File, "err", err)
		return nil
	}
	// The file may have become valid between LoadFile and the watcher's
	// first read; that version is never reported to onChange.
	if cur, ok := w.Current(); ok && a.matcher.Config().Empty() && !cur.Empty() {
		a.matcher.Update(cur)
	}
	a.phraseWatcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// initCapture builds the capture stream and its segmenter.
func (a *App) initCapture() {
	ac := a.cfg.Audio
	var seg capture.Segmenter
	switch ac.Segmenter {
	case config.SegmenterFrame:
		seg = &capture.FrameSegmenter{}
	default:
		var eopts []capture.EnergyOption
		if ac.EnergyThreshold > 0 {
			eopts = append(eopts, capture.WithEnergyThreshold(ac.EnergyThreshold))
		}
		if ac.Silence > 0 {
			eopts = append(eopts, capture.WithSilence(ac.Silence.Std()))
		}
		if ac.MaxUtterance > 0 {
			eopts = append(eopts, capture.WithMaxUtterance(ac.MaxUtterance.Std()))
		}
		seg = capture.NewEnergySegmenter(eopts...)
	}

	a.stream = capture.New(a.providers.Device, a.providers.STT,
		capture.WithQueueCapacity(ac.QueueCapacity),
		capture.WithPopTimeout(ac.PopTimeout.Std()),
		capture.WithRecalibrateInterval(ac.RecalibrateInterval.Std()),
		capture.WithCalibrationWindow(ac.CalibrationWindow.Std()),
		capture.WithTranscribeTimeout(ac.TranscribeTimeout.Std()),
		capture.WithSegmenter(seg),
		capture.WithMetrics(a.metrics),
		capture.WithLogger(a.log),
	)
}

// initInteraction builds the intent pipeline, the command processor and the
// orchestrator.
func (a *App) initInteraction() {
	ic := a.cfg.Interaction

	var rec intent.Recognizer = intent.NewKeywordRecognizer()
	if a.providers.Intent != nil {
		rec = intent.NewLLMRecognizer(a.providers.Intent,
			intent.WithFallback(rec),
			intent.WithLLMLogger(a.log),
		)
	}
	dispatcher := intent.NewDispatcher(
		intent.WithName(ic.Name),
		intent.WithSleepHook(func() { a.orch.RequestSleep() }),
	)

	popts := []interaction.ProcessorOption{
		interaction.WithCommandCapacity(ic.CommandQueueCapacity),
		interaction.WithPollInterval(ic.CommandPollInterval.Std()),
		interaction.WithStopTimeout(ic.StopTimeout.Std()),
		interaction.WithProcessorPublisher(a.notes),
		interaction.WithProcessorJournal(a.recorder),
		interaction.WithProcessorMetrics(a.metrics),
		interaction.WithProcessorLogger(a.log),
	}
	if a.providers.TTS != nil {
		popts = append(popts, interaction.WithReplySpeaker(a.providers.TTS))
	}
	a.processor = interaction.NewProcessor(rec, dispatcher, popts...)

	greeting := func() string { return intent.Greeting(time.Now()) }
	if ic.Greeting != "" {
		greeting = func() string { return ic.Greeting }
	}
	oopts := []interaction.Option{
		interaction.WithInactivityTimeout(ic.InactivityTimeout.Std()),
		interaction.WithGreeting(greeting),
		interaction.WithPublisher(a.notes),
		interaction.WithJournal(a.recorder),
		interaction.WithMetrics(a.metrics),
		interaction.WithLogger(a.log),
	}
	if ic.Introduction != "" {
		oopts = append(oopts, interaction.WithIntroduction(ic.Introduction))
	}
	if a.providers.TTS != nil {
		oopts = append(oopts, interaction.WithSpeaker(a.providers.TTS))
	}
	a.orch = interaction.New(a.stream, a.matcher, a.processor, oopts...)
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: probes, /statez, /metrics, the /phrases
// admin routes and the /ws notification stream. Everything but /ws is wrapped in
// [observe.Middleware]; the WebSocket upgrade needs the raw writer.
func (a *App) Handler() http.Handler {
	probes := http.NewServeMux()
	health.New(
		health.Condition("phrases", "no wake or sleep phrase configured", a.PhrasesLoaded),
		health.Condition("capture", "audio capture is not running", a.stream.Running),
	).WithStatus(func() any { return a.Status() }).Register(probes)
	probes.Handle("GET /metrics", promhttp.Handler())
	a.registerPhraseRoutes(probes)

	mux := http.NewServeMux()
	mux.Handle("/ws", a.bridge)
	mux.Handle("/", observe.Middleware(a.metrics,
		observe.WithMiddlewareLogger(a.log),
		observe.WithQuietRoutes("GET /healthz", "GET /readyz", "GET /metrics"),
	)(probes))
	return mux
}

// PhrasesLoaded reports whether at least one wake or sleep phrase is active.
func (a *App) PhrasesLoaded() bool { return !a.matcher.Config().Empty() }

// State returns the current interaction state.
func (a *App) State() interaction.State { return a.orch.State() }

// Notifications returns the bridge fanning out notifications.
func (a *App) Notifications() *notify.Bridge { return a.bridge }

// Status returns a point-in-time snapshot for /statez.
func (a *App) Status() Status {
	pcfg := a.matcher.Config()
	s := Status{
		State:             a.orch.State().String(),
		Capturing:         a.stream.Running(),
		PhrasesLoaded:     !pcfg.Empty(),
		WakeWords:         len(pcfg.WakeWords),
		SleepWords:        len(pcfg.SleepWords),
		Capture:           a.stream.Stats(),
		PendingCommands:   a.processor.Pending(),
		DroppedCommands:   a.processor.Dropped(),
		Notifications:     a.notes.Len(),
		NotifyClients:     a.bridge.Subscribers(),
		JournalPending:    a.recorder.Pending(),
		InactivityTimeout: a.orch.Timeout().String(),
	}
	for _, p := range []any{a.providers.STT, a.providers.TTS, a.providers.Intent} {
		br, ok := p.(breakerReporter)
		if !ok {
			continue
		}
		if s.Breakers == nil {
			s.Breakers = make(map[string]string)
		}
		for name, st := range br.Breakers() {
			s.Breakers[name] = st.String()
		}
	}
	return s
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture, the interaction loop, notification delivery, the
// journal writer and, when server.listen_addr is set, the HTTP server. It
// blocks until ctx is cancelled or a subsystem fails. A capture device that
// cannot be opened is returned as an error wrapping
// [capture.ErrResourceUnavailable].
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The journal outlives the orchestrator so its final sleep entry is
	// written.
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()
	g.Go(func() error { return a.recorder.Run(journalCtx) })

	g.Go(func() error {
		defer stopJournal()
		if err := a.orch.Run(gctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.bridge.Run(gctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.log.Info("luna running", "state", a.orch.State())
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases what New acquired. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned. Run must have returned before Shutdown is
// called.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs the closers collected so far after a failed New.
func (a *App) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
