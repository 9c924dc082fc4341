// Command luna is the main entry point for the Luna voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/luna/internal/app"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/audio/portaudio"
	"github.com/MrWong99/luna/pkg/provider/llm"
	llmopenai "github.com/MrWong99/luna/pkg/provider/llm/openai"
	"github.com/MrWong99/luna/pkg/provider/stt"
	sttopenai "github.com/MrWong99/luna/pkg/provider/stt/openai"
	"github.com/MrWong99/luna/pkg/provider/stt/whisper"
	"github.com/MrWong99/luna/pkg/provider/tts"
	"github.com/MrWong99/luna/pkg/provider/tts/console"
	ttsopenai "github.com/MrWong99/luna/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "luna: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "luna: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("luna starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "luna",
		ServiceVersion: version,
		AssistantName:  cfg.Interaction.Name,
		CaptureDevice:  cfg.Audio.Device,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	cfgWatcher, err := config.NewWatcher(*configPath, config.Parse, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changed, restart to apply", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config file not watched", "err", err)
	} else {
		defer cfgWatcher.Stop()
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if !application.PhrasesLoaded() {
		printPhraseBanner(cfg.Phrases.File)
	}

	// ── SIGHUP reloads phrases ────────────────────────────────────────────────
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadPhrasesOnHangup(ctx, hup, application)

	slog.Info("luna ready, say a wake phrase or press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, sttopenai.WithPrompt(prompt))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Speaker, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		if speed, ok := entry.Options["speed"].(float64); ok {
			opts = append(opts, ttsopenai.WithSpeed(speed))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, portaudio.NewSpeaker(), opts...)
	})

	reg.RegisterTTS("console", func(entry config.ProviderEntry) (tts.Speaker, error) {
		var opts []console.Option
		if name := optString(entry.Options, "name"); name != "" {
			opts = append(opts, console.WithName(name))
		}
		if wpm, ok := entry.Options["words_per_minute"].(int); ok {
			opts = append(opts, console.WithWordsPerMinute(wpm))
		}
		return console.New(os.Stdout, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Capture devices ───────────────────────────────────────────────────────

	reg.RegisterDevice("portaudio", func(ac config.AudioConfig) (audio.Device, error) {
		format := audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels}
		return portaudio.NewMicrophone(format, ac.FramesPerBuffer), nil
	})

	for _, kind := range []string{"stt", "tts", "llm", "device"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Speech providers are wrapped with circuit breakers and their configured
// fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	breakers := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Logger: slog.Default()},
		Metrics:        observe.DefaultMetrics(),
	}

	dev, err := reg.CreateDevice(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create capture device %q: %w", cfg.Audio.Device, err)
	}
	ps.Device = dev
	slog.Info("provider created", "kind", "device", "name", cfg.Audio.Device)

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, breakers)
	for i, entry := range cfg.Providers.STTFallbacks {
		r, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err)
		}
		sttGroup.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), r)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "fallbacks", len(cfg.Providers.STTFallbacks))

	if name := cfg.Providers.TTS.Name; name != "" {
		primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ttsGroup := resilience.NewTTSFallback(primaryTTS, name, breakers)
		for i, entry := range cfg.Providers.TTSFallbacks {
			s, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %d %q: %w", i, entry.Name, err)
			}
			ttsGroup.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), s)
		}
		ps.TTS = ttsGroup
		slog.Info("provider created", "kind", "tts", "name", name, "fallbacks", len(cfg.Providers.TTSFallbacks))
	}

	if name := cfg.Providers.Intent.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.Intent)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("intent provider not available, using keyword intents", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create intent provider %q: %w", name, err)
		} else {
			ps.Intent = resilience.NewLLMFallback(p, name, breakers)
			slog.Info("provider created", "kind", "intent", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Luna — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Device", cfg.Audio.Device, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Intent", cfg.Providers.Intent.Name, cfg.Providers.Intent.Model)
	fmt.Printf("║  Phrases         : %-19s ║\n", truncate(cfg.Phrases.File))
	fmt.Printf("║  Sleep after     : %-19s ║\n", cfg.Interaction.InactivityTimeout.Std())
	if cfg.Journal.PostgresDSN != "" {
		fmt.Printf("║  Journal         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Journal         : %-19s ║\n", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

// phraseRefresher is the part of [app.App] driven by SIGHUP.
type phraseRefresher interface {
	RefreshPhrases() error
}

// reloadPhrasesOnHangup refreshes the phrase file on every signal received
// on hup until ctx is done.
func reloadPhrasesOnHangup(ctx context.Context, hup <-chan os.Signal, r phraseRefresher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := r.RefreshPhrases(); err != nil {
				slog.Warn("phrase reload on SIGHUP failed", "err", err)
				continue
			}
			slog.Info("phrases reloaded on SIGHUP")
		}
	}
}

// printPhraseBanner tells the operator that Luna cannot wake.
func printPhraseBanner(path string) {
	fmt.Fprintln(os.Stderr, "┌───────────────────────────────────────────────────────────┐")
	fmt.Fprintln(os.Stderr, "│  No wake or sleep phrases loaded. Luna will never wake.   │")
	fmt.Fprintf(os.Stderr, "│  Fix %-53s│\n", truncateTo(path, 52))
	fmt.Fprintln(os.Stderr, "│  The file is watched and reloaded once it is valid.       │")
	fmt.Fprintln(os.Stderr, "│  Send SIGHUP to reload it immediately.                    │")
	fmt.Fprintln(os.Stderr, "└───────────────────────────────────────────────────────────┘")
}

func truncate(s string) string { return truncateTo(s, 19) }

func truncateTo(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
