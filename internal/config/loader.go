package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr           = ":8080"
	DefaultSampleRate           = 16000
	DefaultChannels             = 1
	DefaultFramesPerBuffer      = 1024
	DefaultAudioQueueCapacity   = 50
	DefaultPopTimeout           = 500 * time.Millisecond
	DefaultRecalibrateInterval  = 300 * time.Second
	DefaultCalibrationWindow    = time.Second
	DefaultTranscribeTimeout    = 30 * time.Second
	DefaultConfidenceThreshold  = 0.8
	DefaultWatchInterval        = 5 * time.Second
	DefaultInactivityTimeout    = 15 * time.Second
	DefaultCommandQueueCapacity = 100
	DefaultCommandPollInterval  = 500 * time.Millisecond
	DefaultStopTimeout          = 5 * time.Second
	DefaultNotificationCapacity = 100
	DefaultJournalCapacity      = 1000
)

// ValidProviderNames lists known provider names per provider kind. [Validate]
// warns about names not in this list.
var ValidProviderNames = map[string][]string{
	"stt":    {"openai", "whisper"},
	"tts":    {"openai", "console"},
	"intent": {"openai"},
	"device": {"portaudio"},
}

// Load reads, defaults and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is [LoadFromReader] over data. Its signature suits [NewWatcher].
func Parse(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	a := &cfg.Audio
	setDefault(&a.Device, "portaudio")
	setDefault(&a.SampleRate, DefaultSampleRate)
	setDefault(&a.Channels, DefaultChannels)
	setDefault(&a.FramesPerBuffer, DefaultFramesPerBuffer)
	setDefault(&a.QueueCapacity, DefaultAudioQueueCapacity)
	setDefault(&a.PopTimeout, Duration(DefaultPopTimeout))
	setDefault(&a.RecalibrateInterval, Duration(DefaultRecalibrateInterval))
	setDefault(&a.CalibrationWindow, Duration(DefaultCalibrationWindow))
	setDefault(&a.TranscribeTimeout, Duration(DefaultTranscribeTimeout))
	setDefault(&a.Segmenter, SegmenterEnergy)

	p := &cfg.Phrases
	setDefault(&p.File, "phrases.json")
	setDefault(&p.ConfidenceThreshold, DefaultConfidenceThreshold)
	setDefault(&p.WatchInterval, Duration(DefaultWatchInterval))

	i := &cfg.Interaction
	setDefault(&i.InactivityTimeout, Duration(DefaultInactivityTimeout))
	setDefault(&i.CommandQueueCapacity, DefaultCommandQueueCapacity)
	setDefault(&i.CommandPollInterval, Duration(DefaultCommandPollInterval))
	setDefault(&i.StopTimeout, Duration(DefaultStopTimeout))
	setDefault(&i.NotificationCapacity, DefaultNotificationCapacity)
	setDefault(&i.Name, "Luna")

	setDefault(&cfg.Providers.TTS.Name, "console")
	setDefault(&cfg.Journal.MemoryCapacity, DefaultJournalCapacity)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	a := cfg.Audio
	if a.SampleRate < 0 || a.Channels < 0 || a.FramesPerBuffer < 0 {
		errs = append(errs, errors.New("audio.sample_rate, audio.channels and audio.frames_per_buffer must not be negative"))
	}
	if a.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must not be negative", a.QueueCapacity))
	}
	if a.Segmenter != "" && !a.Segmenter.IsValid() {
		errs = append(errs, fmt.Errorf("audio.segmenter %q is invalid; valid values: energy, frame", a.Segmenter))
	}
	if a.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.energy_threshold %.1f must not be negative", a.EnergyThreshold))
	}
	errs = appendNegative(errs, "audio.pop_timeout", a.PopTimeout)
	errs = appendNegative(errs, "audio.recalibrate_interval", a.RecalibrateInterval)
	errs = appendNegative(errs, "audio.calibration_window", a.CalibrationWindow)
	errs = appendNegative(errs, "audio.transcribe_timeout", a.TranscribeTimeout)
	errs = appendNegative(errs, "audio.silence", a.Silence)
	errs = appendNegative(errs, "audio.max_utterance", a.MaxUtterance)

	if t := cfg.Phrases.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("phrases.confidence_threshold %.2f is out of range [0, 1]", t))
	}
	errs = appendNegative(errs, "phrases.watch_interval", cfg.Phrases.WatchInterval)

	i := cfg.Interaction
	errs = appendNegative(errs, "interaction.inactivity_timeout", i.InactivityTimeout)
	errs = appendNegative(errs, "interaction.command_poll_interval", i.CommandPollInterval)
	errs = appendNegative(errs, "interaction.stop_timeout", i.StopTimeout)
	if i.CommandQueueCapacity < 0 || i.NotificationCapacity < 0 {
		errs = append(errs, errors.New("interaction queue capacities must not be negative"))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("intent", cfg.Providers.Intent.Name)
	validateProviderName("device", a.Device)
	for idx, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", idx))
		}
		validateProviderName("stt", e.Name)
	}
	for idx, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", idx))
		}
		validateProviderName("tts", e.Name)
	}

	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; interactions are kept in memory only")
	}
	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %v must not be negative", field, d.Std()))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not listed
// in [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
