// Package config provides the configuration schema, loader, provider
// registry and file watcher for the Luna voice assistant.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Segmenter selects how captured audio is cut into utterances.
type Segmenter string

const (
	// SegmenterEnergy accumulates frames above the energy threshold and
	// flushes after a pause.
	SegmenterEnergy Segmenter = "energy"

	// SegmenterFrame submits every loud enough frame on its own.
	SegmenterFrame Segmenter = "frame"
)

// IsValid reports whether s is a recognised segmenter.
func (s Segmenter) IsValid() bool { return s == SegmenterEnergy || s == SegmenterFrame }

// Duration is a [time.Duration] written in YAML as a Go duration string
// such as "15s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader], which apply defaults and validate.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Phrases     PhrasesConfig     `yaml:"phrases"`
	Interaction InteractionConfig `yaml:"interaction"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Journal     JournalConfig     `yaml:"journal"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz, /statez, /metrics and /ws.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted for cross-origin
	// WebSocket clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AudioConfig configures the microphone and the capture stream.
type AudioConfig struct {
	// Device selects a registered capture device, e.g. "portaudio".
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	QueueCapacity       int      `yaml:"queue_capacity"`
	PopTimeout          Duration `yaml:"pop_timeout"`
	RecalibrateInterval Duration `yaml:"recalibrate_interval"`
	CalibrationWindow   Duration `yaml:"calibration_window"`
	TranscribeTimeout   Duration `yaml:"transcribe_timeout"`

	Segmenter       Segmenter `yaml:"segmenter"`
	EnergyThreshold float64   `yaml:"energy_threshold"`
	Silence         Duration  `yaml:"silence"`
	MaxUtterance    Duration  `yaml:"max_utterance"`
}

// PhrasesConfig points at the JSON wake/sleep phrase file.
type PhrasesConfig struct {
	File                string   `yaml:"file"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	WatchInterval       Duration `yaml:"watch_interval"`

	// Required makes a missing, invalid or empty phrase file fatal at
	// startup instead of leaving the assistant unable to wake.
	Required bool `yaml:"required"`
}

// InteractionConfig tunes the wake/listen/sleep cycle.
type InteractionConfig struct {
	InactivityTimeout    Duration `yaml:"inactivity_timeout"`
	CommandQueueCapacity int      `yaml:"command_queue_capacity"`
	CommandPollInterval  Duration `yaml:"command_poll_interval"`
	StopTimeout          Duration `yaml:"stop_timeout"`
	NotificationCapacity int      `yaml:"notification_capacity"`

	// Greeting replaces the time-of-day greeting when set.
	Greeting     string `yaml:"greeting"`
	Introduction string `yaml:"introduction"`

	// Name is the assistant name used in replies.
	Name string `yaml:"name"`
}

// ProvidersConfig selects the backend for each external collaborator. Each
// entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// Intent selects an LLM for intent classification. Empty uses the
	// built-in keyword recognizer.
	Intent ProviderEntry `yaml:"intent"`

	// Fallbacks are tried, in order, when the primary of the same kind
	// fails or its circuit breaker is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
type ProviderEntry struct {
	// Name selects the registered factory, e.g. "openai" or "whisper".
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values such as "voice" or "language".
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) Option(key string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// JournalConfig configures the interaction journal.
type JournalConfig struct {
	// PostgresDSN stores the journal in PostgreSQL. Empty keeps a bounded
	// in-memory journal.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MemoryCapacity bounds the in-memory journal.
	MemoryCapacity int `yaml:"memory_capacity"`
}
