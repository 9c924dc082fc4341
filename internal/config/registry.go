package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/llm"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory types for each provider kind.
type (
	STTFactory    func(ProviderEntry) (stt.Recognizer, error)
	TTSFactory    func(ProviderEntry) (tts.Speaker, error)
	LLMFactory    func(ProviderEntry) (llm.Provider, error)
	DeviceFactory func(AudioConfig) (audio.Device, error)
)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]STTFactory
	tts     map[string]TTSFactory
	llm     map[string]LLMFactory
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]STTFactory),
		tts:     make(map[string]TTSFactory),
		llm:     make(map[string]LLMFactory),
		devices: make(map[string]DeviceFactory),
	}
}

// RegisterSTT registers a speech-to-text factory under name. A later
// registration under the same name replaces the earlier one.
func (r *Registry) RegisterSTT(name string, f STTFactory) { register(r, r.stt, name, f) }

// RegisterTTS registers a text-to-speech factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) { register(r, r.tts, name, f) }

// RegisterLLM registers an intent-classification LLM factory under name.
func (r *Registry) RegisterLLM(name string, f LLMFactory) { register(r, r.llm, name, f) }

// RegisterDevice registers a capture device factory under name.
func (r *Registry) RegisterDevice(name string, f DeviceFactory) { register(r, r.devices, name, f) }

// CreateSTT instantiates the recognizer registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS instantiates the speaker registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Speaker, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM instantiates the LLM registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateDevice instantiates the capture device registered under cfg.Device.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	f, err := lookup(r, r.devices, "device", cfg.Device)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// Names returns the sorted registered names for kind ("stt", "tts", "llm"
// or "device").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = keys(r.stt)
	case "tts":
		names = keys(r.tts)
	case "llm":
		names = keys(r.llm)
	case "device":
		names = keys(r.devices)
	}
	slices.Sort(names)
	return names
}

func register[F any](r *Registry, m map[string]F, name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	f, ok := m[name]
	r.mu.RUnlock()
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return f, nil
}

func keys[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
