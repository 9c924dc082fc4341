package resilience

import (
	"context"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// TTSFallback is a [tts.Speaker] that fails over across speakers, each
// behind its own breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Speaker]
}

var _ tts.Speaker = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Speaker, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, withKind(cfg, "tts"))}
}

// AddFallback registers another speaker, for example the console speaker as
// a last resort.
func (f *TTSFallback) AddFallback(name string, s tts.Speaker) {
	f.group.AddFallback(name, s)
}

// Breakers returns the breaker state of every speaker.
func (f *TTSFallback) Breakers() map[string]State { return f.group.Breakers() }

// Speak implements [tts.Speaker]. Empty text never reaches a backend.
func (f *TTSFallback) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return f.group.Execute(func(s tts.Speaker) error { return s.Speak(ctx, text) })
}
