package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

// STTFallback is an [stt.Recognizer] that fails over across recognizers,
// each behind its own breaker. [stt.ErrUnintelligible] is a valid answer:
// it neither trips a breaker nor triggers failover.
type STTFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, withKind(cfg, "stt"))}
}

// AddFallback registers another recognizer.
func (f *STTFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Breakers returns the breaker state of every recognizer.
func (f *STTFallback) Breakers() map[string]State { return f.group.Breakers() }

// Transcribe implements [stt.Recognizer].
func (f *STTFallback) Transcribe(ctx context.Context, utterance audio.AudioFrame) (string, error) {
	unintelligible := false
	text, err := ExecuteWithResult(f.group, func(r stt.Recognizer) (string, error) {
		text, err := r.Transcribe(ctx, utterance)
		if errors.Is(err, stt.ErrUnintelligible) {
			unintelligible = true
			return "", nil
		}
		return text, err
	})
	if unintelligible {
		return "", stt.ErrUnintelligible
	}
	return text, err
}
