// Package tts defines the Speaker interface for text-to-speech output.
//
// A Speaker is a sink for short sentences: greetings, acknowledgements and
// command responses. Speak blocks until the utterance has been rendered, so
// the calling goroutine is delayed for the duration of the speech.
//
// Implementations must be safe for concurrent use; concurrent calls are
// serialised so utterances never overlap.
package tts

import "context"

// Speaker renders text as speech.
type Speaker interface {
	// Speak synthesises and plays text, returning once playback finished or
	// ctx was cancelled. Empty text is a no-op.
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a plain function to the [Speaker] interface.
type SpeakerFunc func(ctx context.Context, text string) error

// Speak calls f(ctx, text).
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }
