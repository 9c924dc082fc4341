// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A recognizer turns one complete utterance of 16 kHz mono PCM into text.
// It is a batch call: the capture loop segments audio into utterances and
// submits each one separately.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/luna/pkg/audio"
)

// ErrUnintelligible is returned when the backend processed the audio but
// could not understand any speech in it. Callers treat it as "nothing was
// said" rather than as a failure.
var ErrUnintelligible = errors.New("stt: could not understand audio")

// Recognizer converts a single utterance into a transcript.
type Recognizer interface {
	// Transcribe returns the text spoken in utterance. It returns
	// [ErrUnintelligible] when no words were recognised and any other error
	// when the request to the backend failed. Implementations must respect
	// ctx cancellation and deadlines.
	Transcribe(ctx context.Context, utterance audio.AudioFrame) (string, error)
}
