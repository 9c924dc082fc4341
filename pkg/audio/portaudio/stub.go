//go:build !portaudio

package portaudio

import (
	"context"
	"errors"

	"github.com/MrWong99/luna/pkg/audio"
)

// ErrUnavailable is returned when the PortAudio backend cannot be used.
var ErrUnavailable = errors.New("portaudio: backend unavailable, rebuild with -tags portaudio")

// ErrAlreadyOpen is returned by [Microphone.Open] when the stream is open.
var ErrAlreadyOpen = errors.New("portaudio: microphone already open")

// Microphone stub used when PortAudio is not compiled in.
type Microphone struct {
	format audio.Format
}

var _ audio.Device = (*Microphone)(nil)

// NewMicrophone returns a microphone whose Open always fails.
func NewMicrophone(format audio.Format, _ int) *Microphone {
	return &Microphone{format: format}
}

// Format returns the configured capture format.
func (m *Microphone) Format() audio.Format { return m.format }

// Open returns [ErrUnavailable].
func (m *Microphone) Open(func([]int16)) error { return ErrUnavailable }

// Close is a no-op.
func (m *Microphone) Close() error { return nil }

// Speaker stub used when PortAudio is not compiled in.
type Speaker struct{}

var _ audio.Player = (*Speaker)(nil)

// NewSpeaker returns a speaker whose Play always fails.
func NewSpeaker() *Speaker { return &Speaker{} }

// Play returns [ErrUnavailable].
func (s *Speaker) Play(context.Context, audio.AudioFrame) error { return ErrUnavailable }

// Close is a no-op.
func (s *Speaker) Close() error { return nil }
