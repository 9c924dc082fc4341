//go:build portaudio

// Package portaudio implements [audio.Device] and [audio.Player] on top of the
// PortAudio C library. Build with -tags portaudio; without the tag every
// constructor returns a device whose Open fails with [ErrUnavailable].
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/luna/pkg/audio"
)

// ErrUnavailable is returned when the PortAudio backend cannot be used.
var ErrUnavailable = errors.New("portaudio: backend unavailable")

// ErrAlreadyOpen is returned by [Microphone.Open] when the stream is open.
var ErrAlreadyOpen = errors.New("portaudio: microphone already open")

// Microphone captures int16 PCM from the default input device.
type Microphone struct {
	format          audio.Format
	framesPerBuffer int

	mu     sync.Mutex
	stream *pa.Stream
}

var _ audio.Device = (*Microphone)(nil)

// NewMicrophone returns a closed microphone for the default input device.
// framesPerBuffer controls the callback granularity (e.g. 1024 at 16 kHz ≈ 64ms).
func NewMicrophone(format audio.Format, framesPerBuffer int) *Microphone {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &Microphone{format: format, framesPerBuffer: framesPerBuffer}
}

// Format returns the configured capture format.
func (m *Microphone) Format() audio.Format { return m.format }

// Open initialises PortAudio, opens the default input stream and starts it.
func (m *Microphone) Open(onSamples func(samples []int16)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return ErrAlreadyOpen
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	stream, err := pa.OpenDefaultStream(m.format.Channels, 0, float64(m.format.SampleRate), m.framesPerBuffer,
		func(in []int16) { onSamples(in) })
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	m.stream = stream
	return nil
}

// Close stops the stream and releases PortAudio. Closing a closed
// microphone is a no-op.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	var errs []error
	if err := m.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop input stream: %w", err))
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close input stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	m.stream = nil
	return errors.Join(errs...)
}

// Speaker plays int16 mono PCM on the default output device using PortAudio's
// blocking write API. Each Play call opens a short-lived stream at the
// frame's sample rate.
type Speaker struct {
	mu sync.Mutex
}

var _ audio.Player = (*Speaker)(nil)

// NewSpeaker returns a speaker for the default output device.
func NewSpeaker() *Speaker { return &Speaker{} }

// Play writes frame to the output device, returning early if ctx is cancelled
// between buffers.
func (s *Speaker) Play(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := audio.BytesToSamples(frame.Data)
	if len(samples) == 0 {
		return nil
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	buf := make([]int16, 1024)
	stream, err := pa.OpenDefaultStream(0, frame.Channels, float64(frame.SampleRate), len(buf)/frame.Channels, &buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close is a no-op; streams are released after every Play.
func (s *Speaker) Close() error { return nil }
