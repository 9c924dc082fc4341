// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Player] for unit tests.
//
// Both mocks are safe for concurrent use and record every call so tests can
// assert on counts. Device lets a test push samples through the registered
// callback as if the hardware had delivered them:
//
//	dev := &mock.Device{}
//	_ = dev.Open(func(s []int16) { ... })
//	dev.Emit([]int16{0, 1, 2})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
)

// ErrNotOpen is returned by [Device.Emit] when no stream is open.
var ErrNotOpen = errors.New("mock: device not open")

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// CloseError is returned by Close.
	CloseError error

	// DeviceFormat is reported by Format. Defaults to [audio.SpeechFormat].
	DeviceFormat audio.Format

	// CallCountOpen counts successful Open calls.
	CallCountOpen int

	// CallCountClose counts Close calls.
	CallCountClose int

	// MaxConcurrentOpen is the highest number of simultaneously open streams
	// observed. Anything above 1 means exclusivity was violated.
	MaxConcurrentOpen int

	open     int
	callback func([]int16)
}

var _ audio.Device = (*Device)(nil)

// Open records the call and stores onSamples for [Device.Emit].
func (d *Device) Open(onSamples func(samples []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenError != nil {
		return d.OpenError
	}
	d.CallCountOpen++
	d.open++
	if d.open > d.MaxConcurrentOpen {
		d.MaxConcurrentOpen = d.open
	}
	d.callback = onSamples
	return nil
}

// Close records the call and forgets the callback.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if d.open > 0 {
		d.open--
	}
	d.callback = nil
	return d.CloseError
}

// Format returns DeviceFormat or [audio.SpeechFormat] when unset.
func (d *Device) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeviceFormat.SampleRate == 0 {
		return audio.SpeechFormat
	}
	return d.DeviceFormat
}

// Emit delivers samples to the open stream's callback on the calling
// goroutine, mimicking a hardware callback.
func (d *Device) Emit(samples []int16) error {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb == nil {
		return ErrNotOpen
	}
	cb(samples)
	return nil
}

// IsOpen reports whether a stream is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open > 0
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player] that keeps every frame it is asked to play.
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil.
	PlayError error

	// Played holds the frames passed to Play, in order.
	Played []audio.AudioFrame

	// CallCountClose counts Close calls.
	CallCountClose int
}

var _ audio.Player = (*Player)(nil)

// Play records frame.
func (p *Player) Play(_ context.Context, frame audio.AudioFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayError != nil {
		return p.PlayError
	}
	p.Played = append(p.Played, frame)
	return nil
}

// Close records the call.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Frames returns a copy of the played frames.
func (p *Player) Frames() []audio.AudioFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.AudioFrame, len(p.Played))
	copy(out, p.Played)
	return out
}
