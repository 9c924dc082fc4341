package audio

import "context"

// Device is an exclusive handle on an audio input device. It is constructed
// explicitly by the composition root and injected into the capture stream;
// there is no process-wide instance.
//
// Open starts the hardware stream and delivers every captured buffer to
// onSamples on the audio subsystem's own goroutine. The callback must not
// block and must not retain samples after it returns. Close stops and
// releases the hardware. A Device must be closed before it is opened again.
type Device interface {
	Open(onSamples func(samples []int16)) error
	Close() error

	// Format reports the sample rate and channel count of delivered buffers.
	Format() Format
}

// Player plays PCM audio through an output device. Play blocks until the
// frame has been handed to the hardware or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, frame AudioFrame) error
	Close() error
}
