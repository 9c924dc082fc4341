// Package audio defines the PCM frame type that flows from the microphone to
// speech recognition, the hardware [Device] and [Player] abstractions, and
// small signed 16-bit PCM helpers (RMS, WAV encoding, down-mixing, resampling).
package audio

import "time"

// SpeechFormat is the format speech recognisers expect: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the data rate of little-endian int16 PCM in f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// AudioFrame is one buffer of little-endian int16 PCM. Frames are created per
// hardware callback, owned by the audio queue until consumed and discarded
// after transcription. A segmenter may concatenate several frames into a single
// utterance frame.
type AudioFrame struct {
	// Data holds interleaved little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (16000 for speech recognition).
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame. Frames with an unknown
// format report zero.
func (f AudioFrame) Duration() time.Duration {
	bps := f.Format().BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bps)
}
