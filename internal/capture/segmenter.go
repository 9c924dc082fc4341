package capture

import (
	"time"

	"github.com/MrWong99/luna/pkg/audio"
)

// Segmenter groups consecutive 16 kHz mono frames into utterances suitable for
// a single speech-to-text request. Implementations are used from a single
// goroutine and need not be safe for concurrent use.
type Segmenter interface {
	// Push adds one frame. When the frame completes an utterance, the whole
	// utterance is returned with ok == true.
	Push(frame audio.AudioFrame) (utterance audio.AudioFrame, ok bool)

	// Flush returns any buffered speech as a final utterance.
	Flush() (utterance audio.AudioFrame, ok bool)

	// Calibrate adapts the speech threshold to the ambient noise measured
	// in frames.
	Calibrate(frames []audio.AudioFrame)

	// Reset discards buffered audio.
	Reset()
}

const (
	// DefaultEnergyThreshold is the RMS level (in 16-bit PCM units) below
	// which audio is considered silent. 300 corresponds to near-silence.
	DefaultEnergyThreshold = 300.0

	// DefaultCalibrationMultiplier scales measured ambient noise to obtain the
	// speech threshold.
	DefaultCalibrationMultiplier = 1.5

	// DefaultSilence is the trailing silence that ends an utterance.
	DefaultSilence = 800 * time.Millisecond

	// DefaultMaxUtterance caps an utterance that never falls silent.
	DefaultMaxUtterance = 10 * time.Second
)

// ─── EnergySegmenter ──────────────────────────────────────────────────────────

// EnergyOption configures an [EnergySegmenter].
type EnergyOption func(*EnergySegmenter)

// WithEnergyThreshold sets the minimum speech threshold. Calibration never
// lowers the threshold below this value. Default: [DefaultEnergyThreshold].
func WithEnergyThreshold(rms float64) EnergyOption {
	return func(s *EnergySegmenter) {
		if rms > 0 {
			s.floor = rms
		}
	}
}

// WithCalibrationMultiplier sets the factor applied to measured ambient noise.
// Default: [DefaultCalibrationMultiplier].
func WithCalibrationMultiplier(f float64) EnergyOption {
	return func(s *EnergySegmenter) {
		if f >= 1 {
			s.multiplier = f
		}
	}
}

// WithSilence sets how much trailing silence ends an utterance.
// Default: [DefaultSilence].
func WithSilence(d time.Duration) EnergyOption {
	return func(s *EnergySegmenter) {
		if d > 0 {
			s.silence = d
		}
	}
}

// WithMaxUtterance sets the length after which an utterance is flushed even
// while speech continues. Default: [DefaultMaxUtterance].
func WithMaxUtterance(d time.Duration) EnergyOption {
	return func(s *EnergySegmenter) {
		if d > 0 {
			s.maxUtterance = d
		}
	}
}

// EnergySegmenter is an RMS-based silence detector. Leading silence is
// discarded; once a frame exceeds the threshold, frames are buffered until the
// accumulated trailing silence reaches the configured duration or the buffer
// reaches the maximum utterance length.
type EnergySegmenter struct {
	floor        float64
	multiplier   float64
	silence      time.Duration
	maxUtterance time.Duration

	threshold  float64
	buffer     []audio.AudioFrame
	buffered   time.Duration
	silenceFor time.Duration
	hadSpeech  bool
}

var _ Segmenter = (*EnergySegmenter)(nil)

// NewEnergySegmenter returns an EnergySegmenter with the given options.
func NewEnergySegmenter(opts ...EnergyOption) *EnergySegmenter {
	s := &EnergySegmenter{
		floor:        DefaultEnergyThreshold,
		multiplier:   DefaultCalibrationMultiplier,
		silence:      DefaultSilence,
		maxUtterance: DefaultMaxUtterance,
	}
	for _, o := range opts {
		o(s)
	}
	s.threshold = s.floor
	return s
}

// Threshold returns the active speech threshold.
func (s *EnergySegmenter) Threshold() float64 { return s.threshold }

// Push implements [Segmenter].
func (s *EnergySegmenter) Push(frame audio.AudioFrame) (audio.AudioFrame, bool) {
	d := frame.Duration()
	if audio.RMS(frame.Data) < s.threshold {
		if !s.hadSpeech {
			return audio.AudioFrame{}, false
		}
		s.append(frame, d)
		s.silenceFor += d
		if s.silenceFor >= s.silence {
			return s.Flush()
		}
		return audio.AudioFrame{}, false
	}

	s.hadSpeech = true
	s.silenceFor = 0
	s.append(frame, d)
	if s.buffered >= s.maxUtterance {
		return s.Flush()
	}
	return audio.AudioFrame{}, false
}

// Flush implements [Segmenter]. Buffers holding only silence yield nothing.
func (s *EnergySegmenter) Flush() (audio.AudioFrame, bool) {
	if !s.hadSpeech || len(s.buffer) == 0 {
		s.Reset()
		return audio.AudioFrame{}, false
	}
	utterance := audio.Concat(s.buffer)
	s.Reset()
	return utterance, true
}

// Calibrate implements [Segmenter]. The new threshold is the ambient RMS of
// frames times the multiplier, but never below the configured floor.
func (s *EnergySegmenter) Calibrate(frames []audio.AudioFrame) {
	if len(frames) == 0 {
		return
	}
	ambient := audio.RMS(audio.Concat(frames).Data)
	s.threshold = max(s.floor, ambient*s.multiplier)
}

// Reset implements [Segmenter]. The calibrated threshold is kept.
func (s *EnergySegmenter) Reset() {
	s.buffer = nil
	s.buffered = 0
	s.silenceFor = 0
	s.hadSpeech = false
}

func (s *EnergySegmenter) append(frame audio.AudioFrame, d time.Duration) {
	s.buffer = append(s.buffer, frame)
	s.buffered += d
}

// ─── FrameSegmenter ───────────────────────────────────────────────────────────

// FrameSegmenter treats every frame whose RMS reaches the threshold as a
// complete utterance. It suits devices that already deliver phrase-sized
// buffers. The zero value forwards every frame.
type FrameSegmenter struct {
	// Multiplier scales measured ambient noise during calibration. Values
	// below 1 are treated as [DefaultCalibrationMultiplier].
	Multiplier float64

	threshold float64
}

var _ Segmenter = (*FrameSegmenter)(nil)

// Threshold returns the active speech threshold.
func (s *FrameSegmenter) Threshold() float64 { return s.threshold }

// Push implements [Segmenter].
func (s *FrameSegmenter) Push(frame audio.AudioFrame) (audio.AudioFrame, bool) {
	if len(frame.Data) == 0 || audio.RMS(frame.Data) < s.threshold {
		return audio.AudioFrame{}, false
	}
	return frame, true
}

// Flush implements [Segmenter]. FrameSegmenter never buffers.
func (s *FrameSegmenter) Flush() (audio.AudioFrame, bool) { return audio.AudioFrame{}, false }

// Calibrate implements [Segmenter].
func (s *FrameSegmenter) Calibrate(frames []audio.AudioFrame) {
	if len(frames) == 0 {
		return
	}
	m := s.Multiplier
	if m < 1 {
		m = DefaultCalibrationMultiplier
	}
	s.threshold = audio.RMS(audio.Concat(frames).Data) * m
}

// Reset implements [Segmenter].
func (s *FrameSegmenter) Reset() {}
