// Package capture turns a microphone into a stream of transcripts.
//
// A [Stream] owns one [audio.Device]. The device callback copies every buffer
// into an [audio.AudioFrame] and inserts it into a bounded queue without ever
// blocking; a single consumer goroutine drains the queue, normalises frames to
// 16 kHz mono, groups them into utterances with a [Segmenter] and sends each
// utterance to a speech-to-text [stt.Recognizer]. Non-empty transcripts are
// handed to the callback registered with [Stream.StartListening].
//
// The consumer periodically recalibrates the segmenter against ambient noise
// using audio taken from the same queue, so capture never pauses.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/queue"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

// ErrResourceUnavailable is returned by [Stream.StartListening] when the audio
// device cannot be opened. It is not retried.
var ErrResourceUnavailable = errors.New("capture: audio device unavailable")

const (
	// DefaultQueueCapacity is the number of frames the audio queue holds.
	DefaultQueueCapacity = 50

	// DefaultPopTimeout bounds each wait on the audio queue so the consumer
	// can notice a stop request.
	DefaultPopTimeout = 500 * time.Millisecond

	// DefaultRecalibrateInterval is the time between ambient-noise
	// recalibrations.
	DefaultRecalibrateInterval = 300 * time.Second

	// DefaultCalibrationWindow is how much audio each recalibration measures.
	DefaultCalibrationWindow = time.Second

	// DefaultTranscribeTimeout bounds a single speech-to-text request.
	DefaultTranscribeTimeout = 30 * time.Second
)

// Option is a functional option for configuring a [Stream].
type Option func(*Stream)

// WithQueueCapacity sets the audio queue capacity. Default: 50.
func WithQueueCapacity(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithPopTimeout sets how long the consumer waits for a frame before
// re-checking whether it should stop. Default: 500ms.
func WithPopTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.popTimeout = d
		}
	}
}

// WithRecalibrateInterval sets the ambient-noise recalibration period.
// Default: 300s.
func WithRecalibrateInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.recalibrateEvery = d
		}
	}
}

// WithCalibrationWindow sets how much audio a recalibration consumes.
// Default: 1s.
func WithCalibrationWindow(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.calibrationWindow = d
		}
	}
}

// WithTranscribeTimeout bounds each speech-to-text request. Default: 30s.
func WithTranscribeTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.transcribeTimeout = d
		}
	}
}

// WithSegmenter replaces the default [EnergySegmenter].
func WithSegmenter(seg Segmenter) Option {
	return func(s *Stream) {
		if seg != nil {
			s.seg = seg
		}
	}
}

// WithMetrics records frame, drop and speech-to-text metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.log = l
		}
	}
}

// Stream captures audio from a single device and transcribes it. At most one
// capture session is open at any time; StartListening and StopListening may
// be called from any goroutine.
type Stream struct {
	device audio.Device
	rec    stt.Recognizer
	seg    Segmenter
	log    *slog.Logger

	metrics *observe.Metrics

	queueCapacity     int
	popTimeout        time.Duration
	recalibrateEvery  time.Duration
	calibrationWindow time.Duration
	transcribeTimeout time.Duration

	queue *queue.Bounded[audio.AudioFrame]

	mu       sync.Mutex // serialises StartListening and StopListening
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  time.Time
	format   audio.Format
	captured atomic.Int64

	transcripts atomic.Int64
	failures    atomic.Int64
}

// New returns a Stream reading from device and transcribing with rec. The
// device is not opened until [Stream.StartListening].
func New(device audio.Device, rec stt.Recognizer, opts ...Option) *Stream {
	s := &Stream{
		device:            device,
		rec:               rec,
		log:               slog.Default(),
		queueCapacity:     DefaultQueueCapacity,
		popTimeout:        DefaultPopTimeout,
		recalibrateEvery:  DefaultRecalibrateInterval,
		calibrationWindow: DefaultCalibrationWindow,
		transcribeTimeout: DefaultTranscribeTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.seg == nil {
		s.seg = NewEnergySegmenter()
	}
	s.queue = queue.NewBounded[audio.AudioFrame]("audio", s.queueCapacity,
		queue.WithLogger(s.log),
		queue.WithDropHook(func() {
			if s.metrics != nil {
				s.metrics.RecordQueueDrop(context.Background(), "audio")
			}
		}),
	)
	return s
}

// StartListening opens the device and starts the consumer goroutine, which
// calls onTranscript with every recognised utterance. onTranscript runs on the
// consumer goroutine; it must not call [Stream.StopListening].
//
// Calling StartListening while already running logs a warning and returns nil.
// When the device cannot be opened the returned error wraps
// [ErrResourceUnavailable].
func (s *Stream) StartListening(onTranscript func(text string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.log.Warn("capture already running, ignoring start")
		return nil
	}

	s.format = s.device.Format()
	s.started = time.Now()
	if err := s.device.Open(s.onSamples); err != nil {
		s.log.Error("failed to open audio device", "err", err)
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.seg.Reset()
	s.running.Store(true)

	s.wg.Add(1)
	go s.listenLoop(ctx, onTranscript)

	s.log.Info("capture started",
		"sample_rate", s.format.SampleRate,
		"channels", s.format.Channels,
		"queue_capacity", s.queue.Cap(),
	)
	return nil
}

// StopListening stops the consumer goroutine, closes the device and waits for
// in-flight work to finish. Calling it while not running logs and returns.
func (s *Stream) StopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		s.log.Info("capture not running, ignoring stop")
		return
	}
	s.running.Store(false)

	if err := s.device.Close(); err != nil {
		s.log.Warn("failed to close audio device", "err", err)
	}
	s.cancel()
	s.wg.Wait()

	if n := s.queue.Drain(); n > 0 {
		s.log.Debug("discarded queued audio on stop", "frames", n)
	}
	s.log.Info("capture stopped",
		"frames_captured", s.captured.Load(),
		"frames_dropped", s.queue.Dropped(),
	)
}

// Running reports whether a capture session is open.
func (s *Stream) Running() bool { return s.running.Load() }

// Stats is a point-in-time snapshot of the stream counters.
type Stats struct {
	FramesCaptured int64
	FramesDropped  int64
	Queued         int
	Transcripts    int64
	Failures       int64
}

// Stats returns the current counters.
func (s *Stream) Stats() Stats {
	return Stats{
		FramesCaptured: s.captured.Load(),
		FramesDropped:  s.queue.Dropped(),
		Queued:         s.queue.Len(),
		Transcripts:    s.transcripts.Load(),
		Failures:       s.failures.Load(),
	}
}

// onSamples is the device callback. It copies samples into a frame and
// inserts it without blocking.
func (s *Stream) onSamples(samples []int16) {
	if !s.running.Load() || len(samples) == 0 {
		return
	}
	frame := audio.AudioFrame{
		Data:       audio.SamplesToBytes(samples),
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  time.Since(s.started),
	}
	if s.queue.TryPush(frame) {
		s.captured.Add(1)
		if s.metrics != nil {
			s.metrics.FramesCaptured.Add(context.Background(), 1)
		}
	}
}

// listenLoop is the single consumer of the audio queue. Segmenter state is
// confined to this goroutine.
func (s *Stream) listenLoop(ctx context.Context, onTranscript func(string)) {
	defer s.wg.Done()
	s.log.Debug("entering listen loop")

	lastCalibration := time.Now()
	for s.running.Load() {
		if time.Since(lastCalibration) >= s.recalibrateEvery {
			s.recalibrate()
			lastCalibration = time.Now()
		}

		frame, ok := s.queue.Pop(s.popTimeout)
		if !ok {
			continue
		}
		frame = audio.Normalize(frame, audio.SpeechFormat)
		if utterance, ok := s.seg.Push(frame); ok {
			s.transcribe(ctx, utterance, onTranscript)
		}
	}

	if utterance, ok := s.seg.Flush(); ok {
		s.log.Debug("discarding partial utterance on stop", "duration", utterance.Duration())
	}
	s.log.Debug("exiting listen loop")
}

// recalibrate measures ambient noise from the next calibrationWindow of
// queued audio. Frames used for calibration are not transcribed.
func (s *Stream) recalibrate() {
	deadline := time.Now().Add(s.calibrationWindow + s.popTimeout)
	var (
		frames   []audio.AudioFrame
		measured time.Duration
	)
	for measured < s.calibrationWindow && s.running.Load() {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		frame, ok := s.queue.Pop(min(wait, s.popTimeout))
		if !ok {
			continue
		}
		frame = audio.Normalize(frame, audio.SpeechFormat)
		frames = append(frames, frame)
		measured += frame.Duration()
	}
	if len(frames) == 0 {
		s.log.Debug("ambient noise recalibration skipped, no audio")
		return
	}
	s.seg.Reset()
	s.seg.Calibrate(frames)

	attrs := []any{"window", measured}
	if t, ok := s.seg.(interface{ Threshold() float64 }); ok {
		attrs = append(attrs, "threshold", t.Threshold())
	}
	s.log.Info("recalibrated for ambient noise", attrs...)
}

// transcribe sends one utterance to the recogniser. Failures are logged and
// never stop the loop.
func (s *Stream) transcribe(ctx context.Context, utterance audio.AudioFrame, onTranscript func(string)) {
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.log.Error("panic while transcribing utterance", "panic", r)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, s.transcribeTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.rec.Transcribe(tctx, utterance)
	if s.metrics != nil {
		s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}

	switch {
	case ctx.Err() != nil:
		// Stopped while the request was in flight.
		return
	case errors.Is(err, stt.ErrUnintelligible):
		s.log.Debug("speech recognition could not understand audio", "duration", utterance.Duration())
		return
	case err != nil:
		s.failures.Add(1)
		if s.metrics != nil {
			s.metrics.RecordRecognitionFailure(ctx, "request")
		}
		s.log.Error("speech recognition request failed", "err", err)
		return
	case text == "":
		return
	}

	s.transcripts.Add(1)
	s.log.Info("transcribed utterance", "text", text, "duration", utterance.Duration())
	if onTranscript != nil {
		onTranscript(text)
	}
}
