package phrase

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// DefaultThreshold is the minimum similarity for a phrase to match.
const DefaultThreshold = 0.8

// Match describes a qualifying phrase detection.
type Match struct {
	// IsWake is true for wake phrases and false for sleep phrases.
	IsWake bool

	// Confidence is the similarity ratio in [threshold, 1].
	Confidence float64

	// Phrase is the configured phrase that matched.
	Phrase string

	// Response is the acknowledgement chosen for this match, empty when the
	// response list is empty.
	Response string
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the confidence threshold. Values outside (0, 1] are
// ignored. Default: 0.8.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

// WithSpeaker sets the speech output that receives acknowledgements.
// Without a speaker, responses are still chosen and returned but not spoken.
func WithSpeaker(s tts.Speaker) Option {
	return func(m *Matcher) { m.speaker = s }
}

// WithSource sets the file that [Matcher.Refresh] reloads.
func WithSource(path string) Option {
	return func(m *Matcher) { m.source = path }
}

// WithRandom replaces the response picker. intn must return a value in
// [0, n). Used by tests for deterministic choices.
func WithRandom(intn func(n int) int) Option {
	return func(m *Matcher) {
		if intn != nil {
			m.intn = intn
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}

// Matcher scores transcripts against wake and sleep phrases.
// All methods are safe for concurrent use. The config is held behind an
// atomic pointer and only ever replaced as a whole.
type Matcher struct {
	threshold float64
	speaker   tts.Speaker
	source    string
	intn      func(n int) int
	log       *slog.Logger

	cfg atomic.Pointer[Config]
}

// New returns a Matcher using cfg. A nil cfg behaves like an empty config.
func New(cfg *Config, opts ...Option) *Matcher {
	m := &Matcher{
		threshold: DefaultThreshold,
		intn:      rand.IntN,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.cfg.Store(cfg.normalize())
	return m
}

// Threshold returns the confidence threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Config returns the active config. The returned value must not be modified.
func (m *Matcher) Config() *Config { return m.cfg.Load() }

// Update atomically replaces the whole config.
func (m *Matcher) Update(cfg *Config) {
	next := cfg.normalize()
	m.cfg.Store(next)
	m.log.Info("phrase config updated",
		"wake_words", len(next.WakeWords),
		"sleep_words", len(next.SleepWords),
	)
}

// Merge applies a partial update, keeping lists p leaves nil. The merged
// result is published as a new config object.
func (m *Matcher) Merge(p Patch) {
	for {
		cur := m.cfg.Load()
		next := cur.Apply(p)
		if m.cfg.CompareAndSwap(cur, next) {
			m.log.Info("phrase config merged",
				"wake_words", len(next.WakeWords),
				"sleep_words", len(next.SleepWords),
			)
			return
		}
	}
}

// Refresh reloads the config from the file set with [WithSource]. On failure
// the current config stays active and the error (wrapping [ErrConfig]) is
// returned.
func (m *Matcher) Refresh() error {
	if m.source == "" {
		return errors.New("phrase: refresh: no source file configured")
	}
	cfg, err := LoadFile(m.source)
	if err != nil {
		m.log.Error("phrase config refresh failed, keeping current config", "path", m.source, "err", err)
		return err
	}
	m.Update(cfg)
	return nil
}

// Detect checks transcript against the wake phrases, then the sleep phrases,
// in configured order. The first phrase whose similarity reaches the
// threshold wins. On a match a response is picked at random and, when a
// speaker is set, spoken before Detect returns.
func (m *Matcher) Detect(ctx context.Context, transcript string) (Match, bool) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return Match{}, false
	}
	cfg := m.cfg.Load()

	match, ok := m.scan(cfg.WakeWords, text, true)
	if !ok {
		match, ok = m.scan(cfg.SleepWords, text, false)
	}
	if !ok {
		return Match{}, false
	}

	responses := cfg.SleepResponses
	if match.IsWake {
		responses = cfg.WakeResponses
	}
	if len(responses) > 0 {
		match.Response = responses[m.intn(len(responses))]
	}

	m.log.Info("phrase detected",
		"wake", match.IsWake,
		"phrase", match.Phrase,
		"confidence", match.Confidence,
		"transcript", transcript,
	)

	if match.Response != "" && m.speaker != nil {
		if err := m.speaker.Speak(ctx, match.Response); err != nil {
			m.log.Warn("failed to speak phrase response", "response", match.Response, "err", err)
		}
	}
	return match, true
}

func (m *Matcher) scan(phrases []string, text string, wake bool) (Match, bool) {
	for _, p := range phrases {
		if score := Similarity(p, text); score >= m.threshold {
			return Match{IsWake: wake, Confidence: score, Phrase: p}, true
		}
	}
	return Match{}, false
}

// Similarity returns 2·LCS(a, b) / (|a| + |b|), counted in runes. The ratio is
// symmetric, lies in [0, 1] and equals 1 exactly when a == b (for non-empty
// input). Two empty strings score 0.
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 0
	}
	return 2 * float64(matchr.LongestCommonSubsequence(a, b)) / float64(total)
}
