// Package console provides a [tts.Speaker] that prints utterances instead of
// synthesising audio. It is the default speaker when no TTS provider is
// configured and is handy on headless machines.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

var _ tts.Speaker = (*Speaker)(nil)

// Speaker writes "<name>: <text>" lines to an io.Writer.
type Speaker struct {
	name string
	w    io.Writer
	wpm  int

	mu sync.Mutex
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithName sets the speaker label. Default: "Luna".
func WithName(name string) Option {
	return func(s *Speaker) { s.name = name }
}

// WithWordsPerMinute makes Speak block for the time a human would need to
// say the text, so timing behaves like real speech output. Zero disables it.
func WithWordsPerMinute(wpm int) Option {
	return func(s *Speaker) { s.wpm = wpm }
}

// New returns a Speaker writing to w.
func New(w io.Writer, opts ...Option) *Speaker {
	s := &Speaker{name: "Luna", w: w}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak implements [tts.Speaker].
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "%s: %s\n", s.name, text); err != nil {
		return fmt.Errorf("console tts: write: %w", err)
	}
	slog.Debug("spoke", "speaker", s.name, "text", text)

	if s.wpm <= 0 {
		return nil
	}
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / time.Duration(s.wpm)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
