package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

// LLMOption configures an [LLMRecognizer].
type LLMOption func(*LLMRecognizer)

// WithFallback sets the recogniser used when the model request fails.
func WithFallback(r Recognizer) LLMOption {
	return func(l *LLMRecognizer) { l.fallback = r }
}

// WithLLMLogger sets the logger. Default: [slog.Default].
func WithLLMLogger(log *slog.Logger) LLMOption {
	return func(l *LLMRecognizer) {
		if log != nil {
			l.log = log
		}
	}
}

// LLMRecognizer asks a language model to choose one category name for the
// command.
type LLMRecognizer struct {
	provider llm.Provider
	fallback Recognizer
	log      *slog.Logger
	prompt   string
}

var _ Recognizer = (*LLMRecognizer)(nil)

// NewLLMRecognizer returns an LLMRecognizer backed by p.
func NewLLMRecognizer(p llm.Provider, opts ...LLMOption) *LLMRecognizer {
	l := &LLMRecognizer{
		provider: p,
		log:      slog.Default(),
		prompt:   systemPrompt(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func systemPrompt() string {
	names := make([]string, 0, numKinds)
	for _, k := range Kinds() {
		names = append(names, k.String())
	}
	names = append(names, KindUnknown.String())
	return "You classify short spoken commands for a voice assistant. " +
		"Reply with exactly one word from this list and nothing else: " +
		strings.Join(names, ", ") + "."
}

// Recognize implements [Recognizer]. A reply naming no known category yields
// [KindUnknown] with zero confidence.
func (l *LLMRecognizer) Recognize(ctx context.Context, text string) (Intent, error) {
	resp, err := l.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: l.prompt,
		UserText:     text,
		MaxTokens:    5,
	})
	if err != nil {
		if l.fallback != nil {
			l.log.Warn("llm intent classification failed, using fallback", "err", err)
			return l.fallback.Recognize(ctx, text)
		}
		return Intent{Kind: KindUnknown, Text: text}, fmt.Errorf("intent: classify: %w", err)
	}

	kind, named := lookupKind(firstWord(resp.Content))
	in := Intent{Kind: kind, Text: text}
	if named {
		in.Confidence = 1
	}
	l.log.Debug("llm classified command", "text", text, "kind", kind, "reply", resp.Content)
	return in, nil
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
