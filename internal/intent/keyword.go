package intent

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultKeywordThreshold is the minimum Jaro-Winkler similarity for a
// keyword to count as present.
const DefaultKeywordThreshold = 0.92

// DefaultKeywords is the built-in keyword table used by [NewKeywordRecognizer].
var DefaultKeywords = map[Kind][]string{
	KindGreeting: {"hello", "hi", "hey", "good morning", "good afternoon", "good evening"},
	KindTime:     {"time", "clock", "what time"},
	KindDate:     {"date", "today", "what day"},
	KindHelp:     {"help", "what can you do", "commands"},
	KindSleep:    {"stop listening", "that's all", "never mind", "nevermind"},
}

// KeywordOption configures a [KeywordRecognizer].
type KeywordOption func(*KeywordRecognizer)

// WithKeywords replaces the keyword table.
func WithKeywords(table map[Kind][]string) KeywordOption {
	return func(r *KeywordRecognizer) {
		if table != nil {
			r.table = table
		}
	}
}

// WithKeywordThreshold sets the similarity threshold. Default: 0.92.
func WithKeywordThreshold(t float64) KeywordOption {
	return func(r *KeywordRecognizer) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// KeywordRecognizer scores commands against keyword lists. Every keyword is
// compared with each run of the same number of words in the command; the
// highest-scoring Kind above the threshold wins, ties going to the Kind
// declared first.
type KeywordRecognizer struct {
	table     map[Kind][]string
	threshold float64
}

var _ Recognizer = (*KeywordRecognizer)(nil)

// NewKeywordRecognizer returns a KeywordRecognizer using [DefaultKeywords]
// unless overridden.
func NewKeywordRecognizer(opts ...KeywordOption) *KeywordRecognizer {
	r := &KeywordRecognizer{
		table:     DefaultKeywords,
		threshold: DefaultKeywordThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recognize implements [Recognizer]. It never returns an error.
func (r *KeywordRecognizer) Recognize(_ context.Context, text string) (Intent, error) {
	words := strings.Fields(strings.ToLower(strings.Map(keepWordRune, text)))
	best := Intent{Kind: KindUnknown, Text: text}
	for _, k := range Kinds() {
		for _, kw := range r.table[k] {
			if score := bestWindow(strings.Fields(kw), words); score >= r.threshold && score > best.Confidence {
				best.Kind = k
				best.Confidence = score
			}
		}
	}
	return best, nil
}

// bestWindow returns the highest similarity between keyword and any run of
// len(keyword) consecutive words.
func bestWindow(keyword, words []string) float64 {
	n := len(keyword)
	if n == 0 || len(words) < n {
		return 0
	}
	kw := strings.Join(keyword, " ")
	var best float64
	for i := 0; i+n <= len(words); i++ {
		if s := matchr.JaroWinkler(kw, strings.Join(words[i:i+n], " "), false); s > best {
			best = s
		}
	}
	return best
}

// keepWordRune strips punctuation other than apostrophes.
func keepWordRune(r rune) rune {
	switch {
	case r == '\'' || r == ' ':
		return r
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r > 127:
		return r
	}
	return ' '
}
