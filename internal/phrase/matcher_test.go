package phrase_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/luna/internal/phrase"
	"github.com/MrWong99/luna/pkg/provider/tts/mock"
)

func testConfig() *phrase.Config {
	return &phrase.Config{
		WakeWords:      []string{"hey luna", "wake up luna"},
		SleepWords:     []string{"goodbye luna", "go to sleep"},
		WakeResponses:  []string{"Yes?", "I'm listening."},
		SleepResponses: []string{"Goodbye!"},
	}
}

func first(int) int { return 0 }

func TestSimilarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want float64
	}{
		{"hey luna", "hey luna", 1.0},
		{"hey luna", "hey luuna", 16.0 / 17.0},
		{"hey luna", "hey lu", 12.0 / 14.0},
		{"abc", "xyz", 0},
		{"", "", 0},
		{"über", "über", 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.a+"/"+tc.b, func(t *testing.T) {
			t.Parallel()
			got := phrase.Similarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if rev := phrase.Similarity(tc.b, tc.a); math.Abs(rev-got) > 1e-12 {
				t.Errorf("not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestSimilarity_ExactMatchIsOne(t *testing.T) {
	t.Parallel()
	for _, w := range []string{"a", "hey luna", "go to sleep", "ok computer, wake up"} {
		if got := phrase.Similarity(w, w); got != 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, want 1.0", w, w, got)
		}
	}
}

func TestDetect_ExactWake(t *testing.T) {
	t.Parallel()
	speaker := &mock.Speaker{}
	m := phrase.New(testConfig(), phrase.WithSpeaker(speaker), phrase.WithRandom(first))

	got, ok := m.Detect(context.Background(), "  Hey Luna ")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.IsWake || got.Confidence != 1.0 || got.Phrase != "hey luna" {
		t.Errorf("match = %+v", got)
	}
	if got.Response != "Yes?" {
		t.Errorf("Response = %q, want %q", got.Response, "Yes?")
	}
	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != "Yes?" {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestDetect_FuzzyWake(t *testing.T) {
	t.Parallel()
	m := phrase.New(testConfig())

	got, ok := m.Detect(context.Background(), "hey luuna")
	if !ok || !got.IsWake {
		t.Fatalf("expected wake match, got %+v ok=%v", got, ok)
	}
	if got.Confidence < 0.8 || got.Confidence >= 1.0 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
}

func TestDetect_BelowThreshold(t *testing.T) {
	t.Parallel()
	speaker := &mock.Speaker{}
	m := phrase.New(testConfig(), phrase.WithSpeaker(speaker))

	for _, text := range []string{"what time is it", "hey", "", "   "} {
		if got, ok := m.Detect(context.Background(), text); ok {
			t.Errorf("Detect(%q) matched %+v", text, got)
		}
	}
	if n := len(speaker.Spoken()); n != 0 {
		t.Errorf("speaker called %d times without a match", n)
	}
}

func TestDetect_CustomThreshold(t *testing.T) {
	t.Parallel()
	m := phrase.New(testConfig(), phrase.WithThreshold(0.99))
	if _, ok := m.Detect(context.Background(), "hey luuna"); ok {
		t.Error("0.94 similarity must not pass a 0.99 threshold")
	}
	if m.Threshold() != 0.99 {
		t.Errorf("Threshold = %v", m.Threshold())
	}
}

func TestDetect_Sleep(t *testing.T) {
	t.Parallel()
	m := phrase.New(testConfig(), phrase.WithRandom(first))
	got, ok := m.Detect(context.Background(), "Goodbye Luna")
	if !ok || got.IsWake {
		t.Fatalf("expected sleep match, got %+v ok=%v", got, ok)
	}
	if got.Response != "Goodbye!" {
		t.Errorf("Response = %q", got.Response)
	}
}

func TestDetect_WakeCheckedBeforeSleep(t *testing.T) {
	t.Parallel()
	cfg := &phrase.Config{WakeWords: []string{"luna"}, SleepWords: []string{"luna"}}
	m := phrase.New(cfg)
	got, ok := m.Detect(context.Background(), "luna")
	if !ok || !got.IsWake {
		t.Fatalf("wake phrases must be evaluated first, got %+v", got)
	}
}

func TestDetect_FirstQualifyingPhraseWins(t *testing.T) {
	t.Parallel()
	// "hey lunar" qualifies against both; the first configured one wins even
	// though the second is an exact match.
	cfg := &phrase.Config{WakeWords: []string{"hey luna", "hey lunar"}}
	m := phrase.New(cfg)
	got, ok := m.Detect(context.Background(), "hey lunar")
	if !ok {
		t.Fatal("expected match")
	}
	if got.Phrase != "hey luna" {
		t.Errorf("Phrase = %q, want first qualifying %q", got.Phrase, "hey luna")
	}
}

func TestDetect_EmptyResponsesStillMatch(t *testing.T) {
	t.Parallel()
	speaker := &mock.Speaker{}
	m := phrase.New(&phrase.Config{WakeWords: []string{"hey luna"}}, phrase.WithSpeaker(speaker))
	got, ok := m.Detect(context.Background(), "hey luna")
	if !ok {
		t.Fatal("expected match")
	}
	if got.Response != "" {
		t.Errorf("Response = %q, want empty", got.Response)
	}
	if n := len(speaker.Spoken()); n != 0 {
		t.Errorf("speaker called %d times", n)
	}
}

func TestDetect_EmptyConfigNeverMatches(t *testing.T) {
	t.Parallel()
	m := phrase.New(nil)
	if !m.Config().Empty() {
		t.Fatal("nil config should be empty")
	}
	if _, ok := m.Detect(context.Background(), "hey luna"); ok {
		t.Error("empty config must never match")
	}
}

func TestDetect_SpeakerErrorDoesNotSuppressMatch(t *testing.T) {
	t.Parallel()
	speaker := &mock.Speaker{Err: errors.New("audio device gone")}
	m := phrase.New(testConfig(), phrase.WithSpeaker(speaker))
	if _, ok := m.Detect(context.Background(), "hey luna"); !ok {
		t.Fatal("speech failure must not hide the match")
	}
}

func TestUpdate_ReplacesWholeConfig(t *testing.T) {
	t.Parallel()
	m := phrase.New(testConfig())
	before := m.Config()

	m.Update(&phrase.Config{WakeWords: []string{" Computer "}})

	after := m.Config()
	if after == before {
		t.Fatal("Update must publish a new config object")
	}
	if len(after.WakeWords) != 1 || after.WakeWords[0] != "computer" {
		t.Errorf("WakeWords = %v", after.WakeWords)
	}
	if len(after.SleepWords) != 0 {
		t.Errorf("SleepWords = %v, want empty", after.SleepWords)
	}
	if len(before.WakeWords) != 2 {
		t.Error("previous config object must not be mutated")
	}
	if _, ok := m.Detect(context.Background(), "hey luna"); ok {
		t.Error("old phrase should no longer match")
	}
}

func TestMerge_KeepsUnspecifiedLists(t *testing.T) {
	t.Parallel()
	m := phrase.New(testConfig())
	m.Merge(phrase.Patch{WakeWords: []string{"computer"}, SleepResponses: []string{}})

	cfg := m.Config()
	if len(cfg.WakeWords) != 1 || cfg.WakeWords[0] != "computer" {
		t.Errorf("WakeWords = %v", cfg.WakeWords)
	}
	if len(cfg.SleepWords) != 2 {
		t.Errorf("SleepWords = %v, want unchanged", cfg.SleepWords)
	}
	if len(cfg.SleepResponses) != 0 {
		t.Errorf("SleepResponses = %v, want replaced with empty", cfg.SleepResponses)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.json")
	writeFile(t, path, `{"wake_words": ["hey luna"]}`)

	m := phrase.New(nil, phrase.WithSource(path))
	if err := m.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := m.Detect(context.Background(), "hey luna"); !ok {
		t.Fatal("expected match after refresh")
	}

	writeFile(t, path, `{not json`)
	err := m.Refresh()
	if !errors.Is(err, phrase.ErrConfig) {
		t.Fatalf("Refresh on bad file: got %v, want ErrConfig", err)
	}
	if _, ok := m.Detect(context.Background(), "hey luna"); !ok {
		t.Error("failed refresh must keep the previous config")
	}
}

func TestRefresh_NoSource(t *testing.T) {
	t.Parallel()
	if err := phrase.New(nil).Refresh(); err == nil {
		t.Fatal("expected error without a source file")
	}
}

func TestDetect_ConcurrentWithUpdate(t *testing.T) {
	t.Parallel()
	a := &phrase.Config{WakeWords: []string{"hey luna"}, WakeResponses: []string{"A"}}
	b := &phrase.Config{WakeWords: []string{"hey luna"}, WakeResponses: []string{"B"}}
	m := phrase.New(a, phrase.WithLogger(slog.New(slog.DiscardHandler)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 500 {
			if i%2 == 0 {
				m.Update(a)
			} else {
				m.Update(b)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			got, ok := m.Detect(context.Background(), "hey luna")
			if !ok || (got.Response != "A" && got.Response != "B") {
				t.Errorf("torn read: %+v ok=%v", got, ok)
				return
			}
		}
	}()
	wg.Wait()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
