package intent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/intent"
	"github.com/MrWong99/luna/pkg/provider/llm"
	llmmock "github.com/MrWong99/luna/pkg/provider/llm/mock"
)

func TestKind_StringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, k := range append(intent.Kinds(), intent.KindUnknown) {
		if got := intent.ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if got := intent.ParseKind("  Time. "); got != intent.KindTime {
		t.Errorf("ParseKind with punctuation = %v", got)
	}
	if got := intent.ParseKind("weather"); got != intent.KindUnknown {
		t.Errorf("ParseKind(weather) = %v", got)
	}
	if got := intent.Kind(99).String(); got != "unknown" {
		t.Errorf("out-of-range String = %q", got)
	}
}

func TestKeywordRecognizer(t *testing.T) {
	t.Parallel()
	r := intent.NewKeywordRecognizer()
	tests := []struct {
		text string
		want intent.Kind
	}{
		{"what time is it", intent.KindTime},
		{"What's the date today?", intent.KindDate},
		{"hello there", intent.KindGreeting},
		{"can you help me", intent.KindHelp},
		{"what can you do", intent.KindHelp},
		{"stop listening please", intent.KindSleep},
		{"please tell me a joke", intent.KindUnknown},
		{"", intent.KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			got, err := r.Recognize(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Recognize: %v", err)
			}
			if got.Kind != tc.want {
				t.Errorf("Kind = %v, want %v (confidence %.3f)", got.Kind, tc.want, got.Confidence)
			}
			if got.Text != tc.text {
				t.Errorf("Text = %q", got.Text)
			}
		})
	}
}

func TestKeywordRecognizer_FuzzyAndTies(t *testing.T) {
	t.Parallel()
	r := intent.NewKeywordRecognizer()

	got, _ := r.Recognize(context.Background(), "what times is it")
	if got.Kind != intent.KindTime || got.Confidence >= 1 {
		t.Errorf("fuzzy: %+v", got)
	}

	got, _ = r.Recognize(context.Background(), "hi, what time is it")
	if got.Kind != intent.KindGreeting {
		t.Errorf("tie should go to the first declared kind, got %v", got.Kind)
	}
}

func TestKeywordRecognizer_CustomTable(t *testing.T) {
	t.Parallel()
	r := intent.NewKeywordRecognizer(
		intent.WithKeywords(map[intent.Kind][]string{intent.KindHelp: {"assist"}}),
		intent.WithKeywordThreshold(1),
	)
	if got, _ := r.Recognize(context.Background(), "please assist"); got.Kind != intent.KindHelp {
		t.Errorf("Kind = %v", got.Kind)
	}
	if got, _ := r.Recognize(context.Background(), "what time is it"); got.Kind != intent.KindUnknown {
		t.Errorf("default table still active: %v", got.Kind)
	}
}

func TestLLMRecognizer(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Date."}}
	r := intent.NewLLMRecognizer(p)

	got, err := r.Recognize(context.Background(), "which day is it")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got.Kind != intent.KindDate || got.Confidence != 1 {
		t.Errorf("intent = %+v", got)
	}

	calls := p.Calls()
	if len(calls) != 1 || calls[0].UserText != "which day is it" {
		t.Fatalf("calls = %+v", calls)
	}
	for _, k := range intent.Kinds() {
		if !strings.Contains(calls[0].SystemPrompt, k.String()) {
			t.Errorf("system prompt does not list %q", k)
		}
	}
}

func TestLLMRecognizer_UnexpectedReply(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I think the weather"}}
	got, err := intent.NewLLMRecognizer(p).Recognize(context.Background(), "is it raining")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != intent.KindUnknown || got.Confidence != 0 {
		t.Errorf("intent = %+v", got)
	}
}

func TestLLMRecognizer_ErrorAndFallback(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}

	if _, err := intent.NewLLMRecognizer(p).Recognize(context.Background(), "what time is it"); err == nil {
		t.Fatal("expected error without fallback")
	}

	r := intent.NewLLMRecognizer(p, intent.WithFallback(intent.NewKeywordRecognizer()))
	got, err := r.Recognize(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if got.Kind != intent.KindTime {
		t.Errorf("Kind = %v", got.Kind)
	}
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
}

func TestDispatcher(t *testing.T) {
	t.Parallel()
	slept := 0
	d := intent.NewDispatcher(
		intent.WithClock(fixedClock),
		intent.WithSleepHook(func() { slept++ }),
	)
	tests := []struct {
		kind intent.Kind
		want string
	}{
		{intent.KindGreeting, "Good afternoon!"},
		{intent.KindTime, "It's 2:07 PM."},
		{intent.KindDate, "Today is Tuesday, March 5, 2024."},
		{intent.KindSleep, "Okay, I'll stop listening."},
	}
	for _, tc := range tests {
		got, err := d.Execute(context.Background(), intent.Intent{Kind: tc.kind})
		if err != nil {
			t.Fatalf("%v: %v", tc.kind, err)
		}
		if got != tc.want {
			t.Errorf("%v: got %q, want %q", tc.kind, got, tc.want)
		}
	}
	if slept != 1 {
		t.Errorf("sleep hook called %d times", slept)
	}
}

func TestDispatcher_EveryKindHasHandler(t *testing.T) {
	t.Parallel()
	d := intent.NewDispatcher()
	for _, k := range append(intent.Kinds(), intent.KindUnknown) {
		if _, err := d.Execute(context.Background(), intent.Intent{Kind: k, Text: "x"}); err != nil {
			t.Errorf("%v: %v", k, err)
		}
	}
	if _, err := d.Execute(context.Background(), intent.Intent{Kind: intent.Kind(42)}); err == nil {
		t.Error("expected error for out-of-range kind")
	}
}

func TestDispatcher_UnknownEchoesText(t *testing.T) {
	t.Parallel()
	got, err := intent.NewDispatcher(intent.WithName("Nova")).Execute(context.Background(),
		intent.Intent{Kind: intent.KindUnknown, Text: "order pizza"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Nova") || !strings.Contains(got, `"order pizza"`) {
		t.Errorf("reply = %q", got)
	}
}

func TestDispatcher_Override(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	d := intent.NewDispatcher(intent.WithHandler(intent.KindHelp, func(context.Context, intent.Intent) (string, error) {
		return "", boom
	}))
	if _, err := d.Execute(context.Background(), intent.Intent{Kind: intent.KindHelp}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestGreeting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hour int
		want string
	}{
		{0, "Good morning!"},
		{11, "Good morning!"},
		{12, "Good afternoon!"},
		{17, "Good afternoon!"},
		{18, "Good evening!"},
		{23, "Good evening!"},
	}
	for _, tc := range tests {
		if got := intent.Greeting(time.Date(2024, 1, 1, tc.hour, 30, 0, 0, time.UTC)); got != tc.want {
			t.Errorf("Greeting(%02d:30) = %q, want %q", tc.hour, got, tc.want)
		}
	}
}
