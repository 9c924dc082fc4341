// Package mock provides a test double for [tts.Speaker].
//
// Speaker records every sentence it is asked to speak. Tests use Spoken to
// assert on greeting order and WaitFor to synchronise with asynchronous
// callers:
//
//	s := &mock.Speaker{}
//	...
//	if !s.WaitFor(2, time.Second) { t.Fatal("expected two utterances") }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// Speaker is a mock implementation of [tts.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Err is returned from every Speak call when non-nil.
	Err error

	// Delay makes each Speak call block for the given duration, simulating
	// playback time.
	Delay time.Duration

	spoken []string
}

var _ tts.Speaker = (*Speaker)(nil)

// Speak records text and optionally sleeps for Delay.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.Err
}

// Spoken returns a copy of every recorded sentence in call order.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

// WaitFor polls until at least n sentences were spoken or timeout elapses.
// It reports whether the count was reached.
func (s *Speaker) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		got := len(s.spoken)
		s.mu.Unlock()
		if got >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Reset forgets all recorded sentences.
func (s *Speaker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = nil
}
