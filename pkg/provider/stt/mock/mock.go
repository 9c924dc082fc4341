// Package mock provides a test double for [stt.Recognizer].
//
// Results are served in order from Results; once exhausted, Text and Err are
// returned for every further call:
//
//	r := &mock.Recognizer{Results: []mock.Result{{Text: "hey luna"}, {Err: stt.ErrUnintelligible}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Recognizer is a mock implementation of [stt.Recognizer].
type Recognizer struct {
	mu sync.Mutex

	// Results are returned one per call, in order.
	Results []Result

	// Text and Err are returned once Results is exhausted.
	Text string
	Err  error

	// Hook, if set, is invoked with the utterance before a result is chosen.
	// It runs outside the lock and may block to simulate a slow backend.
	Hook func(ctx context.Context, utterance audio.AudioFrame)

	// Calls records every utterance passed to Transcribe.
	Calls []audio.AudioFrame
}

var _ stt.Recognizer = (*Recognizer)(nil)

// Transcribe records the call and returns the next scripted result.
func (r *Recognizer) Transcribe(ctx context.Context, utterance audio.AudioFrame) (string, error) {
	r.mu.Lock()
	hook := r.Hook
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, utterance)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, utterance)
	if len(r.Results) > 0 {
		res := r.Results[0]
		r.Results = r.Results[1:]
		return res.Text, res.Err
	}
	return r.Text, r.Err
}

// CallCount returns the number of Transcribe calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
