package interaction_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/journal"
	"github.com/MrWong99/luna/internal/notify"
	"github.com/MrWong99/luna/internal/phrase"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// waitFor polls cond until it holds or a second elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// publisher records every notification.
type publisher struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (p *publisher) Publish(n notify.Notification) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	return true
}

func (p *publisher) all() []notify.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Notification, len(p.got))
	copy(out, p.got)
	return out
}

func (p *publisher) count(kind notify.Kind) int {
	n := 0
	for _, got := range p.all() {
		if got.Type == kind {
			n++
		}
	}
	return n
}

// journalLog records every entry.
type journalLog struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *journalLog) Record(e journal.Entry) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return true
}

func (j *journalLog) kinds() []journal.Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.Kind
	for _, e := range j.entries {
		out = append(out, e.Kind)
	}
	return out
}

// listener is a fake capture session that lets tests inject transcripts.
type listener struct {
	err error

	mu      sync.Mutex
	cb      func(string)
	starts  int
	stopped int
}

func (l *listener) StartListening(cb func(string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	if l.err != nil {
		return l.err
	}
	l.cb = cb
	return nil
}

func (l *listener) StopListening() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
	l.cb = nil
}

func (l *listener) say(text string) {
	l.mu.Lock()
	cb := l.cb
	l.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (l *listener) ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb != nil
}

func (l *listener) stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// detector wraps a phrase matcher and counts calls.
type detector struct {
	m     *phrase.Matcher
	calls atomic.Int32
}

func newDetector() *detector {
	return &detector{m: phrase.New(&phrase.Config{
		WakeWords:  []string{"hey luna"},
		SleepWords: []string{"goodbye luna"},
	}, phrase.WithLogger(discard()))}
}

func (d *detector) Detect(ctx context.Context, text string) (phrase.Match, bool) {
	defer d.calls.Add(1)
	return d.m.Detect(ctx, text)
}
