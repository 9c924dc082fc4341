package journal

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity is the number of entries a [MemoryStore] keeps when
// no capacity is given.
const DefaultMemoryCapacity = 1000

// MemoryStore is a [Store] that keeps the most recent entries in a ring
// buffer. Older entries are overwritten once the buffer is full.
type MemoryStore struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	size   int
	lastID int64
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore holding at most capacity entries.
// A non-positive capacity selects [DefaultMemoryCapacity].
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{buf: make([]Entry, capacity), now: time.Now}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	e.ID = s.lastID
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.buf[s.next] = e
	s.next = (s.next + 1) % len(s.buf)
	s.size = min(s.size+1, len(s.buf))
	return e, nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, s.size)
	out := make([]Entry, 0, n)
	for i := range n {
		idx := (s.next - 1 - i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out, nil
}

// Len returns the number of entries held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
