// Package journal records the interaction history of the assistant: wake and
// sleep transitions, commands heard and the replies given.
//
// Entries are appended asynchronously through a [Recorder] so that the
// interaction loop never waits on storage. Two [Store] implementations are
// provided: an in-memory ring buffer and a PostgreSQL table.
package journal

import (
	"context"
	"time"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindWake     Kind = "wake"
	KindSleep    Kind = "sleep"
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
)

// Entry is one recorded interaction event.
type Entry struct {
	// ID is assigned by the store on append. Zero before that.
	ID int64

	Kind Kind

	// Text is the command, reply or sleep reason. May be empty.
	Text string

	// At is the time the event happened. Stores fill it with the current
	// time when zero.
	At time.Time
}

// Store persists journal entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists e and returns it with ID and At populated.
	Append(ctx context.Context, e Entry) (Entry, error)

	// Recent returns at most limit entries, newest first. A non-positive
	// limit returns nil.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
