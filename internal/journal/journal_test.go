package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data    [][]any
	idx     int
	err     error
	closed  bool
	scanErr error
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

var t0 = time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// PostgresStore
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	var gotSQL string
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if gotSQL != Schema {
		t.Error("Migrate did not execute Schema")
	}

	boom := errors.New("connection refused")
	s = NewPostgresStore(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, boom
	}})
	err := s.Migrate(context.Background())
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "journal: migrate:") {
		t.Errorf("err = %v", err)
	}
}

func TestPostgresStore_Append(t *testing.T) {
	t.Parallel()
	var gotArgs []any
	s := NewPostgresStore(&mockDB{queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
		gotArgs = args
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int64) = 7
			*dest[1].(*time.Time) = t0
			return nil
		}}
	}})

	e, err := s.Append(context.Background(), Entry{Kind: KindCommand, Text: "what time is it"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID != 7 || !e.At.Equal(t0) || e.Kind != KindCommand {
		t.Errorf("entry = %+v", e)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "command" || gotArgs[1] != "what time is it" {
		t.Fatalf("args = %v", gotArgs)
	}
	if at, ok := gotArgs[2].(*time.Time); !ok || at != nil {
		t.Errorf("zero At should be sent as NULL, got %v", gotArgs[2])
	}
}

func TestPostgresStore_AppendError(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{})
	_, err := s.Append(context.Background(), Entry{Kind: KindWake, At: t0})
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("err = %v", err)
	}
}

func TestPostgresStore_Recent(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]any{
		{int64(2), "response", "It's 2:07 PM.", t0.Add(time.Second)},
		{int64(1), "command", "what time is it", t0},
	}}
	var gotLimit any
	s := NewPostgresStore(&mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		gotLimit = args[0]
		return rows, nil
	}})

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if gotLimit != 10 {
		t.Errorf("limit arg = %v", gotLimit)
	}
	if len(got) != 2 || got[0].Kind != KindResponse || got[1].Text != "what time is it" {
		t.Errorf("entries = %+v", got)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}

	if got, err := s.Recent(context.Background(), 0); got != nil || err != nil {
		t.Errorf("Recent(0) = %v, %v", got, err)
	}
}

func TestPostgresStore_RecentErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tests := []struct {
		name string
		db   *mockDB
	}{
		{"query", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return nil, boom }}},
		{"scan", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{{int64(1)}}, scanErr: boom}, nil
		}}},
		{"rows", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: boom}, nil
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewPostgresStore(tc.db).Recent(context.Background(), 5); !errors.Is(err, boom) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_RingBuffer(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := range 5 {
		e, err := s.Append(ctx, Entry{Kind: KindCommand, Text: fmt.Sprint(i)})
		if err != nil {
			t.Fatal(err)
		}
		if e.ID != int64(i+1) || e.At.IsZero() {
			t.Errorf("entry %d = %+v", i, e)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d", s.Len())
	}

	got, _ := s.Recent(ctx, 10)
	var texts []string
	for _, e := range got {
		texts = append(texts, e.Text)
	}
	if strings.Join(texts, ",") != "4,3,2" {
		t.Errorf("Recent = %v, want newest first", texts)
	}

	got, _ = s.Recent(ctx, 1)
	if len(got) != 1 || got[0].Text != "4" {
		t.Errorf("Recent(1) = %+v", got)
	}
	if got, _ := s.Recent(ctx, -1); got != nil {
		t.Errorf("Recent(-1) = %+v", got)
	}
}

func TestMemoryStore_KeepsGivenTime(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(0)
	e, _ := s.Append(context.Background(), Entry{Kind: KindWake, At: t0})
	if !e.At.Equal(t0) {
		t.Errorf("At = %v", e.At)
	}
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return Entry{}, errors.New("disk full")
}

func (f *failingStore) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRecorder_WritesAndFlushes(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(10)
	r := NewRecorder(store, WithRecorderLogger(discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	r.Record(Entry{Kind: KindWake})
	deadline := time.Now().Add(time.Second)
	for store.Len() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("entry never written")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
	if store.Len() != 1 {
		t.Errorf("Len = %d", store.Len())
	}
}

func TestRecorder_FlushOnShutdown(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(10)
	r := NewRecorder(store, WithRecorderLogger(discard()))
	r.Record(Entry{Kind: KindCommand, Text: "a"})
	r.Record(Entry{Kind: KindResponse, Text: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 2 || r.Pending() != 0 {
		t.Errorf("Len = %d, Pending = %d", store.Len(), r.Pending())
	}
}

func TestRecorder_DropOnFullAndStoreErrors(t *testing.T) {
	t.Parallel()
	store := &failingStore{}
	r := NewRecorder(store, WithRecorderCapacity(1), WithRecorderLogger(discard()))
	if !r.Record(Entry{Kind: KindSleep}) {
		t.Fatal("first record rejected")
	}
	if r.Record(Entry{Kind: KindSleep}) {
		t.Fatal("record into full buffer accepted")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped = %d", r.Dropped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)
	if store.calls != 1 {
		t.Errorf("store calls = %d", store.calls)
	}
}
