package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// touch moves the file mtime forward so that the change is visible on
// filesystems with coarse timestamps.
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	ts := time.Now().Add(offset)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func parseWords(data []byte) ([]string, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil, errors.New("empty")
	}
	return strings.Split(s, ","), nil
}

func quiet() config.WatcherOption {
	return config.WithWatcherLogger(slog.New(slog.DiscardHandler))
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, path, "hey luna,hello luna")

	w, err := config.NewWatcher(path, parseWords, nil, config.WithInterval(20*time.Millisecond), quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got, ok := w.Current(); !ok || len(got) != 2 || got[0] != "hey luna" {
		t.Errorf("Current = %v, %v", got, ok)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := config.NewWatcher(filepath.Join(dir, "missing"), parseWords, nil, quiet()); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "empty")
	writeFile(t, path, "")
	if _, err := config.NewWatcher(path, parseWords, nil, quiet()); err == nil {
		t.Error("expected error for unparseable file")
	}
}

func TestWatcher_LenientStartWaitsForFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")

	type change struct{ old, new []string }
	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, parseWords, func(old, new []string) {
		changes <- change{old, new}
	}, config.WithInterval(20*time.Millisecond), config.WithLenientStart(), quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if _, ok := w.Current(); ok {
		t.Fatal("Current reports a value before the file exists")
	}

	writeFile(t, path, "   ")
	touch(t, path, time.Second)
	select {
	case c := <-changes:
		t.Fatalf("onChange fired for an invalid file: %v", c)
	case <-time.After(150 * time.Millisecond):
	}

	writeFile(t, path, "hey luna")
	touch(t, path, 2*time.Second)
	select {
	case c := <-changes:
		if c.old != nil || len(c.new) != 1 || c.new[0] != "hey luna" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called once the file became valid")
	}
	if got, ok := w.Current(); !ok || len(got) != 1 {
		t.Errorf("Current = %v, %v", got, ok)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, path, "hey luna")

	var (
		mu      sync.Mutex
		changes [][2][]string
		fired   = make(chan struct{}, 4)
	)
	w, err := config.NewWatcher(path, parseWords, func(old, new []string) {
		mu.Lock()
		changes = append(changes, [2][]string{old, new})
		mu.Unlock()
		fired <- struct{}{}
	}, config.WithInterval(20*time.Millisecond), quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "hey luna,wake up")
	touch(t, path, time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes[0][0]) != 1 || len(changes[0][1]) != 2 {
		t.Errorf("change = %v", changes[0])
	}
	if got, _ := w.Current(); len(got) != 2 {
		t.Errorf("Current = %v", got)
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, path, "hey luna")

	fired := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, parseWords, func(_, _ []string) { fired <- struct{}{} },
		config.WithInterval(20*time.Millisecond), quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "   ")
	touch(t, path, time.Second)

	select {
	case <-fired:
		t.Fatal("onChange must not fire for an invalid file")
	case <-time.After(150 * time.Millisecond):
	}
	if got, _ := w.Current(); len(got) != 1 || got[0] != "hey luna" {
		t.Errorf("Current = %v, want previous value", got)
	}
}

func TestWatcher_TouchWithoutEditIgnored(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, path, "hey luna")

	fired := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, parseWords, func(_, _ []string) { fired <- struct{}{} },
		config.WithInterval(20*time.Millisecond), quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	touch(t, path, time.Second)
	select {
	case <-fired:
		t.Fatal("onChange fired for identical content")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "words.txt")
	writeFile(t, path, "hey luna")
	w, err := config.NewWatcher(path, parseWords, nil, quiet())
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_ParsesConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "luna.yaml")
	writeFile(t, path, minimalYAML)
	w, err := config.NewWatcher(path, config.Parse, nil, quiet())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	cfg, ok := w.Current()
	if !ok || cfg.Providers.STT.Name != "whisper" {
		t.Errorf("Current = %+v, %v", cfg, ok)
	}
}
