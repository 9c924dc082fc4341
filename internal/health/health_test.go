package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func get(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	var body map[string]any
	if rec.Code != http.StatusNotFound {
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec, body := get(t, New(Checker{Name: "never", Check: func(context.Context) error {
		return errors.New("not consulted")
	}}), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("code = %d, body = %v", rec.Code, body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "phrases", Check: func(context.Context) error { return nil }},
				{Name: "capture", Check: func(context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"phrases": "ok", "capture": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "phrases", Check: func(context.Context) error { return errors.New("no wake phrases configured") }},
				{Name: "capture", Check: func(context.Context) error { return nil }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"phrases": "fail: no wake phrases configured", "capture": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, body := get(t, New(tc.checkers...), "/readyz")
			if rec.Code != tc.wantCode || body["status"] != tc.wantStatus {
				t.Fatalf("code = %d, body = %v", rec.Code, body)
			}
			checks, _ := body["checks"].(map[string]any)
			for name, want := range tc.wantChecks {
				if checks[name] != want {
					t.Errorf("check %s = %v, want %q", name, checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CheckerSeesDeadline(t *testing.T) {
	t.Parallel()
	var hadDeadline atomic.Bool
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		return nil
	}})
	get(t, h, "/readyz")
	if !hadDeadline.Load() {
		t.Error("checker context has no deadline")
	}
}

func TestCondition(t *testing.T) {
	t.Parallel()
	var up atomic.Bool
	c := Condition("capture", "microphone closed", up.Load)
	if err := c.Check(context.Background()); err == nil || err.Error() != "microphone closed" {
		t.Errorf("err = %v", err)
	}
	up.Store(true)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestStatez(t *testing.T) {
	t.Parallel()
	rec, _ := get(t, New(), "/statez")
	if rec.Code != http.StatusNotFound {
		t.Errorf("without status func: code = %d", rec.Code)
	}

	h := New().WithStatus(func() any {
		return map[string]any{"state": "sleeping", "commands_pending": 0}
	})
	rec, body := get(t, h, "/statez")
	if rec.Code != http.StatusOK || body["state"] != "sleeping" {
		t.Errorf("code = %d, body = %v", rec.Code, body)
	}
}
