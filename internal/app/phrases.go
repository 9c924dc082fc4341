package app

import (
	"encoding/json"
	"net/http"

	"github.com/MrWong99/luna/internal/phrase"
)

// maxPatchBytes bounds a PATCH /phrases request body.
const maxPatchBytes = 64 << 10

// RefreshPhrases reloads the phrase file immediately. On failure the active
// phrases stay in place.
func (a *App) RefreshPhrases() error {
	return a.matcher.Refresh()
}

// MergePhrases applies a partial phrase update. Lists left nil in p keep
// their current value.
func (a *App) MergePhrases(p phrase.Patch) {
	a.matcher.Merge(p)
}

func (a *App) registerPhraseRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /phrases", a.handleGetPhrases)
	mux.HandleFunc("PATCH /phrases", a.handlePatchPhrases)
	mux.HandleFunc("POST /phrases/refresh", a.handleRefreshPhrases)
}

func (a *App) handleGetPhrases(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.phraseView())
}

func (a *App) handlePatchPhrases(w http.ResponseWriter, r *http.Request) {
	var p phrase.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a.MergePhrases(p)
	writeJSON(w, http.StatusOK, a.phraseView())
}

func (a *App) handleRefreshPhrases(w http.ResponseWriter, _ *http.Request) {
	if err := a.RefreshPhrases(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.phraseView())
}

// phraseView returns the active config with nil lists rendered as [].
func (a *App) phraseView() phrase.Config {
	c := a.matcher.Config()
	if c == nil {
		c = &phrase.Config{}
	}
	v := *c
	for _, l := range []*[]string{&v.WakeWords, &v.SleepWords, &v.WakeResponses, &v.SleepResponses} {
		if *l == nil {
			*l = []string{}
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
