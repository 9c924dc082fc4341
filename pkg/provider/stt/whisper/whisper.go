// Package whisper provides a [stt.Recognizer] backed by a local whisper.cpp
// server.
//
// The recognizer posts each utterance as a WAV file to the server's
// POST /inference endpoint and returns the transcribed text. whisper.cpp marks
// non-speech segments with bracketed annotations such as "[BLANK_AUDIO]" or
// "(wind blowing)"; a response consisting only of such annotations is reported
// as [stt.ErrUnintelligible].
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := r.Transcribe(ctx, utterance)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// annotation matches whisper.cpp's non-speech markers.
var annotation = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a [Recognizer].
type Option func(*Recognizer)

// WithModel sets the model hint sent to the server. whisper.cpp server
// typically ignores it because the model is chosen at server start.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the BCP-47 language code (e.g. "en", "de"). Default: "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// Recognizer transcribes utterances through a whisper.cpp server.
type Recognizer struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Recognizer for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe implements [stt.Recognizer].
func (r *Recognizer) Transcribe(ctx context.Context, utterance audio.AudioFrame) (string, error) {
	if len(utterance.Data) == 0 {
		return "", stt.ErrUnintelligible
	}
	wav := audio.EncodeWAV(utterance.Data, utterance.SampleRate, utterance.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text := cleanTranscript(result.Text)
	if text == "" {
		return "", stt.ErrUnintelligible
	}
	return text, nil
}

// cleanTranscript strips non-speech annotations and collapses whitespace.
func cleanTranscript(s string) string {
	s = annotation.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
