// Package openai provides a [stt.Recognizer] backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe and compatible servers).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements [stt.Recognizer] using the OpenAI API.
type Recognizer struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

type config struct {
	baseURL    string
	language   string
	prompt     string
	maxRetries int
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the API base URL, e.g. for a self-hosted
// OpenAI-compatible transcription server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 input language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt biases recognition towards the given vocabulary, such as the
// configured wake phrases.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithMaxRetries sets the client's retry budget for failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Recognizer. model defaults to whisper-1.
func New(apiKey, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = oai.AudioModelWhisper1
	}
	cfg := &config{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Recognizer{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements [stt.Recognizer].
func (r *Recognizer) Transcribe(ctx context.Context, utterance audio.AudioFrame) (string, error) {
	if len(utterance.Data) == 0 {
		return "", stt.ErrUnintelligible
	}
	wav := audio.EncodeWAV(utterance.Data, utterance.SampleRate, utterance.Channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(r.model),
	}
	if r.language != "" {
		params.Language = oai.String(r.language)
	}
	if r.prompt != "" {
		params.Prompt = oai.String(r.prompt)
	}

	res, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", stt.ErrUnintelligible
	}
	return text, nil
}
