// Package openai provides a [tts.Speaker] that synthesises speech with the
// OpenAI audio speech API and plays it through an [audio.Player].
//
// Speech is requested as raw PCM (24 kHz, mono, signed 16-bit little-endian)
// so that it can be handed to the player without decoding.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

// pcmFormat is the fixed format of the API's "pcm" response.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

var _ tts.Speaker = (*Speaker)(nil)

// Speaker implements [tts.Speaker] using the OpenAI API.
type Speaker struct {
	client oai.Client
	player audio.Player
	model  string
	voice  string
	speed  float64

	mu sync.Mutex
}

type config struct {
	baseURL    string
	voice      string
	speed      float64
	maxRetries int
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithVoice selects the voice (e.g. "alloy", "nova"). Default: "nova".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the speaking rate in [0.25, 4.0]. Zero keeps the API default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithMaxRetries sets the client's retry budget for failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Speaker that plays synthesised audio on player. model
// defaults to tts-1.
func New(apiKey, model string, player audio.Player, opts ...Option) (*Speaker, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if player == nil {
		return nil, errors.New("openai tts: player must not be nil")
	}
	if model == "" {
		model = oai.SpeechModelTTS1
	}
	cfg := &config{voice: "nova", maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4.0) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4.0]", cfg.speed)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Speaker{
		client: oai.NewClient(reqOpts...),
		player: player,
		model:  model,
		voice:  cfg.voice,
		speed:  cfg.speed,
	}, nil
}

// Speak implements [tts.Speaker].
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := s.player.Play(ctx, frame); err != nil {
		return fmt.Errorf("openai tts: play: %w", err)
	}
	return nil
}

func (s *Speaker) synthesize(ctx context.Context, text string) (audio.AudioFrame, error) {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.speed != 0 {
		params.Speed = oai.Float(s.speed)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return audio.AudioFrame{}, fmt.Errorf("openai tts: server returned HTTP %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return audio.AudioFrame{
		Data:       pcm,
		SampleRate: pcmFormat.SampleRate,
		Channels:   pcmFormat.Channels,
	}, nil
}
