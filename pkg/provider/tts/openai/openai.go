// Package openai provides a TTS provider backed by the OpenAI speech endpoint
// (tts-1, tts-1-hd, gpt-4o-mini-tts).
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/callagent/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithVoice selects the voice (alloy, echo, fable, onyx, nova, shimmer, ...).
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithSpeed sets the playback speed multiplier (0.25 to 4.0). Zero leaves the
// server default.
func WithSpeed(speed float64) Option {
	return func(p *Provider) { p.speed = speed }
}

// WithRequestOptions replaces the SDK client options, e.g. option.WithBaseURL.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(p *Provider) {
		p.client = oai.NewClient(opts...)
	}
}

// New constructs an OpenAI TTS provider. model defaults to "tts-1".
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		voice:  defaultVoice,
	}
	for _, o := range opts {
		o(p)
	}
	if p.speed != 0 && (p.speed < 0.25 || p.speed > 4.0) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4.0]", p.speed)
	}
	return p, nil
}

// Synthesize requests a WAV rendition of text.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai tts: speech returned status %d", resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	return wav, nil
}
