// Package openai provides an STT provider backed by the OpenAI transcription
// API. Utterances are uploaded as 16 kHz WAV files.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/speechio/pkg/audio/wav"
	"github.com/MrWong99/speechio/pkg/provider/stt"
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  string
	cfg    config
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	language   string
	prompt     string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often failed requests are retried. Negative
// values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets a text prompt that guides spelling of names and jargon.
func WithPrompt(p string) Option {
	return func(c *config) { c.prompt = p }
}

// New constructs a new OpenAI STT Provider. An empty model selects
// DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := config{maxRetries: -1}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, cfg: cfg}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if language == "" {
		language = p.cfg.language
	}

	data := wav.EncodeBytes(stt.Resample(samples, sampleRate), stt.ModelSampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(data), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if language != "" && language != "auto" {
		params.Language = param.NewOpt(language)
	}
	if p.cfg.prompt != "" {
		params.Prompt = param.NewOpt(p.cfg.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w: %w", stt.ErrTranscriptionFailed, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
