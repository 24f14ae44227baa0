// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM (24 kHz, 16-bit signed little-endian, mono)
// and decoded while the response body streams in, so the first chunk is
// available long before the whole utterance has been generated.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = string(oai.SpeechModelGPT4oMiniTTS)

	// DefaultVoice is the default OpenAI voice.
	DefaultVoice = "alloy"

	// SampleRate is the fixed rate of the API's PCM output.
	SampleRate = 24000

	// readSize is the number of body bytes decoded per emitted chunk.
	readSize = 8192
)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	cfg    config
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	instructions string
	speed        float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often failed requests are retried. Negative
// values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithInstructions sets the voice style instructions (gpt-4o-mini-tts only).
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// WithSpeed sets the playback speed, between 0.25 and 4.0.
func WithSpeed(speed float64) Option {
	return func(c *config) {
		c.speed = speed
	}
}

// New constructs a new OpenAI TTS Provider. Empty model and voice select
// DefaultModel and DefaultVoice.
func New(apiKey, model, voice string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if voice == "" {
		voice = DefaultVoice
	}

	cfg := config{maxRetries: -1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model, voice: voice, cfg: cfg}, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return SampleRate }

// SynthesizeStream implements tts.Provider. The whole text is sent in one
// request; the response body is decoded incrementally.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (*audio.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyInput
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.cfg.instructions != "" {
		params.Instructions = param.NewOpt(p.cfg.instructions)
	}
	if p.cfg.speed != 0 {
		params.Speed = param.NewOpt(p.cfg.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w: %w", tts.ErrSynthesisFailed, err)
	}

	out := make(chan []float32, 16)
	s := audio.NewStream(out, SampleRate)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := pump(ctx, resp.Body, out); err != nil {
			if ctx.Err() != nil {
				s.SetStreamErr(ctx.Err())
				return
			}
			s.SetStreamErr(fmt.Errorf("openai tts: read audio: %w: %w", tts.ErrSynthesisFailed, err))
		}
	}()
	return s, nil
}

// pump decodes 16-bit PCM from r into float chunks on out. An odd byte at a
// read boundary is carried into the next chunk.
func pump(ctx context.Context, r io.Reader, out chan<- []float32) error {
	buf := make([]byte, readSize+1)
	carry := 0
	for {
		n, err := r.Read(buf[carry:readSize])
		n += carry
		even := n &^ 1
		if even > 0 {
			select {
			case out <- audio.PCM16ToFloat(buf[:even]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		carry = n - even
		if carry > 0 {
			buf[0] = buf[even]
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
