// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens one socket, streams the utterance as linear16
// PCM, asks Deepgram to flush with a CloseStream message, and joins the final
// results it returns before closing.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSamples is the number of samples sent per binary frame (~256 ms
	// at 16 kHz).
	chunkSamples = 4096
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets keyword boosts sent with every request.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithBaseURL overrides the listen endpoint. http and https schemes are
// mapped to ws and wss.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords []stt.KeywordBoost
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. Audio is sent at its native rate.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	text, err := p.transcribe(ctx, samples, sampleRate, language)
	if err != nil {
		return "", fmt.Errorf("%w: %w", stt.ErrTranscriptionFailed, err)
	}
	return text, nil
}

func (p *Provider) transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	wsURL, err := p.buildURL(sampleRate, language)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pcm := audio.FloatToPCM16(samples)
		for off := 0; off < len(pcm); off += chunkSamples * 2 {
			end := min(off+chunkSamples*2, len(pcm))
			if err := conn.Write(gctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				return fmt.Errorf("deepgram: send audio: %w", err)
			}
		}
		if err := conn.Write(gctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			return fmt.Errorf("deepgram: send CloseStream: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			_, msg, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("deepgram: read: %w", err)
			}
			if isMetadata(msg) {
				// Sent once the stream has been flushed.
				return nil
			}
			seg, ok := parseDeepgramResponse(msg)
			if !ok || !seg.IsFinal {
				continue
			}
			slog.Debug("deepgram: final segment", "text", seg.Text, "confidence", seg.Confidence)
			if t := strings.TrimSpace(seg.Text); t != "" {
				finals = append(finals, t)
			}
		}
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return strings.Join(finals, " "), nil
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (p *Provider) buildURL(sampleRate int, language string) (string, error) {
	raw := p.endpoint
	switch {
	case strings.HasPrefix(raw, "http://"):
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if language == "" {
		language = p.language
	}
	if sampleRate <= 0 {
		sampleRate = stt.ModelSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// segment is one recognised span of the utterance.
type segment struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a segment.
// Returns (segment, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return segment{}, false
	}
	if resp.Type != "Results" {
		return segment{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return segment{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return segment{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

func isMetadata(data []byte) bool {
	var resp struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &resp) == nil && resp.Type == "Metadata"
}
