// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify the
// text passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]float32{{0.1, 0.2}, {0.3}},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	stream, _ := p.SynthesizeStream(ctx, "Hello.")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/tts"
)

// DefaultSampleRate is reported by SampleRate when Rate is zero.
const DefaultSampleRate = 24000

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Text is the text passed to SynthesizeStream.
	Text string
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of chunks emitted on the stream
	// returned by SynthesizeStream.
	SynthesizeChunks [][]float32

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a stream.
	SynthesizeErr error

	// StreamErr, if non-nil, is recorded on the stream after all chunks have
	// been emitted.
	StreamErr error

	// ChunkDelay, if positive, is slept before each chunk.
	ChunkDelay time.Duration

	// Rate is the sample rate of the produced stream. Zero means
	// DefaultSampleRate.
	Rate int

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate()
}

func (p *Provider) rate() int {
	if p.Rate > 0 {
		return p.Rate
	}
	return DefaultSampleRate
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// stream that emits SynthesizeChunks then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (*audio.Stream, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Text: text})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]float32, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	streamErr, delay, rate := p.StreamErr, p.ChunkDelay, p.rate()
	p.mu.Unlock()

	ch := make(chan []float32, len(chunks))
	s := audio.NewStream(ch, rate)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					s.SetStreamErr(ctx.Err())
					return
				}
			}
			select {
			case <-ctx.Done():
				s.SetStreamErr(ctx.Err())
				return
			case ch <- c:
			}
		}
		if streamErr != nil {
			s.SetStreamErr(streamErr)
		}
	}()
	return s, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// CallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Texts returns the text of every SynthesizeStream call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
