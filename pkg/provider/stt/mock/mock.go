// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: "hello"}
//	text, _ := p.Transcribe(ctx, samples, 16000, "")
//	calls := p.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speechio/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Samples    int
	SampleRate int
	Language   string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every successful Transcribe call.
	Result string

	// Err, if non-nil, is returned instead of Result.
	Err error

	calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err. Empty input returns
// "" without error, like real providers.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, TranscribeCall{Samples: len(samples), SampleRate: sampleRate, Language: language})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Err != nil {
		return "", p.Err
	}
	if len(samples) == 0 {
		return "", nil
	}
	return p.Result, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
