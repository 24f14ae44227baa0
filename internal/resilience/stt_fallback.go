package resilience

import (
	"context"

	"github.com/MrWong99/speechio/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the utterance through the first healthy provider. Empty
// input short-circuits without touching any backend.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, samples, sampleRate, language)
	})
}

// Status reports each backend's breaker state.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Providers returns the wrapped providers, primary first.
func (f *STTFallback) Providers() []stt.Provider { return f.group.Values() }
