package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Only stream setup is covered by failover. Streams carry their own sample
// rate, so backends with different rates can be mixed; [TTSFallback.SampleRate]
// reports the primary's.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// [tts.ErrEmptyInput] is added to the neutral errors so a blank request never
// trips a breaker.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	neutral := cfg.CircuitBreaker.Neutral
	if neutral == nil {
		neutral = IsNeutral
	}
	cfg.CircuitBreaker.Neutral = func(err error) bool {
		return errors.Is(err, tts.ErrEmptyInput) || neutral(err)
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream returns the stream of the first healthy provider.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string) (*audio.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*audio.Stream, error) {
		return p.SynthesizeStream(ctx, text)
	})
}

// SampleRate returns the primary provider's rate.
func (f *TTSFallback) SampleRate() int { return f.group.Primary().SampleRate() }

// ListVoices returns voices from the first healthy provider that can list
// them. Providers without a catalogue are skipped without touching their
// breakers; if none has one the error wraps [tts.ErrVoicesUnsupported].
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, tts.ErrVoicesUnsupported
		}
		return vl.ListVoices(ctx)
	})
}

// Status reports each backend's breaker state.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Providers returns the wrapped providers, primary first.
func (f *TTSFallback) Providers() []tts.Provider { return f.group.Values() }
