// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (Coqui XTTS, ElevenLabs,
// OpenAI) and presents a uniform streaming interface: SynthesizeStream takes
// the full text of an utterance and returns an [audio.Stream] whose chunks
// arrive as the backend produces them, so that playback can start before the
// whole utterance has been synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/speechio/pkg/audio"
)

// Sentinel errors shared by all providers.
var (
	// ErrNotInitialized is returned when the provider's backend (model, server
	// connection, credentials) is not ready.
	ErrNotInitialized = errors.New("tts: provider not initialized")

	// ErrEmptyInput is returned when the text is empty after trimming.
	ErrEmptyInput = errors.New("tts: empty input")

	// ErrSynthesisFailed wraps backend failures, either when starting the
	// stream or recorded on the stream mid-way.
	ErrSynthesisFailed = errors.New("tts: synthesis failed")

	// ErrVoicesUnsupported is returned when no provider can enumerate its
	// voices. It wraps [errors.ErrUnsupported].
	ErrVoicesUnsupported = fmt.Errorf("tts: voice listing %w", errors.ErrUnsupported)
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream starts synthesising text and returns a stream of mono
	// float32 chunks at SampleRate().
	//
	// The stream's channel is closed by the implementation when synthesis is
	// complete, when it fails (the error is recorded with
	// [audio.Stream.SetStreamErr]) or when ctx is cancelled. The caller must
	// drain the channel to release the provider's goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text string) (*audio.Stream, error)

	// SampleRate returns the rate in Hz of the produced audio.
	SampleRate() int
}

// VoiceLister is implemented by providers that can enumerate their voice
// catalogue. It backs the GET /voices route.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
