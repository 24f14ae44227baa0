// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model or
// server, Deepgram, OpenAI) and exposes a uniform batch interface: one
// captured utterance in, one transcript out. Utterance segmentation happens
// upstream in the capture engine, so providers never see open-ended streams.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/speechio/pkg/audio"
)

// ModelSampleRate is the rate most recognition models are trained on.
// Providers resample other input rates to it with [Resample].
const ModelSampleRate = 16000

// Sentinel errors shared by all providers.
var (
	// ErrNotInitialized is returned when the provider's model or backend
	// connection is not ready.
	ErrNotInitialized = errors.New("stt: provider not initialized")

	// ErrTranscriptionFailed wraps backend failures.
	ErrTranscriptionFailed = errors.New("stt: transcription failed")
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in samples, mono float32 at
	// sampleRate. language is a short code such as "en"; empty selects the
	// provider default. An empty samples slice returns "" and a nil error.
	//
	// The call is synchronous and honours ctx cancellation where the backend
	// allows it.
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error)
}

// Resample converts samples to [ModelSampleRate] with linear interpolation.
// Input already at that rate is returned unchanged.
func Resample(samples []float32, sampleRate int) []float32 {
	return audio.LinearResampler{}.Resample(samples, sampleRate, ModelSampleRate)
}
