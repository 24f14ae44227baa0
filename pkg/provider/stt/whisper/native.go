// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/speechio/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// warmupSamples is half a second of silence at 16 kHz, fed through the model
// once at load so the first real utterance does not pay for lazy allocation.
const warmupSamples = stt.ModelSampleRate / 2

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once and shared; every call gets its own
// inference context, so concurrent calls do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
	warmup   bool
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "auto"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the bindings' default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativeWarmup enables or disables the load-time warm-up pass. Enabled
// by default.
func WithNativeWarmup(enabled bool) NativeOption {
	return func(p *NativeProvider) { p.warmup = enabled }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		warmup:   true,
	}
	for _, o := range opts {
		o(p)
	}

	if p.warmup {
		start := time.Now()
		if _, err := p.infer(make([]float32, warmupSamples), p.language); err != nil {
			slog.Warn("whisper: warm-up failed", "model", modelPath, "err", err)
		} else {
			slog.Debug("whisper: model warmed up", "model", modelPath, "took", time.Since(start))
		}
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. whisper.cpp inference cannot be
// interrupted; ctx is only checked before the call starts.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if language == "" {
		language = p.language
	}
	text, err := p.infer(stt.Resample(samples, sampleRate), language)
	if err != nil {
		return "", fmt.Errorf("%w: %w", stt.ErrTranscriptionFailed, err)
	}
	return text, nil
}

// infer runs whisper.cpp on 16 kHz mono samples using a fresh context and
// returns the concatenated segment text.
func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	// Contexts are not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
