// Package speech composes the playback engine, capture engine and speech
// providers into the operations served over HTTP: speaking text, playing and
// generating WAV assets, opening and closing the output device, and
// listening or recording from the microphone.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speechio/internal/observe"
	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/capture"
	"github.com/MrWong99/speechio/pkg/audio/playback"
	"github.com/MrWong99/speechio/pkg/audio/wav"
	"github.com/MrWong99/speechio/pkg/provider/stt"
	"github.com/MrWong99/speechio/pkg/provider/tts"
)

var (
	// ErrEmptyText is returned when the text to speak or generate is blank.
	ErrEmptyText = errors.New("speech: text is required")

	// ErrInvalidName is returned when an asset name is blank or resolves to
	// no file name.
	ErrInvalidName = errors.New("speech: name is required")

	// ErrAssetNotFound is returned by Play when the asset does not exist.
	ErrAssetNotFound = errors.New("speech: asset not found")

	// ErrNoSynthesizer is returned when no TTS provider is configured.
	ErrNoSynthesizer = errors.New("speech: no tts provider configured")

	// ErrNoRecognizer is returned when no STT provider is configured.
	ErrNoRecognizer = errors.New("speech: no stt provider configured")
)

// DefaultChunkSize is the number of source frames read per chunk when
// playing a WAV asset.
const DefaultChunkSize = 4096

// Option configures a [Service].
type Option func(*Service)

// WithTTS sets the synthesis backend. name labels its metrics.
func WithTTS(name string, p tts.Provider) Option {
	return func(s *Service) {
		s.tts, s.ttsName = p, name
	}
}

// WithSTT sets the recognition backend. name labels its metrics.
func WithSTT(name string, p stt.Provider) Option {
	return func(s *Service) {
		s.stt, s.sttName = p, name
	}
}

// WithCapture sets the microphone capture engine used by Listen and Record.
func WithCapture(c *capture.Engine) Option {
	return func(s *Service) { s.capture = c }
}

// WithAssetsDir sets the directory WAV assets are read from and written to.
func WithAssetsDir(dir string) Option {
	return func(s *Service) { s.assetsDir = dir }
}

// WithLanguage sets the recognition language passed to the STT provider.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithCaptureDefaults sets the limits used by callers that leave them out.
func WithCaptureDefaults(l capture.Limits) Option {
	return func(s *Service) { s.defaults = l }
}

// WithMetrics records latencies and provider calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStreamOptions passes options to the stream adapter used by Speak.
func WithStreamOptions(opts ...playback.StreamOption) Option {
	return func(s *Service) { s.streamOpts = append(s.streamOpts, opts...) }
}

// Service is the speech façade. All methods are safe for concurrent use;
// foreground playback is serialised by the engine.
type Service struct {
	engine  *playback.Engine
	stream  *playback.StreamAdapter
	capture *capture.Engine

	tts     tts.Provider
	ttsName string
	stt     stt.Provider
	sttName string

	assetsDir  string
	language   string
	chunkSize  int
	metrics    *observe.Metrics
	streamOpts []playback.StreamOption

	mu       sync.RWMutex
	defaults capture.Limits
}

// New creates a Service playing through engine.
func New(engine *playback.Engine, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		assetsDir: ".",
		chunkSize: DefaultChunkSize,
		ttsName:   "tts",
		sttName:   "stt",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	onFirst := playback.WithOnFirstAudio(func(d time.Duration) {
		s.metrics.TTSFirstAudio.Record(context.Background(), d.Seconds())
	})
	s.stream = playback.NewStreamAdapter(engine, append([]playback.StreamOption{onFirst}, s.streamOpts...)...)
	return s
}

// SampleRate returns the output rate in Hz.
func (s *Service) SampleRate() int { return s.engine.SampleRate() }

// OutputOpen reports whether the output device is bound.
func (s *Service) OutputOpen() bool { return s.engine.IsOpen() }

// Open binds the output device and starts the waiting tone.
func (s *Service) Open(ctx context.Context) (playback.OpenStatus, error) {
	return s.engine.Open(ctx)
}

// Close releases the output device. Closing a closed device is a no-op.
func (s *Service) Close() error { return s.engine.Close() }

// SetWaitingTunables forwards hot-reloaded waiting-tone settings.
func (s *Service) SetWaitingTunables(fade, lowWater time.Duration) {
	s.engine.SetWaitingTunables(fade, lowWater)
}

// CaptureDefaults returns the limits applied when a request omits them.
func (s *Service) CaptureDefaults() capture.Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetCaptureDefaults replaces the default capture limits.
func (s *Service) SetCaptureDefaults(l capture.Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = l
}

// Speak synthesizes text and plays it, interrupting the waiting tone once
// the first audio is ready. It returns after playback has drained.
func (s *Service) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if s.tts == nil {
		return ErrNoSynthesizer
	}
	if !s.engine.IsOpen() {
		return playback.ErrClosed
	}

	start := time.Now()
	stream, err := s.tts.SynthesizeStream(ctx, text)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.ttsName, "tts", err)
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	err = s.stream.Play(ctx, stream)
	s.metrics.RecordProviderRequest(ctx, s.ttsName, "tts", providerErr(err))
	if err != nil {
		return fmt.Errorf("speech: speak: %w", err)
	}
	s.metrics.TTSPlaybackDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx).Debug("speech: spoke", "chars", len(text), "duration", time.Since(start))
	return nil
}

// providerErr filters playback outcomes that say nothing about the
// provider's health.
func providerErr(err error) error {
	if errors.Is(err, playback.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Play plays the WAV asset called name from the assets directory.
func (s *Service) Play(ctx context.Context, name string) error {
	path, err := s.AssetPath(name)
	if err != nil {
		return err
	}
	if err := probeWAV(path); err != nil {
		return err
	}
	if !s.engine.IsOpen() {
		return playback.ErrClosed
	}
	chunks := wav.Chunks(path, s.chunkSize, s.engine.SampleRate(), s.engine.Resampler())
	if err := s.engine.InterruptAndPlay(ctx, chunks); err != nil {
		return fmt.Errorf("speech: play %q: %w", filepath.Base(path), err)
	}
	return nil
}

// Voices lists the voices offered by the TTS provider. It returns an error
// wrapping [tts.ErrVoicesUnsupported] when the provider has no catalogue.
func (s *Service) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if s.tts == nil {
		return nil, ErrNoSynthesizer
	}
	vl, ok := s.tts.(tts.VoiceLister)
	if !ok {
		return nil, tts.ErrVoicesUnsupported
	}
	voices, err := vl.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	return voices, nil
}

// AssetNotFoundError carries the resolved path of a missing asset. It
// matches [ErrAssetNotFound].
type AssetNotFoundError struct {
	Path string
}

func (e *AssetNotFoundError) Error() string { return ErrAssetNotFound.Error() + ": " + e.Path }

func (e *AssetNotFoundError) Unwrap() error { return ErrAssetNotFound }

// probeWAV checks that path exists and carries a supported WAV header.
func probeWAV(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &AssetNotFoundError{Path: path}
	}
	if err != nil {
		return fmt.Errorf("speech: open asset: %w", err)
	}
	defer f.Close()
	if _, err := wav.NewReader(f); err != nil {
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			return fmt.Errorf("speech: asset %s: %w", path, err)
		}
		return fmt.Errorf("speech: asset %s: %w: %w", path, audio.ErrUnsupportedFormat, err)
	}
	return nil
}

// Generate synthesizes text in full and writes it to the asset called name
// as 16-bit WAV at the provider's rate. The assets directory is created if
// missing. It returns the written path.
func (s *Service) Generate(ctx context.Context, name, text string) (string, error) {
	path, err := s.AssetPath(name)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if s.tts == nil {
		return "", ErrNoSynthesizer
	}

	stream, err := s.tts.SynthesizeStream(ctx, text)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.ttsName, "tts", err)
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	samples, err := stream.Collect()
	s.metrics.RecordProviderRequest(ctx, s.ttsName, "tts", err)
	if err != nil {
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	if len(samples) == 0 {
		return "", audio.ErrNoAudioProduced
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("speech: create assets dir: %w", err)
	}
	if err := wav.WriteFile(path, samples, stream.SampleRate); err != nil {
		return "", fmt.Errorf("speech: write asset: %w", err)
	}
	slog.Info("speech: asset generated", "path", path, "samples", len(samples), "sample_rate", stream.SampleRate)
	return path, nil
}

// AssetPath resolves name to a file in the assets directory. Only the base
// name is used and ".wav" is appended unless already present.
func (s *Service) AssetPath(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "", ErrInvalidName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".wav") {
		name += ".wav"
	}
	return filepath.Join(s.assetsDir, name), nil
}

// Listen captures one utterance and transcribes it. An utterance cut short
// by silence, cancellation or a device fault yields "" and a nil error.
func (s *Service) Listen(ctx context.Context, lim capture.Limits) (string, error) {
	if s.stt == nil {
		return "", ErrNoRecognizer
	}
	samples, rate, err := s.record(ctx, lim)
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	start := time.Now()
	text, err := s.stt.Transcribe(ctx, samples, rate, s.language)
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordProviderRequest(ctx, s.sttName, "stt", err)
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	observe.Logger(ctx).Debug("speech: transcribed", "samples", len(samples), "chars", len(text))
	return text, nil
}

// Record captures one utterance and returns it as 16-bit mono WAV at the
// capture rate. An empty capture yields a WAV with no samples.
func (s *Service) Record(ctx context.Context, lim capture.Limits) ([]byte, error) {
	samples, rate, err := s.record(ctx, lim)
	if err != nil {
		return nil, err
	}
	return wav.EncodeBytes(samples, rate), nil
}

func (s *Service) record(ctx context.Context, lim capture.Limits) ([]float32, int, error) {
	if s.capture == nil {
		return nil, 0, fmt.Errorf("speech: capture: %w", audio.ErrDeviceUnavailable)
	}
	samples, err := s.capture.Capture(ctx, lim)
	if err != nil {
		return nil, 0, fmt.Errorf("speech: capture: %w", err)
	}
	return samples, s.capture.SampleRate(), nil
}
