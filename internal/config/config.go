// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the speechio service.
package config

import (
	"path/filepath"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
)

// LogLevel controls log verbosity for the speechio server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Resampler names a sample-rate conversion strategy.
type Resampler string

const (
	ResamplerNearest Resampler = "nearest"
	ResamplerLinear  Resampler = "linear"
)

// IsValid reports whether r is a recognised resampler name.
func (r Resampler) IsValid() bool {
	return r == ResamplerNearest || r == ResamplerLinear
}

// New returns the [audio.Resampler] for r. Unknown names fall back to
// nearest-neighbour.
func (r Resampler) New() audio.Resampler {
	if r == ResamplerLinear {
		return audio.LinearResampler{}
	}
	return audio.NearestResampler{}
}

// Config is the root configuration structure for speechio.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8009").
	// The SPEECH_PORT environment variable replaces the port.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// Language is the recognition language used by /listen (e.g., "en").
	Language string `yaml:"language"`

	// AutoOpen opens the output device when the server starts.
	AutoOpen bool `yaml:"auto_open"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig configures the playback and capture engines.
type AudioConfig struct {
	// AssetsDir holds the WAV clips served by /play and written by /generate.
	// Overridden by SPEECH_ASSETS_DIR.
	AssetsDir string `yaml:"assets_dir"`

	// Resampler selects the rate conversion used for filler clips, WAV assets
	// and provider streams whose rate differs from the output rate.
	Resampler Resampler `yaml:"resampler"`

	Output  OutputConfig  `yaml:"output"`
	Input   InputConfig   `yaml:"input"`
	Waiting WaitingConfig `yaml:"waiting"`
	Capture CaptureConfig `yaml:"capture"`
}

// OutputConfig configures the playback device.
type OutputConfig struct {
	// Device selects the output device: "default", an index such as "2", or a
	// name fragment such as "plughw:0,0". Overridden by SPEECH_DEVICE.
	Device string `yaml:"device"`

	// SampleRate is the engine-wide output rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per device callback.
	BlockSize int `yaml:"block_size"`

	// HeadPadMs is the silence played before foreground content. Negative
	// disables it; zero selects the engine default.
	HeadPadMs int `yaml:"head_pad_ms"`

	// DrainTimeoutMs bounds how long WAV playback waits for the queue to
	// drain. Zero waits until it is empty.
	DrainTimeoutMs int `yaml:"drain_timeout_ms"`

	// PrebufferMs is the amount of synthesized audio gathered before the
	// first TTS chunk is released. Zero selects the default.
	PrebufferMs int `yaml:"prebuffer_ms"`
}

// InputConfig configures the capture device and voice activity detection.
type InputConfig struct {
	// Device selects the input device. Overridden by INPUT_DEVICE.
	Device string `yaml:"device"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the VAD frame length: 10, 20 or 30.
	FrameMs int `yaml:"frame_ms"`

	// Aggressiveness is the VAD mode, 0 (least) to 3 (most aggressive).
	Aggressiveness int `yaml:"aggressiveness"`

	// EnergyGate forces frames with RMS below it to count as silence.
	// Zero disables the gate.
	EnergyGate float64 `yaml:"energy_gate"`
}

// WaitingConfig configures the waiting-tone filler.
type WaitingConfig struct {
	// Clip is the filler WAV file, relative to AssetsDir unless absolute.
	// Empty disables the filler.
	Clip string `yaml:"clip"`

	// FadeMs is the fade-in applied when the filler starts. Hot-reloadable.
	FadeMs int `yaml:"fade_ms"`

	// LowWaterMs is the queue depth below which filler is topped up.
	// Hot-reloadable.
	LowWaterMs int `yaml:"low_water_ms"`
}

// CaptureConfig holds the capture limits used when a request omits them.
// Hot-reloadable.
type CaptureConfig struct {
	InitialSilenceMs int `yaml:"initial_silence_ms"`
	TailSilenceMs    int `yaml:"tail_silence_ms"`
}

// InitialSilence returns InitialSilenceMs as a duration.
func (c CaptureConfig) InitialSilence() time.Duration {
	return time.Duration(c.InitialSilenceMs) * time.Millisecond
}

// TailSilence returns TailSilenceMs as a duration.
func (c CaptureConfig) TailSilence() time.Duration {
	return time.Duration(c.TailSilenceMs) * time.Millisecond
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	VAD          ProviderEntry   `yaml:"vad"`
	Audio        ProviderEntry   `yaml:"audio"`

	// Whisper locates local whisper.cpp models for the whisper-native STT
	// provider.
	Whisper WhisperConfig `yaml:"whisper"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "coqui", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3",
	// "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Voice selects the synthesis voice or speaker where the provider has one.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// WhisperConfig locates ggml whisper models on disk.
type WhisperConfig struct {
	// ModelDir holds ggml-<size>.bin files. Overridden by WHISPER_MODEL_DIR.
	ModelDir string `yaml:"model_dir"`

	// ModelSize picks the model file, e.g. "small.en". Overridden by
	// WHISPER_MODEL_SIZE.
	ModelSize string `yaml:"model_size"`
}

// ModelPath returns the ggml model file for the configured size.
func (w WhisperConfig) ModelPath() string {
	return filepath.Join(w.ModelDir, "ggml-"+w.ModelSize+".bin")
}

// ResilienceConfig tunes the circuit breakers placed in front of every
// provider.
type ResilienceConfig struct {
	MaxFailures    int `yaml:"max_failures"`
	ResetTimeoutMs int `yaml:"reset_timeout_ms"`
	HalfOpenMax    int `yaml:"half_open_max"`
}
