package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper", "whisper-native", "deepgram", "openai"},
	"tts":   {"coqui", "elevenlabs", "openai"},
	"vad":   {"energy"},
	"audio": {"malgo"},
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr       = ":8009"
	DefaultLanguage         = "en"
	DefaultAssetsDir        = "assets"
	DefaultWaitingClip      = "waiting.wav"
	DefaultWhisperModelSize = "small.en"
	DefaultInitialSilenceMs = 5000
	DefaultTailSilenceMs    = 700
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvPort             = "SPEECH_PORT"
	EnvOutputDevice     = "SPEECH_DEVICE"
	EnvInputDevice      = "INPUT_DEVICE"
	EnvWhisperModelDir  = "WHISPER_MODEL_DIR"
	EnvWhisperModelSize = "WHISPER_MODEL_SIZE"
	EnvAssetsDir        = "SPEECH_ASSETS_DIR"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, applies the
// process environment and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields. Engine-level tunables such as the
// block size stay zero and are defaulted by the engines themselves.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Language == "" {
		cfg.Server.Language = DefaultLanguage
	}
	if cfg.Audio.AssetsDir == "" {
		cfg.Audio.AssetsDir = DefaultAssetsDir
	}
	if cfg.Audio.Resampler == "" {
		cfg.Audio.Resampler = ResamplerNearest
	}
	if cfg.Audio.Output.Device == "" {
		cfg.Audio.Output.Device = "default"
	}
	if cfg.Audio.Waiting.Clip == "" {
		cfg.Audio.Waiting.Clip = DefaultWaitingClip
	}
	if cfg.Audio.Capture.InitialSilenceMs == 0 {
		cfg.Audio.Capture.InitialSilenceMs = DefaultInitialSilenceMs
	}
	if cfg.Audio.Capture.TailSilenceMs == 0 {
		cfg.Audio.Capture.TailSilenceMs = DefaultTailSilenceMs
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "malgo"
	}
	if cfg.Providers.Whisper.ModelSize == "" {
		cfg.Providers.Whisper.ModelSize = DefaultWhisperModelSize
	}
}

// ApplyEnv overrides fields from environment variables looked up via
// lookup (normally [os.LookupEnv]). Only variables that are set apply; an
// empty SPEECH_DEVICE therefore clears the output device.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: %s %q is not a valid port", EnvPort, v)
		}
		host, _, err := net.SplitHostPort(cfg.Server.ListenAddr)
		if err != nil {
			host = ""
		}
		cfg.Server.ListenAddr = net.JoinHostPort(host, v)
	}
	if v, ok := lookup(EnvOutputDevice); ok {
		cfg.Audio.Output.Device = v
	}
	if v, ok := lookup(EnvInputDevice); ok {
		cfg.Audio.Input.Device = v
	}
	if v, ok := lookup(EnvWhisperModelDir); ok && v != "" {
		cfg.Providers.Whisper.ModelDir = v
	}
	if v, ok := lookup(EnvWhisperModelSize); ok && v != "" {
		cfg.Providers.Whisper.ModelSize = v
	}
	if v, ok := lookup(EnvAssetsDir); ok && v != "" {
		cfg.Audio.AssetsDir = v
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr %q is invalid: %w", cfg.Server.ListenAddr, err))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if a.Resampler != "" && !a.Resampler.IsValid() {
		errs = append(errs, fmt.Errorf("audio.resampler %q is invalid; valid values: nearest, linear", a.Resampler))
	}
	if a.Output.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate %d must not be negative", a.Output.SampleRate))
	}
	if a.Output.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.output.block_size %d must not be negative", a.Output.BlockSize))
	}
	if a.Output.DrainTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("audio.output.drain_timeout_ms %d must not be negative", a.Output.DrainTimeoutMs))
	}
	if a.Output.PrebufferMs < 0 {
		errs = append(errs, fmt.Errorf("audio.output.prebuffer_ms %d must not be negative", a.Output.PrebufferMs))
	}
	if a.Input.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate %d must not be negative", a.Input.SampleRate))
	}
	if a.Input.FrameMs != 0 && !slices.Contains([]int{10, 20, 30}, a.Input.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.input.frame_ms %d is invalid; valid values: 10, 20, 30", a.Input.FrameMs))
	}
	if a.Input.Aggressiveness < 0 || a.Input.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("audio.input.aggressiveness %d is out of range [0, 3]", a.Input.Aggressiveness))
	}
	if a.Input.EnergyGate < 0 || a.Input.EnergyGate > 1 {
		errs = append(errs, fmt.Errorf("audio.input.energy_gate %.3f is out of range [0, 1]", a.Input.EnergyGate))
	}
	if a.Waiting.FadeMs < 0 {
		errs = append(errs, fmt.Errorf("audio.waiting.fade_ms %d must not be negative", a.Waiting.FadeMs))
	}
	if a.Waiting.LowWaterMs < 0 {
		errs = append(errs, fmt.Errorf("audio.waiting.low_water_ms %d must not be negative", a.Waiting.LowWaterMs))
	}
	if a.Capture.InitialSilenceMs < 0 || a.Capture.TailSilenceMs < 0 {
		errs = append(errs, errors.New("audio.capture silence limits must not be negative"))
	}

	// Providers
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("config: no TTS provider configured; /speak and /generate will fail")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("config: no STT provider configured; /listen will fail")
	}

	// Resilience
	r := cfg.Resilience
	if r.MaxFailures < 0 || r.ResetTimeoutMs < 0 || r.HalfOpenMax < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
