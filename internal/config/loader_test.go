package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/speechio/internal/config"
)

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
  language: de
audio:
  assets_dir: /srv/assets
  resampler: linear
  output:
    device: "plughw:0,0"
    sample_rate: 22050
    block_size: 512
    head_pad_ms: -1
  input:
    device: "2"
    frame_ms: 30
    aggressiveness: 3
    energy_gate: 0.01
  waiting:
    clip: hold.wav
    fade_ms: 80
    low_water_ms: 400
  capture:
    initial_silence_ms: 3000
    tail_silence_ms: 900
providers:
  tts:
    name: coqui
    base_url: http://localhost:5002
    options:
      speaker: p225
  tts_fallbacks:
    - name: openai
      api_key: sk-test
      voice: alloy
  stt:
    name: whisper-native
  stt_fallbacks:
    - name: deepgram
      api_key: dg-test
      model: nova-3
  whisper:
    model_dir: /models
    model_size: base.en
resilience:
  max_failures: 5
  reset_timeout_ms: 10000
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:9000")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Audio.Resampler != config.ResamplerLinear {
		t.Errorf("resampler: got %q, want %q", cfg.Audio.Resampler, config.ResamplerLinear)
	}
	if cfg.Audio.Output.HeadPadMs != -1 {
		t.Errorf("head_pad_ms: got %d, want -1", cfg.Audio.Output.HeadPadMs)
	}
	if cfg.Audio.Input.FrameMs != 30 || cfg.Audio.Input.Aggressiveness != 3 {
		t.Errorf("input: got %+v", cfg.Audio.Input)
	}
	if got := cfg.Audio.Capture.TailSilence().Milliseconds(); got != 900 {
		t.Errorf("TailSilence: got %dms, want 900ms", got)
	}
	if got := cfg.Providers.TTS.OptString("speaker", ""); got != "p225" {
		t.Errorf("tts speaker option: got %q, want %q", got, "p225")
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Model != "nova-3" {
		t.Errorf("stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if got, want := cfg.Providers.Whisper.ModelPath(), filepath.Join("/models", "ggml-base.en.bin"); got != want {
		t.Errorf("ModelPath: got %q, want %q", got, want)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"language", cfg.Server.Language, config.DefaultLanguage},
		{"assets_dir", cfg.Audio.AssetsDir, config.DefaultAssetsDir},
		{"resampler", cfg.Audio.Resampler, config.ResamplerNearest},
		{"output.device", cfg.Audio.Output.Device, "default"},
		{"waiting.clip", cfg.Audio.Waiting.Clip, config.DefaultWaitingClip},
		{"initial_silence_ms", cfg.Audio.Capture.InitialSilenceMs, config.DefaultInitialSilenceMs},
		{"tail_silence_ms", cfg.Audio.Capture.TailSilenceMs, config.DefaultTailSilenceMs},
		{"vad", cfg.Providers.VAD.Name, "energy"},
		{"audio", cfg.Providers.Audio.Name, "malgo"},
		{"whisper.model_size", cfg.Providers.Whisper.ModelSize, config.DefaultWhisperModelSize},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("server: [unterminated")); err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "trace" }, "server.log_level"},
		{"bad listen addr", func(c *config.Config) { c.Server.ListenAddr = "8009" }, "server.listen_addr"},
		{"tls missing key", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c.pem"} }, "server.tls"},
		{"bad resampler", func(c *config.Config) { c.Audio.Resampler = "sinc" }, "audio.resampler"},
		{"negative sample rate", func(c *config.Config) { c.Audio.Output.SampleRate = -1 }, "audio.output.sample_rate"},
		{"bad frame ms", func(c *config.Config) { c.Audio.Input.FrameMs = 25 }, "audio.input.frame_ms"},
		{"aggressiveness", func(c *config.Config) { c.Audio.Input.Aggressiveness = 4 }, "audio.input.aggressiveness"},
		{"energy gate", func(c *config.Config) { c.Audio.Input.EnergyGate = 1.5 }, "audio.input.energy_gate"},
		{"negative fade", func(c *config.Config) { c.Audio.Waiting.FadeMs = -5 }, "audio.waiting.fade_ms"},
		{"fallback without primary", func(c *config.Config) {
			c.Providers.TTS = config.ProviderEntry{}
			c.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "openai"}}
		}, "providers.tts_fallbacks requires"},
		{"unnamed fallback", func(c *config.Config) {
			c.Providers.STTFallbacks = []config.ProviderEntry{{}}
		}, "providers.stt_fallbacks[0].name"},
		{"negative resilience", func(c *config.Config) { c.Resilience.MaxFailures = -1 }, "resilience"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Audio.Input.FrameMs = 15
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, sub := range []string{"server.log_level", "audio.input.frame_ms"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error %q does not mention %q", err, sub)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Providers.TTS.Name = "my-custom-tts"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvPort:             "9100",
		config.EnvOutputDevice:     "",
		config.EnvInputDevice:      "USB",
		config.EnvWhisperModelDir:  "/opt/whisper",
		config.EnvWhisperModelSize: "",
		config.EnvAssetsDir:        "/data/assets",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := validConfig()
	cfg.Server.ListenAddr = "0.0.0.0:8009"
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9100" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:9100")
	}
	if cfg.Audio.Output.Device != "" {
		t.Errorf("output device: got %q, want cleared", cfg.Audio.Output.Device)
	}
	if cfg.Audio.Input.Device != "USB" {
		t.Errorf("input device: got %q, want %q", cfg.Audio.Input.Device, "USB")
	}
	if cfg.Providers.Whisper.ModelDir != "/opt/whisper" {
		t.Errorf("model dir: got %q, want %q", cfg.Providers.Whisper.ModelDir, "/opt/whisper")
	}
	if cfg.Providers.Whisper.ModelSize != config.DefaultWhisperModelSize {
		t.Errorf("model size: got %q, want default kept", cfg.Providers.Whisper.ModelSize)
	}
	if cfg.Audio.AssetsDir != "/data/assets" {
		t.Errorf("assets dir: got %q, want %q", cfg.Audio.AssetsDir, "/data/assets")
	}
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	t.Parallel()
	for _, port := range []string{"abc", "0", "70000"} {
		lookup := func(k string) (string, bool) {
			if k == config.EnvPort {
				return port, true
			}
			return "", false
		}
		if err := config.ApplyEnv(validConfig(), lookup); err == nil {
			t.Errorf("port %q: expected error, got nil", port)
		}
	}
}

// Not parallel: mutates the process environment.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(config.EnvPort, "8123")
	t.Setenv(config.EnvOutputDevice, "hw:1")

	path := filepath.Join(t.TempDir(), "speechio.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8123" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8123")
	}
	if cfg.Audio.Output.Device != "hw:1" {
		t.Errorf("output device: got %q, want %q", cfg.Audio.Output.Device, "hw:1")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

func TestResampler_New(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1}
	if got := len(config.ResamplerLinear.New().Resample(in, 1, 2)); got != 4 {
		t.Errorf("linear: got %d samples, want 4", got)
	}
	if got := len(config.Resampler("bogus").New().Resample(in, 1, 2)); got != 4 {
		t.Errorf("fallback: got %d samples, want 4", got)
	}
}

// validConfig returns a config that passes Validate.
func validConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			TTS: config.ProviderEntry{Name: "coqui"},
			STT: config.ProviderEntry{Name: "whisper"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}
