package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/speechio/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a, b := validConfig(), validConfig()
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("got %+v, want no changes", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, cur := validConfig(), validConfig()
	cur.Server.LogLevel = config.LogDebug
	cur.Audio.Waiting.FadeMs = 120
	cur.Audio.Capture.TailSilenceMs = 1200

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: got changed=%v level=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.WaitingChanged || d.NewWaiting.FadeMs != 120 {
		t.Errorf("waiting: got changed=%v %+v", d.WaitingChanged, d.NewWaiting)
	}
	if !d.CaptureChanged || d.NewCapture.TailSilenceMs != 1200 {
		t.Errorf("capture: got changed=%v %+v", d.CaptureChanged, d.NewCapture)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired: got %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, cur := validConfig(), validConfig()
	cur.Server.ListenAddr = ":9000"
	cur.Audio.Output.Device = "hw:2"
	cur.Audio.Waiting.Clip = "other.wav"
	cur.Providers.STTFallbacks = []config.ProviderEntry{{Name: "deepgram"}}

	d := config.Diff(old, cur)
	want := []string{"server.listen_addr", "audio.output", "audio.waiting.clip", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.WaitingChanged {
		t.Error("clip change must not count as a hot waiting change")
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()
	old, cur := validConfig(), validConfig()
	old.Providers.TTS.Options = map[string]any{"speaker": "p225"}
	cur.Providers.TTS.Options = map[string]any{"speaker": "p226"}

	if d := config.Diff(old, cur); !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("RestartRequired: got %v, want providers", d.RestartRequired)
	}

	cur.Providers.TTS.Options = map[string]any{"speaker": "p225"}
	if d := config.Diff(old, cur); d.Changed() {
		t.Errorf("equal options: got %+v, want no changes", d)
	}
}

func TestDiff_TLS(t *testing.T) {
	t.Parallel()
	old, cur := validConfig(), validConfig()
	old.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"}
	cur.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"}
	if d := config.Diff(old, cur); d.Changed() {
		t.Errorf("same TLS: got %+v, want no changes", d)
	}
	cur.Server.TLS = nil
	if d := config.Diff(old, cur); !slices.Equal(d.RestartRequired, []string{"server.tls"}) {
		t.Errorf("RestartRequired: got %v, want [server.tls]", d.RestartRequired)
	}
}
