package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WaitingChanged is set when the filler fade or low-water mark changed.
	WaitingChanged bool
	NewWaiting     WaitingConfig

	// CaptureChanged is set when the default capture limits changed.
	CaptureChanged bool
	NewCapture     CaptureConfig

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WaitingChanged || d.CaptureChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ow, nw := old.Audio.Waiting, new.Audio.Waiting
	if ow.FadeMs != nw.FadeMs || ow.LowWaterMs != nw.LowWaterMs {
		d.WaitingChanged = true
		d.NewWaiting = nw
	}

	if old.Audio.Capture != new.Audio.Capture {
		d.CaptureChanged = true
		d.NewCapture = new.Audio.Capture
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("server.language", old.Server.Language != new.Server.Language)
	restart("audio.assets_dir", old.Audio.AssetsDir != new.Audio.AssetsDir)
	restart("audio.resampler", old.Audio.Resampler != new.Audio.Resampler)
	restart("audio.output", old.Audio.Output != new.Audio.Output)
	restart("audio.input", old.Audio.Input != new.Audio.Input)
	restart("audio.waiting.clip", ow.Clip != nw.Clip)
	restart("providers", !equalProviders(old.Providers, new.Providers))
	restart("resilience", old.Resilience != new.Resilience)

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProviders(a, b ProvidersConfig) bool {
	if a.Whisper != b.Whisper {
		return false
	}
	if !equalEntry(a.TTS, b.TTS) || !equalEntry(a.STT, b.STT) ||
		!equalEntry(a.VAD, b.VAD) || !equalEntry(a.Audio, b.Audio) {
		return false
	}
	return equalEntries(a.TTSFallbacks, b.TTSFallbacks) && equalEntries(a.STTFallbacks, b.STTFallbacks)
}

func equalEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// equalEntry compares entries; Options are compared by their formatted
// values since they may hold nested maps.
func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Voice != b.Voice || len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
