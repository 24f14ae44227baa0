// Command speechio is the entry point for the speechio speech I/O server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/speechio/internal/app"
	"github.com/MrWong99/speechio/internal/config"
	"github.com/MrWong99/speechio/internal/observe"
	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/malgo"
	"github.com/MrWong99/speechio/pkg/provider/stt"
	"github.com/MrWong99/speechio/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/speechio/pkg/provider/stt/openai"
	"github.com/MrWong99/speechio/pkg/provider/stt/whisper"
	"github.com/MrWong99/speechio/pkg/provider/tts"
	"github.com/MrWong99/speechio/pkg/provider/tts/coqui"
	"github.com/MrWong99/speechio/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/speechio/pkg/provider/tts/openai"
	"github.com/MrWong99/speechio/pkg/provider/vad"
	"github.com/MrWong99/speechio/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch", config.DefaultWatchInterval, "config file polling interval; 0 disables hot reload")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speechio: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speechio: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("speechio starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Providers.Whisper)

	providers, err := app.BuildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
	}
	if *watchInterval > 0 {
		opts = append(opts, app.WithConfigWatch(*configPath, *watchInterval))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Close()
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry, wc config.WhisperConfig) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{
			coqui.WithAPIMode(coqui.APIMode(entry.OptString("api_mode", string(coqui.APIModeXTTS)))),
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if wav := entry.OptString("speaker_wav", ""); wav != "" {
			opts = append(opts, coqui.WithSpeakerWav(wav))
		}
		if entry.Voice != "" {
			opts = append(opts, coqui.WithSpeakerID(entry.Voice))
		}
		if rate := entry.OptInt("sample_rate", 0); rate > 0 {
			opts = append(opts, coqui.WithSampleRate(rate))
		}
		if n := entry.OptInt("lookahead", 0); n > 0 {
			opts = append(opts, coqui.WithLookahead(n))
		}
		if d := timeout(entry); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.Voice, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if s := entry.OptString("instructions", ""); s != "" {
			opts = append(opts, oaitts.WithInstructions(s))
		}
		if speed := entry.OptFloat("speed", 0); speed > 0 {
			opts = append(opts, oaitts.WithSpeed(speed))
		}
		if d := timeout(entry); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, entry.Model, entry.Voice, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := timeout(entry); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path", wc.ModelPath())
		}
		opts := []whisper.NativeOption{
			whisper.WithNativeWarmup(entry.OptBool("warmup", true)),
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if p := entry.OptString("prompt", ""); p != "" {
			opts = append(opts, oaistt.WithPrompt(p))
		}
		if d := timeout(entry); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("malgo", func(config.ProviderEntry) (audio.Driver, error) {
		return malgo.New()
	})

	for _, kind := range []string{"tts", "stt", "vad", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// timeout reads the optional "timeout_ms" provider option.
func timeout(entry config.ProviderEntry) time.Duration {
	return time.Duration(entry.OptInt("timeout_ms", 0)) * time.Millisecond
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       speechio startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("TTS fallback", fallbackNames(cfg.Providers.TTSFallbacks), "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("STT fallback", fallbackNames(cfg.Providers.STTFallbacks), "")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	printRow("Output device", cfg.Audio.Output.Device)
	printRow("Input device", cfg.Audio.Input.Device)
	printRow("Assets dir", cfg.Audio.AssetsDir)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func fallbackNames(entries []config.ProviderEntry) string {
	switch len(entries) {
	case 0:
		return ""
	case 1:
		return entries[0].Name
	}
	return fmt.Sprintf("%s +%d", entries[0].Name, len(entries)-1)
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", label, value)
}
