package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/speechio/internal/config"
	"github.com/MrWong99/speechio/internal/observe"
	"github.com/MrWong99/speechio/internal/resilience"
	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/stt"
	"github.com/MrWong99/speechio/pkg/provider/tts"
	"github.com/MrWong99/speechio/pkg/provider/vad"
)

// Providers holds one value per provider slot. TTS and STT are nil when the
// config names no provider for them.
type Providers struct {
	TTS   *resilience.TTSFallback
	STT   *resilience.STTFallback
	VAD   vad.Engine
	Audio audio.Driver

	// closers are the created providers that hold connections, devices or
	// native models. They are closed in order during Shutdown.
	closers []io.Closer
}

// Close releases every provider implementing [io.Closer].
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates every provider named in cfg through reg. The
// primary TTS and STT providers and their fallbacks are wrapped in fallback
// groups whose breaker transitions are logged and counted on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fbCfg := fallbackConfig(cfg.Resilience, m)

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := create(ps, "tts", entry, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		ps.TTS = resilience.NewTTSFallback(primary, entry.Name, fbCfg)
		for _, fb := range cfg.Providers.TTSFallbacks {
			p, err := create(ps, "tts", fb, reg.CreateTTS)
			if err != nil {
				return nil, err
			}
			ps.TTS.AddFallback(fb.Name, p)
		}
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := create(ps, "stt", entry, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		ps.STT = resilience.NewSTTFallback(primary, entry.Name, fbCfg)
		for _, fb := range cfg.Providers.STTFallbacks {
			p, err := create(ps, "stt", fb, reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			ps.STT.AddFallback(fb.Name, p)
		}
	}

	vadEngine, err := create(ps, "vad", cfg.Providers.VAD, reg.CreateVAD)
	if err != nil {
		return nil, err
	}
	ps.VAD = vadEngine

	driver, err := create(ps, "audio", cfg.Providers.Audio, reg.CreateAudio)
	if err != nil {
		return nil, err
	}
	ps.Audio = driver

	return ps, nil
}

// create runs one factory and remembers the result for Close when it holds
// resources. On failure the providers created so far are released.
func create[T any](ps *Providers, kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := factory(entry)
	if err != nil {
		_ = ps.Close()
		var zero T
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	if c, ok := any(p).(io.Closer); ok {
		ps.closers = append(ps.closers, c)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

func fallbackConfig(r config.ResilienceConfig, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  r.MaxFailures,
			ResetTimeout: time.Duration(r.ResetTimeoutMs) * time.Millisecond,
			HalfOpenMax:  r.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
}

// ttsProvider and sttProvider unwrap nil fallback groups into nil
// interfaces so the service sees "not configured" rather than a typed nil.
func (p *Providers) ttsProvider() tts.Provider {
	if p.TTS == nil {
		return nil
	}
	return p.TTS
}

func (p *Providers) sttProvider() stt.Provider {
	if p.STT == nil {
		return nil
	}
	return p.STT
}
