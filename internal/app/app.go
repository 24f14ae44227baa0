// Package app wires the speechio subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the playback and
// capture engines, the speech service and the HTTP server, Run serves
// requests until ctx is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, pass providers built on the mock packages (audio, vad, tts,
// stt). Nothing in New touches a real device; the output device is bound
// only by Run with auto_open or by POST /open.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechio/internal/api"
	"github.com/MrWong99/speechio/internal/config"
	"github.com/MrWong99/speechio/internal/health"
	"github.com/MrWong99/speechio/internal/observe"
	"github.com/MrWong99/speechio/internal/speech"
	"github.com/MrWong99/speechio/pkg/audio/capture"
	"github.com/MrWong99/speechio/pkg/audio/playback"
	"github.com/MrWong99/speechio/pkg/audio/task"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown Run performs when
// its context ends.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Optional collaborators set through options.
	logLevel       *slog.LevelVar
	metricsHandler http.Handler
	watchPath      string
	watchInterval  time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	sup      *task.Supervisor
	engine   *playback.Engine
	capture  *capture.Engine
	svc      *speech.Service
	handler  http.Handler
	server   *http.Server
	watcher  *config.Watcher
	playback metric.Registration

	addrMu sync.Mutex
	addr   net.Addr

	// baseCtx parents every request context. cancelRequests fires on the
	// shutdown signal so in-flight captures and drain-waits return.
	baseCtx        context.Context
	cancelRequests context.CancelFunc

	// closers are called in order during Shutdown.
	closers []closer

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch polls path for changes while the app runs and applies the
// hot-reloadable ones. A non-positive interval selects
// [config.DefaultWatchInterval].
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; providers.Audio is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio driver is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	a.baseCtx, a.cancelRequests = context.WithCancel(context.WithoutCancel(ctx))
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Engines ───────────────────────────────────────────────────────
	a.sup = task.NewSupervisor()
	a.initEngines()

	// ── 2. Speech service ────────────────────────────────────────────────
	a.initService()

	// ── 3. Playback observers ────────────────────────────────────────────
	reg, err := a.metrics.ObservePlayback(a.engine.Stats)
	if err != nil {
		a.cancelRequests()
		return nil, fmt.Errorf("app: observe playback: %w", err)
	}
	a.playback = reg

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.ApplyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			_ = reg.Unregister()
			a.cancelRequests()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	a.closers = []closer{
		{"watcher", func(context.Context) error {
			if a.watcher != nil {
				a.watcher.Stop()
			}
			return nil
		}},
		{"playback metrics", func(context.Context) error { return a.playback.Unregister() }},
		{"output engine", func(context.Context) error { return a.engine.Close() }},
		{"task supervisor", a.sup.Shutdown},
		{"providers", func(context.Context) error { return a.providers.Close() }},
	}

	slog.Debug("app initialised", "output_rate", a.engine.SampleRate(), "capture", a.capture != nil)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEngines builds the output engine and, when a VAD is configured, the
// capture engine.
func (a *App) initEngines() {
	ac := a.cfg.Audio
	clip := ac.Waiting.Clip
	if clip != "" && !filepath.IsAbs(clip) {
		clip = filepath.Join(ac.AssetsDir, clip)
	}

	a.engine = playback.New(a.providers.Audio, playback.Config{
		Device:       ac.Output.Device,
		SampleRate:   ac.Output.SampleRate,
		BlockSize:    ac.Output.BlockSize,
		HeadPad:      millis(ac.Output.HeadPadMs),
		DrainTimeout: millis(ac.Output.DrainTimeoutMs),
		Waiting: playback.FeederConfig{
			Clip:     clip,
			Fade:     millis(ac.Waiting.FadeMs),
			LowWater: millis(ac.Waiting.LowWaterMs),
		},
	}, playback.WithResampler(ac.Resampler.New()), playback.WithSupervisor(a.sup))

	if a.providers.VAD == nil {
		slog.Warn("no VAD configured; /listen and /record are unavailable")
		return
	}
	a.capture = capture.New(a.providers.Audio, a.providers.VAD, capture.Config{
		Device:         ac.Input.Device,
		SampleRate:     ac.Input.SampleRate,
		FrameMs:        ac.Input.FrameMs,
		Aggressiveness: ac.Input.Aggressiveness,
		EnergyGate:     ac.Input.EnergyGate,
	},
		capture.WithSupervisor(a.sup),
		capture.WithOutcomeHook(func(o capture.Outcome, d time.Duration) {
			a.metrics.RecordCapture(context.Background(), string(o), d.Seconds())
		}),
	)
}

func (a *App) initService() {
	opts := []speech.Option{
		speech.WithTTS(a.cfg.Providers.TTS.Name, a.providers.ttsProvider()),
		speech.WithSTT(a.cfg.Providers.STT.Name, a.providers.sttProvider()),
		speech.WithAssetsDir(a.cfg.Audio.AssetsDir),
		speech.WithLanguage(a.cfg.Server.Language),
		speech.WithCaptureDefaults(captureLimits(a.cfg.Audio.Capture)),
		speech.WithMetrics(a.metrics),
	}
	if a.capture != nil {
		opts = append(opts, speech.WithCapture(a.capture))
	}
	if ms := a.cfg.Audio.Output.PrebufferMs; ms > 0 {
		opts = append(opts, speech.WithStreamOptions(playback.WithPrebuffer(millis(ms))))
	}
	a.svc = speech.New(a.engine, opts...)
}

// initServer builds the route table: the speech API, health probes and,
// when configured, the Prometheus scrape endpoint.
func (a *App) initServer() {
	mux := http.NewServeMux()
	api.New(a.svc).Register(mux)

	checkers := []health.Checker{health.OutputChecker(a.engine.IsOpen, a.cfg.Server.AutoOpen)}
	if a.providers.TTS != nil {
		checkers = append(checkers, health.ProviderChecker("tts", a.providers.TTS.Status))
	}
	if a.providers.STT != nil {
		checkers = append(checkers, health.ProviderChecker("stt", a.providers.STT.Status))
	}
	health.New(checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the speech service.
func (a *App) Service() *speech.Service { return a.svc }

// Addr returns the address the server listens on, or nil before Run has
// bound it.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
//
// With server.auto_open set, Run binds the output device first; a failure
// is logged and the server starts anyway so /open can retry. When ctx is
// done, Run cancels in-flight requests, stops accepting new ones and
// returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.server.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	if a.cfg.Server.AutoOpen {
		status, err := a.svc.Open(ctx)
		if err != nil {
			slog.Warn("auto-open of output device failed", "device", a.cfg.Audio.Output.Device, "err", err)
		} else {
			slog.Info("output device open", "device", a.cfg.Audio.Output.Device, "status", status.String())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serve(ln) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.cancelRequests()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) serve(ln net.Listener) error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		err = a.server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, waiting-tone tunables and capture defaults. Changes to other
// sections are logged and take effect after a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.WaitingChanged {
		fade, lowWater := millis(d.NewWaiting.FadeMs), millis(d.NewWaiting.LowWaterMs)
		if fade <= 0 {
			fade = playback.DefaultFade
		}
		if lowWater <= 0 {
			lowWater = playback.DefaultLowWater
		}
		a.svc.SetWaitingTunables(fade, lowWater)
		slog.Info("waiting tone tunables changed", "fade", fade, "low_water", lowWater)
	}
	if d.CaptureChanged {
		lim := captureLimits(d.NewCapture)
		a.svc.SetCaptureDefaults(lim)
		slog.Info("capture defaults changed", "initial_silence", lim.InitialSilence, "tail_silence", lim.TailSilence)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels in-flight requests, stops the HTTP server, then tears
// down all subsystems in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.cancelRequests()

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, c := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := c.fn(ctx); err != nil {
				slog.Warn("closer error", "closer", c.name, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to its slog equivalent. Unknown
// levels map to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func captureLimits(c config.CaptureConfig) capture.Limits {
	return capture.Limits{InitialSilence: c.InitialSilence(), TailSilence: c.TailSilence()}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
