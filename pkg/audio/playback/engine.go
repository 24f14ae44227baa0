// Package playback implements the always-on output engine: a lock-protected
// [SampleQueue] drained by the device callback, a waiting feeder that keeps a
// filler clip playing while nothing else is, and foreground playback paths
// that interrupt the filler for speech or stored clips.
//
// The device callback is the only hard-deadline path. It takes the queue
// mutex for the duration of one copy and nothing else. Every other goroutine
// observes cancellation through its context and the engine's closing signal.
package playback

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/task"
)

// Sentinel errors.
var (
	// ErrClosed is returned by foreground operations when the engine is not
	// open or is closed while they run.
	ErrClosed = errors.New("playback: engine closed")

	// ErrNoDevice is returned by [Engine.Open] when no output device selector
	// is configured. It wraps [audio.ErrDeviceUnavailable].
	ErrNoDevice = fmt.Errorf("playback: no output device configured: %w", audio.ErrDeviceUnavailable)
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultSampleRate  = 24000
	DefaultBlockSize   = 1024
	DefaultHeadPad     = 100 * time.Millisecond
	DefaultDrainPoll   = 10 * time.Millisecond
	DefaultStopTimeout = time.Second
)

// OpenStatus reports the outcome of a successful [Engine.Open].
type OpenStatus int

const (
	// StatusStarted means the device was bound and the feeder started.
	StatusStarted OpenStatus = iota

	// StatusAlreadyRunning means the engine was already open; nothing changed.
	StatusAlreadyRunning
)

// String returns a stable identifier for the status.
func (s OpenStatus) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusAlreadyRunning:
		return "already_running"
	default:
		return fmt.Sprintf("OpenStatus(%d)", int(s))
	}
}

// Config holds the engine settings. Zero values select the package defaults.
type Config struct {
	// Device is the output device selector. Empty means no device is
	// configured and [Engine.Open] fails with [ErrNoDevice].
	Device string

	// SampleRate is the engine-wide output rate in Hz.
	SampleRate int

	// BlockSize is the number of samples requested per device callback.
	BlockSize int

	// HeadPad is the silence enqueued before foreground content. A negative
	// value disables padding.
	HeadPad time.Duration

	// DrainPoll is the polling interval of drain waits.
	DrainPoll time.Duration

	// DrainTimeout bounds the drain wait of [Engine.InterruptAndPlay].
	// Zero waits until the queue is empty.
	DrainTimeout time.Duration

	// StopTimeout bounds the join of the waiting feeder on Close.
	StopTimeout time.Duration

	// Waiting configures the filler clip.
	Waiting FeederConfig
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.HeadPad < 0 {
		c.HeadPad = 0
	} else if c.HeadPad == 0 {
		c.HeadPad = DefaultHeadPad
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = DefaultDrainPoll
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	c.Waiting.applyDefaults()
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Queued            int
	Underruns         uint64
	Callbacks         uint64
	FeederActivations uint64
	Open              bool
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithResampler sets the strategy used to convert clips and streams to the
// engine rate. The default is [audio.NearestResampler].
func WithResampler(r audio.Resampler) Option {
	return func(e *Engine) {
		if r != nil {
			e.rs = r
		}
	}
}

// WithSupervisor runs the engine's background tasks under s instead of a
// private supervisor.
func WithSupervisor(s *task.Supervisor) Option {
	return func(e *Engine) {
		if s != nil {
			e.sup = s
		}
	}
}

// Engine is the output engine. Create one with [New]; the zero value is not
// usable. All exported methods are safe for concurrent use.
type Engine struct {
	driver audio.Driver
	cfg    Config
	rs     audio.Resampler
	sup    *task.Supervisor

	queue SampleQueue

	// fg serialises foreground playback (InterruptAndPlay, StreamAdapter.Play).
	fg sync.Mutex

	// stateMu serialises Open/Close against Enqueue.
	stateMu sync.RWMutex
	dev     audio.OutputDevice
	open    bool
	closing chan struct{}
	feeder  *task.Task

	// Hot-reloadable feeder tunables, stored as nanoseconds.
	fade     atomic.Int64
	lowWater atomic.Int64

	underruns   atomic.Uint64
	callbacks   atomic.Uint64
	activations atomic.Uint64
}

// New creates a closed engine that opens output devices through driver.
func New(driver audio.Driver, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		driver: driver,
		cfg:    cfg,
		rs:     audio.NearestResampler{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.sup == nil {
		e.sup = task.NewSupervisor()
	}
	e.fade.Store(int64(cfg.Waiting.Fade))
	e.lowWater.Store(int64(cfg.Waiting.LowWater))
	return e
}

// SampleRate returns the engine output rate in Hz.
func (e *Engine) SampleRate() int { return e.cfg.SampleRate }

// Resampler returns the engine's resampling strategy.
func (e *Engine) Resampler() audio.Resampler { return e.rs }

// IsOpen reports whether an output device is bound.
func (e *Engine) IsOpen() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.open
}

// Open binds the configured output device, starts the callback and starts
// the waiting feeder. Opening an already open engine is a no-op reporting
// [StatusAlreadyRunning]. On error the engine stays closed.
func (e *Engine) Open(ctx context.Context) (OpenStatus, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.open {
		return StatusAlreadyRunning, nil
	}
	if e.cfg.Device == "" {
		return 0, ErrNoDevice
	}

	dev, err := e.driver.OpenOutput(audio.OutputConfig{
		Device:     e.cfg.Device,
		SampleRate: e.cfg.SampleRate,
		BlockSize:  e.cfg.BlockSize,
	}, e.fill)
	if err != nil {
		return 0, fmt.Errorf("playback: open output %q: %w: %w", e.cfg.Device, audio.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		return 0, fmt.Errorf("playback: start output %q: %w: %w", e.cfg.Device, audio.ErrDeviceUnavailable, err)
	}

	e.dev = dev
	e.open = true
	e.closing = make(chan struct{})
	e.feeder = e.sup.Go(context.WithoutCancel(ctx), "waiting-feeder", e.runFeeder(e.closing))

	slog.Info("playback: output opened",
		"device", e.cfg.Device,
		"sample_rate", e.cfg.SampleRate,
		"block_size", e.cfg.BlockSize,
	)
	return StatusStarted, nil
}

// Close stops the waiting feeder, discards queued audio and releases the
// device. Closing a closed engine is a no-op.
func (e *Engine) Close() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if !e.open {
		return nil
	}
	close(e.closing)
	e.open = false

	if err := e.feeder.Stop(e.cfg.StopTimeout); err != nil {
		slog.Warn("playback: waiting feeder did not stop in time", "err", err)
	}
	e.feeder = nil
	e.queue.Clear()

	var errs []error
	if err := e.dev.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("playback: stop output: %w", err))
	}
	if err := e.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("playback: close output: %w", err))
	}
	e.dev = nil

	slog.Info("playback: output closed")
	return errors.Join(errs...)
}

// Enqueue appends chunk to the playback queue. The engine takes ownership of
// chunk. It returns [ErrClosed] when the engine is not open.
func (e *Engine) Enqueue(chunk []float32) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if !e.open {
		return ErrClosed
	}
	e.queue.Enqueue(chunk)
	return nil
}

// Queued returns the number of samples waiting to be played.
func (e *Engine) Queued() int { return e.queue.Queued() }

// IdleHold reports whether the waiting feeder is suppressed.
func (e *Engine) IdleHold() bool { return e.queue.IdleHold() }

// SetIdleHold suppresses or re-enables the waiting feeder. Setting the flag
// happens under the queue lock, so no filler chunk is enqueued after
// SetIdleHold(true) returns.
func (e *Engine) SetIdleHold(v bool) { e.queue.SetIdleHold(v) }

// SetWaitingTunables updates the feeder fade length and low-water mark. The
// new values apply from the next feeder activation.
func (e *Engine) SetWaitingTunables(fade, lowWater time.Duration) {
	e.fade.Store(int64(max(fade, 0)))
	e.lowWater.Store(int64(max(lowWater, 0)))
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Queued:            e.queue.Queued(),
		Underruns:         e.underruns.Load(),
		Callbacks:         e.callbacks.Load(),
		FeederActivations: e.activations.Load(),
		Open:              e.IsOpen(),
	}
}

// fill is the device callback. It never blocks beyond the queue mutex and
// never allocates.
func (e *Engine) fill(out []float32) {
	e.callbacks.Add(1)
	n := e.queue.Consume(out)
	if n < len(out) {
		clear(out[n:])
		if n > 0 {
			e.underruns.Add(1)
		}
	}
}

// foreground returns the closing signal of the current open session, or
// [ErrClosed].
func (e *Engine) foreground() (<-chan struct{}, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if !e.open {
		return nil, ErrClosed
	}
	return e.closing, nil
}

// headPad returns a fresh block of head-padding silence.
func (e *Engine) headPad() []float32 {
	return make([]float32, audio.SamplesFor(e.cfg.HeadPad, e.cfg.SampleRate))
}

// InterruptAndPlay replaces whatever is playing with chunks. It suppresses
// the waiting feeder, discards queued audio, enqueues head padding and the
// content, and waits until the queue drains. Chunks must already be at the
// engine rate.
//
// It returns early with ctx.Err() on cancellation and with [ErrClosed] when
// the engine is closed meanwhile. An error yielded by chunks stops
// enqueueing and is returned. The idle hold is always released on return.
func (e *Engine) InterruptAndPlay(ctx context.Context, chunks iter.Seq2[[]float32, error]) error {
	e.fg.Lock()
	defer e.fg.Unlock()

	closing, err := e.foreground()
	if err != nil {
		return err
	}

	e.queue.holdAndClear()
	defer e.queue.SetIdleHold(false)

	if err := e.Enqueue(e.headPad()); err != nil {
		return err
	}

	for chunk, err := range chunks {
		if err != nil {
			return fmt.Errorf("playback: content: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-closing:
			return ErrClosed
		default:
		}
		if err := e.Enqueue(chunk); err != nil {
			return err
		}
	}
	return e.waitDrained(ctx, closing, e.cfg.DrainTimeout)
}

// WaitDrained blocks until the queue is empty, ctx is done or the engine is
// closed. It returns nil immediately when the engine is closed.
func (e *Engine) WaitDrained(ctx context.Context) error {
	closing, err := e.foreground()
	if err != nil {
		return nil
	}
	return e.waitDrained(ctx, closing, 0)
}

// waitDrained polls the queue every DrainPoll. A timeout of zero waits
// indefinitely; expiry is not an error.
func (e *Engine) waitDrained(ctx context.Context, closing <-chan struct{}, timeout time.Duration) error {
	ticker := time.NewTicker(e.cfg.DrainPoll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Close signals before it clears the queue, so an empty queue observed
		// here is only trusted once closing has been ruled out.
		queued := e.queue.Queued()
		select {
		case <-closing:
			return ErrClosed
		default:
		}
		if queued == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closing:
			return ErrClosed
		case <-deadline:
			slog.Warn("playback: drain wait timed out", "timeout", timeout, "queued", e.queue.Queued())
			return nil
		case <-ticker.C:
		}
	}
}
