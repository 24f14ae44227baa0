package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/task"
	"github.com/MrWong99/speechio/pkg/audio/wav"
)

// Waiting feeder defaults.
const (
	DefaultFade      = 50 * time.Millisecond
	DefaultLowWater  = 500 * time.Millisecond
	DefaultPoll      = 50 * time.Millisecond
	DefaultChunkSize = 4096
)

// FeederConfig configures the waiting feeder.
type FeederConfig struct {
	// Clip is the path of the WAV filler clip. Empty disables the feeder.
	Clip string

	// Fade is the fade-in applied to the first chunk of every activation.
	Fade time.Duration

	// LowWater is the queue level below which filler audio is topped up.
	LowWater time.Duration

	// Poll is the sleep between checks while the feeder is idle.
	Poll time.Duration

	// ChunkSize is the number of samples per enqueued filler chunk.
	ChunkSize int
}

func (c *FeederConfig) applyDefaults() {
	if c.Fade <= 0 {
		c.Fade = DefaultFade
	}
	if c.LowWater <= 0 {
		c.LowWater = DefaultLowWater
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

var errNoClip = errors.New("playback: no waiting clip configured")

// runFeeder returns the body of the "waiting-feeder" task. The clip is
// decoded once; a missing or unreadable clip ends the task while the engine
// stays open.
func (e *Engine) runFeeder(closing <-chan struct{}) task.Func {
	return func(ctx context.Context) error {
		clip, err := e.loadClip()
		switch {
		case errors.Is(err, errNoClip):
			slog.Info("playback: waiting feeder disabled, no clip configured")
			return nil
		case err != nil:
			slog.Warn("playback: waiting clip unavailable, feeder stopped", "clip", e.cfg.Waiting.Clip, "err", err)
			return nil
		case len(clip) == 0:
			slog.Warn("playback: waiting clip is empty, feeder stopped", "clip", e.cfg.Waiting.Clip)
			return nil
		}
		f := &feeder{e: e, clip: clip, closing: closing}
		f.run(ctx)
		return nil
	}
}

func (e *Engine) loadClip() ([]float32, error) {
	if e.cfg.Waiting.Clip == "" {
		return nil, errNoClip
	}
	samples, _, err := wav.ReadFile(e.cfg.Waiting.Clip, e.cfg.SampleRate, e.rs)
	return samples, err
}

// feeder tops the queue up with the filler clip whenever nothing else is
// playing.
type feeder struct {
	e       *Engine
	clip    []float32
	closing <-chan struct{}
}

func (f *feeder) run(ctx context.Context) {
	for {
		if f.e.queue.IdleHold() || f.e.queue.Queued() >= f.lowWater() {
			if !f.sleep(ctx) {
				return
			}
			continue
		}
		if !f.activate(ctx) {
			return
		}
	}
}

func (f *feeder) lowWater() int {
	return audio.SamplesFor(time.Duration(f.e.lowWater.Load()), f.e.cfg.SampleRate)
}

// activate streams one pass of the clip, fading in the first chunk and
// pacing the rest on the low-water mark. It returns false on shutdown.
func (f *feeder) activate(ctx context.Context) bool {
	f.e.activations.Add(1)
	fade := audio.SamplesFor(time.Duration(f.e.fade.Load()), f.e.cfg.SampleRate)
	size := f.e.cfg.Waiting.ChunkSize

	for off := 0; off < len(f.clip); off += size {
		if off > 0 {
			for f.e.queue.Queued() >= f.lowWater() {
				if f.e.queue.IdleHold() {
					return true
				}
				if !f.sleep(ctx) {
					return false
				}
			}
		}
		chunk := f.clip[off:min(off+size, len(f.clip))]
		if off == 0 {
			chunk = audio.FadeIn(chunk, fade)
		}
		if !f.e.queue.enqueueUnlessHeld(chunk) {
			return true
		}
		if f.stopped(ctx) {
			return false
		}
	}
	return true
}

// sleep waits one poll interval. It returns false when the feeder must stop.
func (f *feeder) sleep(ctx context.Context) bool {
	t := time.NewTimer(f.e.cfg.Waiting.Poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-f.closing:
		return false
	case <-t.C:
		return true
	}
}

func (f *feeder) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-f.closing:
		return true
	default:
		return false
	}
}
