// Package capture records a single spoken utterance from an input device,
// using a VAD session to decide when speech starts and when it has ended.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/task"
	"github.com/MrWong99/speechio/pkg/provider/vad"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultSampleRate     = 16000
	DefaultFrameMs        = 20
	DefaultAggressiveness = 2
)

// Outcome classifies how a capture ended.
type Outcome string

const (
	// OutcomeSpeech means speech was recorded and ended by tail silence (or
	// by the device stream ending after speech).
	OutcomeSpeech Outcome = "speech"

	// OutcomeNoSpeech means the initial-silence limit expired first.
	OutcomeNoSpeech Outcome = "no_speech"

	// OutcomeAborted means the capture context was cancelled.
	OutcomeAborted Outcome = "aborted"

	// OutcomeDeviceError means the device failed mid-capture.
	OutcomeDeviceError Outcome = "device_error"
)

// Config holds the capture settings.
type Config struct {
	// Device selects the input device. Empty selects the platform default.
	Device string

	// SampleRate in Hz. The VAD backend must support it.
	SampleRate int

	// FrameMs is the frame duration: 10, 20 or 30.
	FrameMs int

	// Aggressiveness is passed to the VAD session (0–3).
	Aggressiveness int

	// EnergyGate, when positive, forces frames whose float RMS is below it to
	// count as silence regardless of the VAD decision.
	EnergyGate float64
}

// Limits bounds a single capture. A zero duration disables that limit.
type Limits struct {
	// InitialSilence is how long to wait for speech before giving up.
	InitialSilence time.Duration

	// TailSilence is how much trailing silence ends the utterance.
	TailSilence time.Duration
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithSupervisor runs capture tasks under s.
func WithSupervisor(s *task.Supervisor) Option {
	return func(e *Engine) {
		if s != nil {
			e.sup = s
		}
	}
}

// WithOutcomeHook registers fn to be called after every capture with its
// outcome and wall-clock duration.
func WithOutcomeHook(fn func(Outcome, time.Duration)) Option {
	return func(e *Engine) { e.onOutcome = fn }
}

// Engine performs VAD-gated captures. Only one capture runs at a time.
type Engine struct {
	driver    audio.Driver
	vad       vad.Engine
	cfg       Config
	sup       *task.Supervisor
	onOutcome func(Outcome, time.Duration)

	mu sync.Mutex
}

// New returns a capture engine reading from driver and classifying frames
// with v.
func New(driver audio.Driver, v vad.Engine, cfg Config, opts ...Option) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = DefaultFrameMs
	}
	e := &Engine{driver: driver, vad: v, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.sup == nil {
		e.sup = task.NewSupervisor()
	}
	return e
}

// SampleRate returns the capture rate in Hz.
func (e *Engine) SampleRate() int { return e.cfg.SampleRate }

// Capture records one utterance. It waits for speech for at most
// lim.InitialSilence and, once speech was heard, stops after lim.TailSilence
// of continuous silence. The returned samples include the trailing silence
// frames.
//
// Cancellation of ctx and a device failure mid-capture both yield an empty
// utterance with a nil error. Failing to open the device returns an error
// wrapping [audio.ErrDeviceUnavailable].
func (e *Engine) Capture(ctx context.Context, lim Limits) ([]float32, error) {
	switch e.cfg.FrameMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("capture: frame duration %d ms not in {10, 20, 30}", e.cfg.FrameMs)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var (
		utterance []float32
		outcome   Outcome
	)
	t := e.sup.Go(ctx, "capture", func(ctx context.Context) error {
		var err error
		utterance, outcome, err = e.run(ctx, lim)
		return err
	})
	err := t.Wait(context.Background())
	if errors.Is(err, task.ErrShutdown) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.onOutcome != nil {
		e.onOutcome(outcome, time.Since(start))
	}
	slog.Debug("capture: finished",
		"outcome", outcome,
		"samples", len(utterance),
		"duration", time.Since(start),
	)
	return utterance, nil
}

// frameLimit converts a duration limit into a frame count.
func frameLimit(d time.Duration, frameMs int) int {
	return int(max(0, d.Milliseconds())) / frameMs
}

func (e *Engine) run(ctx context.Context, lim Limits) ([]float32, Outcome, error) {
	frameSize := e.cfg.SampleRate * e.cfg.FrameMs / 1000

	in, err := e.driver.OpenInput(audio.InputConfig{
		Device:     e.cfg.Device,
		SampleRate: e.cfg.SampleRate,
		FrameSize:  frameSize,
	})
	if err != nil {
		return nil, "", fmt.Errorf("capture: open input %q: %w: %w", e.cfg.Device, audio.ErrDeviceUnavailable, err)
	}
	defer in.Close()

	sess, err := e.vad.NewSession(vad.Config{
		SampleRate:     e.cfg.SampleRate,
		FrameSizeMs:    e.cfg.FrameMs,
		Aggressiveness: e.cfg.Aggressiveness,
	})
	if err != nil {
		return nil, "", fmt.Errorf("capture: vad session: %w", err)
	}
	defer sess.Close()

	initialLimit := frameLimit(lim.InitialSilence, e.cfg.FrameMs)
	tailLimit := frameLimit(lim.TailSilence, e.cfg.FrameMs)

	var (
		frame          = make([]float32, frameSize)
		pcm            = make([]byte, frameSize*2)
		utterance      []float32
		voiced         bool
		initialSilence int
		tailSilence    int
	)
	for {
		if err := in.Read(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil, OutcomeAborted, nil
			}
			slog.Error("capture: input read failed", "device", e.cfg.Device, "err", err)
			return nil, OutcomeDeviceError, nil
		}

		speech := e.classify(sess, frame, pcm)

		if !voiced {
			if speech {
				voiced = true
				tailSilence = 0
				utterance = append(utterance, frame...)
				continue
			}
			initialSilence++
			if initialLimit > 0 && initialSilence >= initialLimit {
				return nil, OutcomeNoSpeech, nil
			}
			continue
		}

		utterance = append(utterance, frame...)
		if speech {
			tailSilence = 0
			continue
		}
		tailSilence++
		if tailLimit > 0 && tailSilence >= tailLimit {
			return utterance, OutcomeSpeech, nil
		}
	}
}

// classify runs the VAD on frame. pcm is scratch space of len(frame)*2 bytes.
// A VAD failure counts the frame as silence.
func (e *Engine) classify(sess vad.SessionHandle, frame []float32, pcm []byte) bool {
	for i, s := range frame {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(audio.SampleToInt16(s)))
	}
	ev, err := sess.ProcessFrame(pcm)
	if err != nil {
		slog.Warn("capture: vad failed, treating frame as silence", "err", err)
		return false
	}
	if e.cfg.EnergyGate > 0 && audio.RMS(frame) < e.cfg.EnergyGate {
		return false
	}
	return ev.IsSpeech()
}
