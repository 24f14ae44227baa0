package playback_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/speechio/pkg/audio/playback"
	"github.com/MrWong99/speechio/pkg/audio/wav"
)

// writeClip writes a one-second constant clip at the default engine rate.
func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waiting.wav")
	if err := wav.WriteFile(path, constant(playback.DefaultSampleRate, 0.5), playback.DefaultSampleRate); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func TestFeeder_FillsToLowWaterWithFade(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{
		Waiting: playback.FeederConfig{Clip: writeClip(t), Poll: 5 * time.Millisecond},
	})

	lowWater := playback.DefaultSampleRate / 2
	waitFor(t, 2*time.Second, func() bool { return e.Queued() >= lowWater }, "feeder to reach the low-water mark")

	block := drv.LastOutput().TickN(4)
	if block[0] != 0 {
		t.Errorf("first filler sample: got %v, want 0 (fade-in)", block[0])
	}
	if block[1] <= 0 || block[1] >= 0.5 {
		t.Errorf("second filler sample: got %v, want inside the fade ramp", block[1])
	}
	if got := e.Stats().FeederActivations; got < 1 {
		t.Errorf("FeederActivations: got %d, want >= 1", got)
	}
}

func TestFeeder_NeverEnqueuesWhileHeld(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{
		Waiting: playback.FeederConfig{Clip: writeClip(t), Poll: 5 * time.Millisecond},
	})
	e.SetIdleHold(true)
	// Drop whatever the feeder managed to enqueue before the hold.
	_ = e.Close()
	if _, err := e.Open(t.Context()); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := e.Queued(); got != 0 {
		t.Fatalf("Queued while held: got %d, want 0", got)
	}

	e.SetIdleHold(false)
	waitFor(t, 2*time.Second, func() bool { return e.Queued() > 0 }, "feeder to resume after hold")
}

func TestFeeder_HoldStopsFillingImmediately(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{
		Waiting: playback.FeederConfig{Clip: writeClip(t), Poll: 5 * time.Millisecond},
	})
	waitFor(t, 2*time.Second, func() bool { return e.Queued() > 0 }, "feeder to start")

	e.SetIdleHold(true)
	drv.LastOutput().TickN(4 * playback.DefaultSampleRate)

	time.Sleep(60 * time.Millisecond)
	if got := e.Queued(); got != 0 {
		t.Errorf("Queued after hold: got %d, want 0", got)
	}
}

func TestFeeder_MissingClipKeepsEngineOpen(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{
		Waiting: playback.FeederConfig{Clip: filepath.Join(t.TempDir(), "missing.wav")},
	})
	time.Sleep(50 * time.Millisecond)
	if !e.IsOpen() {
		t.Error("engine closed after feeder failure")
	}
	if got := e.Queued(); got != 0 {
		t.Errorf("Queued: got %d, want 0", got)
	}
}

func TestFeeder_SetWaitingTunables(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{
		Waiting: playback.FeederConfig{Clip: writeClip(t), Poll: 5 * time.Millisecond},
	})
	e.SetWaitingTunables(10*time.Millisecond, 1500*time.Millisecond)

	want := playback.DefaultSampleRate * 3 / 2
	waitFor(t, 2*time.Second, func() bool { return e.Queued() >= want }, "feeder to honour the raised low-water mark")
}
