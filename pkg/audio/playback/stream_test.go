package playback_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/audio/playback"
)

// closedStream returns a stream that has already produced all of chunks.
func closedStream(rate int, err error, chunks ...[]float32) *audio.Stream {
	ch := make(chan []float32, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	s := audio.NewStream(ch, rate)
	if err != nil {
		s.SetStreamErr(err)
	}
	close(ch)
	return s
}

func TestStreamAdapter_NoAudioLeavesQueueUntouched(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{})
	if err := e.Enqueue(constant(100, 0.1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	a := playback.NewStreamAdapter(e)
	err := a.Play(context.Background(), closedStream(24000, nil, []float32{}))
	if !errors.Is(err, audio.ErrNoAudioProduced) {
		t.Fatalf("got %v, want ErrNoAudioProduced", err)
	}
	if got := e.Queued(); got != 100 {
		t.Errorf("Queued: got %d, want 100", got)
	}
	if e.IdleHold() {
		t.Error("IdleHold set after empty stream")
	}
}

func TestStreamAdapter_NoAudioReturnsProducerError(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{})
	boom := errors.New("backend down")

	err := playback.NewStreamAdapter(e).Play(context.Background(), closedStream(24000, boom))
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}

func TestStreamAdapter_PlaysStream(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{})
	stop := drv.LastOutput().Autoplay(time.Millisecond)
	defer stop()

	ch := make(chan []float32)
	s := audio.NewStream(ch, 24000)
	go func() {
		defer close(ch)
		for range 10 {
			ch <- constant(1024, 0.25)
			time.Sleep(time.Millisecond)
		}
	}()

	var calls atomic.Int32
	a := playback.NewStreamAdapter(e, playback.WithOnFirstAudio(func(latency time.Duration) {
		calls.Add(1)
		if latency < 0 {
			t.Errorf("latency: got %v, want >= 0", latency)
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Play(ctx, s); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("OnFirstAudio calls: got %d, want 1", got)
	}
	if got := e.Queued(); got != 0 {
		t.Errorf("Queued: got %d, want 0", got)
	}
}

func TestStreamAdapter_RestoresPriorIdleHold(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{})
	stop := drv.LastOutput().Autoplay(time.Millisecond)
	defer stop()

	e.SetIdleHold(true)
	a := playback.NewStreamAdapter(e)
	if err := a.Play(context.Background(), closedStream(24000, nil, constant(512, 0.2))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !e.IdleHold() {
		t.Error("IdleHold: got false, want prior value true")
	}

	e.SetIdleHold(false)
	if err := a.Play(context.Background(), closedStream(24000, nil, constant(512, 0.2))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if e.IdleHold() {
		t.Error("IdleHold: got true, want prior value false")
	}
}

func TestStreamAdapter_MidStreamError(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{})
	stop := drv.LastOutput().Autoplay(time.Millisecond)
	defer stop()

	boom := errors.New("connection reset")
	err := playback.NewStreamAdapter(e).Play(context.Background(),
		closedStream(24000, boom, constant(1024, 0.2), constant(1024, 0.2)))
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
	if e.IdleHold() {
		t.Error("IdleHold still set after error")
	}
}

func TestStreamAdapter_ResamplesToEngineRate(t *testing.T) {
	t.Parallel()
	e, drv := newOpenEngine(t, playback.Config{})
	a := playback.NewStreamAdapter(e)

	done := make(chan error, 1)
	go func() {
		done <- a.Play(context.Background(), closedStream(12000, nil, constant(1200, 0.4)))
	}()

	pad := audio.SamplesFor(playback.DefaultHeadPad, playback.DefaultSampleRate)
	want := pad + 2400
	waitFor(t, time.Second, func() bool { return e.Queued() == want }, "resampled stream to be queued")

	block := drv.LastOutput().TickN(want)
	if block[pad] != 0.4 || block[want-1] != 0.4 {
		t.Errorf("content samples: got %v and %v, want 0.4", block[pad], block[want-1])
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Play: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after drain")
	}
}

func TestStreamAdapter_Closed(t *testing.T) {
	t.Parallel()
	e := playback.New(nil, playback.Config{})
	err := playback.NewStreamAdapter(e).Play(context.Background(), closedStream(24000, nil, constant(10, 0)))
	if !errors.Is(err, playback.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestStreamAdapter_CancelWhileWaitingForFirstChunk(t *testing.T) {
	t.Parallel()
	e, _ := newOpenEngine(t, playback.Config{})
	ch := make(chan []float32)
	defer close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := playback.NewStreamAdapter(e).Play(ctx, audio.NewStream(ch, 24000))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}
