package playback

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechio/pkg/audio"
)

// Stream adapter defaults.
const (
	DefaultPrebuffer  = 150 * time.Millisecond
	DefaultGetTimeout = 2 * time.Second
	DefaultPumpDepth  = 32
)

// StreamOption configures a [StreamAdapter].
type StreamOption func(*StreamAdapter)

// WithPrebuffer sets how much produced audio is collected before the first
// enqueue.
func WithPrebuffer(d time.Duration) StreamOption {
	return func(a *StreamAdapter) { a.prebuffer = max(d, 0) }
}

// WithGetTimeout bounds each wait for a chunk while prebuffering.
func WithGetTimeout(d time.Duration) StreamOption {
	return func(a *StreamAdapter) {
		if d > 0 {
			a.getTimeout = d
		}
	}
}

// WithPumpDepth sets the capacity of the channel between producer and pump.
func WithPumpDepth(n int) StreamOption {
	return func(a *StreamAdapter) {
		if n > 0 {
			a.pumpDepth = n
		}
	}
}

// WithOnFirstAudio registers fn to be called with the latency between the
// start of [StreamAdapter.Play] and the arrival of the first non-empty chunk.
func WithOnFirstAudio(fn func(latency time.Duration)) StreamOption {
	return func(a *StreamAdapter) { a.onFirstAudio = fn }
}

// StreamAdapter plays incrementally produced audio through an [Engine] as
// foreground content.
type StreamAdapter struct {
	e            *Engine
	prebuffer    time.Duration
	getTimeout   time.Duration
	pumpDepth    int
	onFirstAudio func(time.Duration)
}

// NewStreamAdapter returns an adapter that plays streams through e.
func NewStreamAdapter(e *Engine, opts ...StreamOption) *StreamAdapter {
	a := &StreamAdapter{
		e:          e,
		prebuffer:  DefaultPrebuffer,
		getTimeout: DefaultGetTimeout,
		pumpDepth:  DefaultPumpDepth,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Play waits for the first non-empty chunk of s, interrupts the waiting
// feeder, and plays the stream until it ends and the queue has drained.
//
// When s ends without producing audio, Play returns the stream's error if it
// recorded one and [audio.ErrNoAudioProduced] otherwise; the queue is left
// untouched in that case. The idle hold is restored to its prior value on
// every return path. A mid-stream producer error is returned after the audio
// produced before it has played.
func (a *StreamAdapter) Play(ctx context.Context, s *audio.Stream) error {
	start := time.Now()

	a.e.fg.Lock()
	defer a.e.fg.Unlock()

	closing, err := a.e.foreground()
	if err != nil {
		go audio.Drain(s.Chunks)
		return err
	}

	first, err := a.firstChunk(ctx, closing, s)
	if err != nil {
		return err
	}
	if a.onFirstAudio != nil {
		a.onFirstAudio(time.Since(start))
	}

	prev := a.e.queue.holdAndClear()
	defer a.e.queue.SetIdleHold(prev)

	if err := a.e.Enqueue(a.e.headPad()); err != nil {
		go audio.Drain(s.Chunks)
		return err
	}

	eof, err := a.prebufferInto(ctx, closing, s, first)
	if err != nil {
		go audio.Drain(s.Chunks)
		return err
	}

	if !eof {
		t := a.e.sup.Go(ctx, "stream-pump", func(tctx context.Context) error {
			return a.pump(tctx, closing, s)
		})
		if err := t.Wait(context.Background()); err != nil {
			go audio.Drain(s.Chunks)
			return err
		}
	}

	if err := a.e.waitDrained(ctx, closing, 0); err != nil {
		return err
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("playback: stream: %w", err)
	}
	return nil
}

// firstChunk blocks until s yields a non-empty chunk.
func (a *StreamAdapter) firstChunk(ctx context.Context, closing <-chan struct{}, s *audio.Stream) ([]float32, error) {
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(s.Chunks)
			return nil, ctx.Err()
		case <-closing:
			go audio.Drain(s.Chunks)
			return nil, ErrClosed
		case chunk, ok := <-s.Chunks:
			if !ok {
				if err := s.Err(); err != nil {
					return nil, fmt.Errorf("playback: stream: %w", err)
				}
				return nil, audio.ErrNoAudioProduced
			}
			if len(chunk) > 0 {
				return chunk, nil
			}
		}
	}
}

// prebufferInto collects roughly a.prebuffer of audio starting with first,
// waiting at most a.getTimeout for each further chunk, and enqueues it. It
// reports whether the stream ended while prebuffering.
func (a *StreamAdapter) prebufferInto(ctx context.Context, closing <-chan struct{}, s *audio.Stream, first []float32) (eof bool, err error) {
	buf := [][]float32{first}
	have := len(first)
	target := audio.SamplesFor(a.prebuffer, s.SampleRate)

	timer := time.NewTimer(a.getTimeout)
	defer timer.Stop()

collect:
	for have < target {
		timer.Reset(a.getTimeout)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-closing:
			return false, ErrClosed
		case <-timer.C:
			break collect
		case chunk, ok := <-s.Chunks:
			if !ok {
				eof = true
				break collect
			}
			if len(chunk) > 0 {
				buf = append(buf, chunk)
				have += len(chunk)
			}
		}
	}

	for _, chunk := range buf {
		if err := a.e.Enqueue(a.resample(chunk, s.SampleRate)); err != nil {
			return eof, err
		}
	}
	return eof, nil
}

// pump forwards the rest of s into the engine. A producer goroutine reads
// the stream into a bounded channel and a pump goroutine enqueues from it.
func (a *StreamAdapter) pump(ctx context.Context, closing <-chan struct{}, s *audio.Stream) error {
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan []float32, a.pumpDepth)

	g.Go(func() error {
		defer close(ch)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-closing:
				return ErrClosed
			case chunk, ok := <-s.Chunks:
				if !ok {
					return nil
				}
				if len(chunk) == 0 {
					continue
				}
				select {
				case ch <- chunk:
				case <-gctx.Done():
					return gctx.Err()
				case <-closing:
					return ErrClosed
				}
			}
		}
	})

	g.Go(func() error {
		for chunk := range ch {
			if err := a.e.Enqueue(a.resample(chunk, s.SampleRate)); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (a *StreamAdapter) resample(chunk []float32, rate int) []float32 {
	return a.e.rs.Resample(chunk, rate, a.e.cfg.SampleRate)
}
