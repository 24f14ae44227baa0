package playback_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/speechio/pkg/audio/playback"
)

func seq(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestSampleQueue_FIFOAcrossChunks(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	q.Enqueue(seq(0, 3))
	q.Enqueue(seq(3, 5))
	q.Enqueue(seq(8, 2))

	if got := q.Queued(); got != 10 {
		t.Fatalf("Queued: got %d, want 10", got)
	}

	dst := make([]float32, 4)
	if n := q.Consume(dst); n != 4 {
		t.Fatalf("Consume: got %d, want 4", n)
	}
	for i, v := range dst {
		if v != float32(i) {
			t.Errorf("dst[%d]: got %v, want %v", i, v, i)
		}
	}
	if got := q.Queued(); got != 6 {
		t.Errorf("Queued after partial consume: got %d, want 6", got)
	}

	dst = make([]float32, 10)
	if n := q.Consume(dst); n != 6 {
		t.Fatalf("Consume: got %d, want 6", n)
	}
	for i := range 6 {
		if dst[i] != float32(4+i) {
			t.Errorf("dst[%d]: got %v, want %v", i, dst[i], 4+i)
		}
	}
	if got := q.Queued(); got != 0 {
		t.Errorf("Queued: got %d, want 0", got)
	}
}

func TestSampleQueue_EmptyChunkIgnored(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	q.Enqueue(nil)
	q.Enqueue([]float32{})
	if got := q.Queued(); got != 0 {
		t.Errorf("Queued: got %d, want 0", got)
	}
	if n := q.Consume(make([]float32, 8)); n != 0 {
		t.Errorf("Consume: got %d, want 0", n)
	}
}

func TestSampleQueue_Conservation(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	enqueued, delivered := 0, 0
	next := 0
	dst := make([]float32, 7)

	// Interleave odd-sized enqueues and reads long enough to trigger
	// compaction of the chunk slice.
	for round := range 500 {
		size := round%5 + 1
		q.Enqueue(seq(next, size))
		next += size
		enqueued += size

		if round%2 == 0 {
			avail := q.Queued()
			n := q.Consume(dst)
			if want := min(len(dst), avail); n != want {
				t.Fatalf("round %d: Consume got %d, want %d", round, n, want)
			}
			for i := range n {
				if dst[i] != float32(delivered+i) {
					t.Fatalf("round %d: sample %d got %v, want %v", round, i, dst[i], delivered+i)
				}
			}
			delivered += n
		}
		if got, want := q.Queued(), enqueued-delivered; got != want {
			t.Fatalf("round %d: Queued got %d, want %d", round, got, want)
		}
	}
}

func TestSampleQueue_Clear(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	q.Enqueue(seq(0, 100))
	q.Consume(make([]float32, 10))
	q.Clear()
	if got := q.Queued(); got != 0 {
		t.Errorf("Queued: got %d, want 0", got)
	}
	q.Enqueue(seq(42, 2))
	dst := make([]float32, 2)
	q.Consume(dst)
	if dst[0] != 42 || dst[1] != 43 {
		t.Errorf("got %v, want [42 43]", dst)
	}
}

func TestSampleQueue_ConcurrentClear(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(3)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				q.Enqueue(make([]float32, 64))
			}
		}
	}()
	go func() {
		defer wg.Done()
		dst := make([]float32, 100)
		for {
			select {
			case <-stop:
				return
			default:
				q.Consume(dst)
				if n := q.Queued(); n < 0 {
					t.Errorf("Queued went negative: %d", n)
					return
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 1000 {
			q.Clear()
		}
	}()

	for range 1000 {
		q.Consume(make([]float32, 32))
	}
	close(stop)
	wg.Wait()

	q.Clear()
	if got := q.Queued(); got != 0 {
		t.Errorf("Queued after Clear: got %d, want 0", got)
	}
}

func TestSampleQueue_ConsumeDoesNotAllocate(t *testing.T) {
	var q playback.SampleQueue
	for range 2000 {
		q.Enqueue(make([]float32, 3))
	}
	dst := make([]float32, 2)
	allocs := testing.AllocsPerRun(500, func() {
		q.Consume(dst)
	})
	if allocs != 0 {
		t.Errorf("Consume allocated %.1f times per call, want 0", allocs)
	}
}

func TestSampleQueue_IdleHold(t *testing.T) {
	t.Parallel()
	var q playback.SampleQueue
	if q.IdleHold() {
		t.Fatal("IdleHold set on zero value")
	}
	q.SetIdleHold(true)
	if !q.IdleHold() {
		t.Error("IdleHold: got false, want true")
	}
	q.SetIdleHold(false)
	if q.IdleHold() {
		t.Error("IdleHold: got true, want false")
	}
}
