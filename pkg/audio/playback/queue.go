package playback

import (
	"sync"
	"sync/atomic"
)

// compactThreshold is the number of consumed chunk slots after which
// [SampleQueue.Enqueue] moves the live chunks to the front of the backing
// slice.
const compactThreshold = 64

// SampleQueue is a FIFO of sample chunks with a cached sample count. It is
// written by producers and read by the device callback.
//
// The queue also carries the engine's idle-hold flag so that setting the flag
// and the waiting feeder's check-then-enqueue are atomic with respect to each
// other.
//
// All methods are safe for concurrent use.
type SampleQueue struct {
	mu     sync.Mutex
	chunks [][]float32
	head   int // index of the first live chunk
	offset int // samples already consumed from chunks[head]
	count  int // sum of unconsumed samples

	// hold is written under mu and read lock-free by IdleHold.
	hold atomic.Bool
}

// Enqueue appends chunk to the tail of the queue. The queue takes ownership
// of chunk; callers must not modify it afterwards. Empty chunks are ignored.
func (q *SampleQueue) Enqueue(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	q.mu.Lock()
	q.enqueueLocked(chunk)
	q.mu.Unlock()
}

func (q *SampleQueue) enqueueLocked(chunk []float32) {
	switch {
	case q.head == len(q.chunks):
		clear(q.chunks)
		q.chunks = q.chunks[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.chunks):
		n := copy(q.chunks, q.chunks[q.head:])
		clear(q.chunks[n:])
		q.chunks = q.chunks[:n]
		q.head = 0
	}
	q.chunks = append(q.chunks, chunk)
	q.count += len(chunk)
}

// Consume copies up to len(dst) queued samples into dst in FIFO order and
// returns how many were copied. The caller is responsible for zero-filling
// the remainder. Consume never allocates.
func (q *SampleQueue) Consume(dst []float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(dst) && q.head < len(q.chunks) {
		c := q.chunks[q.head][q.offset:]
		k := copy(dst[n:], c)
		n += k
		if k == len(c) {
			q.chunks[q.head] = nil
			q.head++
			q.offset = 0
		} else {
			q.offset += k
		}
	}
	q.count -= n
	return n
}

// Queued returns the number of samples waiting to be played.
func (q *SampleQueue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Clear discards every queued sample.
func (q *SampleQueue) Clear() {
	q.mu.Lock()
	q.clearLocked()
	q.mu.Unlock()
}

func (q *SampleQueue) clearLocked() {
	clear(q.chunks)
	q.chunks = q.chunks[:0]
	q.head = 0
	q.offset = 0
	q.count = 0
}

// ---- idle hold ----

// IdleHold reports whether background filler audio is currently suppressed.
func (q *SampleQueue) IdleHold() bool { return q.hold.Load() }

// SetIdleHold sets or clears the idle-hold flag.
func (q *SampleQueue) SetIdleHold(v bool) {
	q.mu.Lock()
	q.hold.Store(v)
	q.mu.Unlock()
}

// holdAndClear sets the idle-hold flag and empties the queue in one critical
// section and returns the previous flag value.
func (q *SampleQueue) holdAndClear() (prev bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev = q.hold.Swap(true)
	q.clearLocked()
	return prev
}

// enqueueUnlessHeld enqueues chunk only when idle hold is not set. It reports
// whether the chunk was enqueued.
func (q *SampleQueue) enqueueUnlessHeld(chunk []float32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hold.Load() {
		return false
	}
	if len(chunk) > 0 {
		q.enqueueLocked(chunk)
	}
	return true
}
