package malgo

import "sync"

// ring is a fixed-capacity FIFO of float32 samples shared between the capture
// callback (writer) and Read (reader). When full, the oldest samples are
// overwritten so that a slow reader always sees the most recent audio.
type ring struct {
	mu      sync.Mutex
	buf     []float32
	read    int
	size    int // samples currently stored
	dropped uint64

	// notify is signalled (non-blocking) after every write.
	notify chan struct{}
}

func newRing(capacity int) *ring {
	return &ring{
		buf:    make([]float32, capacity),
		notify: make(chan struct{}, 1),
	}
}

// write appends samples, overwriting the oldest data on overflow.
func (r *ring) write(samples []float32) {
	r.mu.Lock()
	n := len(r.buf)
	if len(samples) > n {
		r.dropped += uint64(len(samples) - n)
		samples = samples[len(samples)-n:]
	}
	if over := r.size + len(samples) - n; over > 0 {
		r.read = (r.read + over) % n
		r.size -= over
		r.dropped += uint64(over)
	}
	w := (r.read + r.size) % n
	k := copy(r.buf[w:], samples)
	copy(r.buf, samples[k:])
	r.size += len(samples)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// readFull copies len(dst) samples into dst when that many are buffered and
// reports whether it did.
func (r *ring) readFull(dst []float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < len(dst) {
		return false
	}
	k := copy(dst, r.buf[r.read:min(r.read+len(dst), len(r.buf))])
	copy(dst[k:], r.buf)
	r.read = (r.read + len(dst)) % len(r.buf)
	r.size -= len(dst)
	return true
}

// stats returns the buffered sample count and the number of overwritten
// samples.
func (r *ring) stats() (buffered int, dropped uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size, r.dropped
}
