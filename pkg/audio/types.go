package audio

import "sync/atomic"

// Stream is a lazy, finite sequence of mono float32 chunks produced by a
// synthesis or decoding backend. Chunks arrive incrementally on Chunks so that
// playback can begin before production has finished.
type Stream struct {
	// Chunks is closed by the producer when the stream ends or when a
	// mid-stream error occurs. After the channel closes, call [Stream.Err] to
	// check whether production completed cleanly.
	Chunks <-chan []float32

	// SampleRate is the rate in Hz of every chunk on Chunks. Must be > 0.
	SampleRate int

	// streamErr stores the error that caused Chunks to close early.
	streamErr atomic.Pointer[error]
}

// NewStream returns a Stream reading from chunks at sampleRate.
func NewStream(chunks <-chan []float32, sampleRate int) *Stream {
	return &Stream{Chunks: chunks, SampleRate: sampleRate}
}

// Err returns the error that caused the Chunks channel to close prematurely,
// or nil if the stream completed successfully.
func (s *Stream) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing Chunks.
func (s *Stream) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// Collect drains s and returns all samples concatenated. It returns the
// stream error, if any, alongside whatever was produced before it.
func (s *Stream) Collect() ([]float32, error) {
	var out []float32
	for chunk := range s.Chunks {
		out = append(out, chunk...)
	}
	return out, s.Err()
}
