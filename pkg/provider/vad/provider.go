// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (energy gate, WebRTC VAD,
// or a model) and surfaces it as a stateful, per-stream session. Each session
// keeps its own smoothing state so that independent audio streams can be
// classified concurrently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the capture loop that decides when
// an utterance starts and ends.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds (10, 20
	// or 30). ProcessFrame returns an error if the supplied frame does not
	// match this size.
	FrameSizeMs int

	// Aggressiveness selects how eagerly frames are classified as silence, from
	// 0 (least aggressive, most frames count as speech) to 3.
	Aggressiveness int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Zero selects the engine default.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// is considered ended. Range: [0.0, 1.0]. Must be ≤ SpeechThreshold. Zero
	// selects the engine default.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection result.
	// The frame must be 16-bit little-endian PCM at the SampleRate and FrameSizeMs
	// configured when the session was created. Returns an error if the frame size
	// is wrong or if the engine encounters an internal failure.
	//
	// ProcessFrame must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame and Reset must return errors or be no-ops. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate, frame size, or aggressiveness out of range).
	NewSession(cfg Config) (SessionHandle, error)
}
