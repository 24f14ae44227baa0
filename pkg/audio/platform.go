// Package audio defines the device abstractions, sample formats and shared
// helpers used by the speechio audio engine.
//
// The two primary abstractions are:
//
//   - [Driver] opens output and input devices on the host audio API.
//   - [OutputDevice] and [InputDevice] are a bound device. Output devices pull
//     samples through a [FillFunc] on the driver's real-time thread; input
//     devices are read synchronously frame by frame.
//
// Implementations live in backend packages (e.g., audio/malgo). The interfaces
// are intentionally narrow so that the playback and capture engines stay
// decoupled from the platform API and can be tested with audio/mock.
//
// Samples are always mono float32 in the nominal range [-1, 1].
package audio

import (
	"context"
	"errors"
)

// Sentinel errors shared by the engine packages.
var (
	// ErrDeviceUnavailable is returned when no device selector is configured
	// or the platform fails to open or start the device.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrNoAudioProduced is returned when a producer finishes without yielding
	// a single non-empty chunk.
	ErrNoAudioProduced = errors.New("audio: no audio produced")

	// ErrUnsupportedFormat is returned when a WAV asset uses a sample width or
	// encoding the decoder does not handle.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// FillFunc is invoked by an [OutputDevice] on the driver's real-time thread.
// It must fill out completely (zero-filling any shortfall), must not block
// beyond a short critical section and must not allocate.
type FillFunc func(out []float32)

// OutputConfig describes the output stream to open.
type OutputConfig struct {
	// Device selects the output device. The syntax is backend-specific; the
	// malgo backend accepts "default", a numeric index, or a name substring.
	Device string

	// SampleRate in Hz (e.g., 24000).
	SampleRate int

	// BlockSize is the number of samples requested per callback.
	BlockSize int
}

// InputConfig describes the capture stream to open.
type InputConfig struct {
	// Device selects the input device. Empty selects the platform default.
	Device string

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// FrameSize is the number of samples per Read call.
	FrameSize int
}

// OutputDevice is a bound output stream. Start begins periodic callbacks,
// Stop halts them, Close releases the device. Close must be safe to call more
// than once.
type OutputDevice interface {
	Start() error
	Stop() error
	Close() error
}

// InputDevice is a bound capture stream.
type InputDevice interface {
	// Read blocks until len(frame) samples have been captured and copies them
	// into frame. It returns ctx.Err() if ctx is cancelled first and a
	// non-nil error if the device fails.
	Read(ctx context.Context, frame []float32) error

	// Close stops capture and releases the device. Calling Close more than
	// once is safe.
	Close() error
}

// Driver opens devices on a host audio API. Implementations must be safe for
// concurrent use.
type Driver interface {
	// OpenOutput binds an output device and registers fill as its callback.
	// The device does not call fill until Start is invoked.
	OpenOutput(cfg OutputConfig, fill FillFunc) (OutputDevice, error)

	// OpenInput binds and starts an input device.
	OpenInput(cfg InputConfig) (InputDevice, error)
}
