// Package energy provides a dependency-free [vad.Engine] that classifies
// frames by their RMS energy on the 16-bit PCM scale.
//
// The aggressiveness level picks the energy threshold: higher levels need
// louder input before a frame counts as speech. Sessions classify each frame
// on its own; utterance start/end hangover is left to the caller.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/speechio/pkg/provider/vad"
)

var _ vad.Engine = (*Engine)(nil)

// Thresholds maps aggressiveness 0–3 to the RMS energy (int16 scale) at which
// a frame is classified as speech.
var Thresholds = [4]float64{150, 300, 500, 900}

var errClosed = errors.New("energy: session closed")

// Engine creates energy-gate sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	switch cfg.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("energy: unsupported sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("energy: unsupported frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("energy: aggressiveness %d out of range [0, 3]", cfg.Aggressiveness)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	return &Session{
		threshold:  Thresholds[cfg.Aggressiveness],
		probGate:   cfg.SpeechThreshold,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// Session is a single-stream energy classifier.
type Session struct {
	threshold  float64
	probGate   float64
	frameBytes int

	mu       sync.Mutex
	speaking bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	energy := rmsEnergy(frame)
	prob := math.Min(1, energy/(2*s.threshold))
	speech := energy >= s.threshold
	if s.probGate > 0 {
		speech = prob >= s.probGate
	}

	ev := vad.VADEvent{Probability: prob}
	switch {
	case speech && !s.speaking:
		ev.Type = vad.VADSpeechStart
	case speech:
		ev.Type = vad.VADSpeechContinue
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	s.speaking = speech
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rmsEnergy computes the root-mean-square of 16-bit signed PCM.
func rmsEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
