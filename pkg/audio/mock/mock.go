// Package mock provides an in-memory [audio.Driver] for unit tests.
//
// Output devices never call their fill function on their own. Tests drive
// the "hardware clock" explicitly with [Output.Tick], or start a background
// ticker with [Output.Autoplay]. Input devices replay a scripted list of
// frames and then either return a scripted error or block until the read
// context is cancelled.
//
// All types are safe for concurrent use and record every call so that tests
// can assert on call counts.
//
// Typical usage:
//
//	drv := &mock.Driver{InputFrames: frames}
//	eng := playback.New(drv, cfg)
//	_, _ = eng.Open(ctx)
//	block := drv.LastOutput().Tick()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speechio/pkg/audio"
)

var _ audio.Driver = (*Driver)(nil)

// ─── Driver ──────────────────────────────────────────────────────────────────

// Driver is a mock implementation of [audio.Driver].
// Set the exported fields before use; inspect the CallCount fields after.
type Driver struct {
	mu sync.Mutex

	// OpenOutputErr is returned by [Driver.OpenOutput] when non-nil.
	OpenOutputErr error

	// StartErr is returned by [Output.Start] on devices opened afterwards.
	StartErr error

	// OpenInputErr is returned by [Driver.OpenInput] when non-nil.
	OpenInputErr error

	// InputFrames are replayed, in order, by every input device opened.
	InputFrames [][]float32

	// InputErr is returned by [Input.Read] once InputFrames are exhausted.
	// When nil, Read blocks until its context is cancelled.
	InputErr error

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	outputs []*Output
	inputs  []*Input
}

// OpenOutput implements [audio.Driver].
func (d *Driver) OpenOutput(cfg audio.OutputConfig, fill audio.FillFunc) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	o := &Output{cfg: cfg, fill: fill, startErr: d.StartErr}
	d.outputs = append(d.outputs, o)
	return o, nil
}

// OpenInput implements [audio.Driver].
func (d *Driver) OpenInput(cfg audio.InputConfig) (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	in := &Input{cfg: cfg, frames: d.InputFrames, err: d.InputErr}
	d.inputs = append(d.inputs, in)
	return in, nil
}

// Outputs returns every output device opened so far, oldest first.
func (d *Driver) Outputs() []*Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Output(nil), d.outputs...)
}

// LastOutput returns the most recently opened output device, or nil.
func (d *Driver) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outputs) == 0 {
		return nil
	}
	return d.outputs[len(d.outputs)-1]
}

// Inputs returns every input device opened so far, oldest first.
func (d *Driver) Inputs() []*Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Input(nil), d.inputs...)
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Output is a mock [audio.OutputDevice].
type Output struct {
	cfg      audio.OutputConfig
	fill     audio.FillFunc
	startErr error

	mu      sync.Mutex
	started bool
	closed  bool

	// tickMu serialises fill invocations like a real audio thread.
	tickMu sync.Mutex

	// CallCountStart records how many times Start was called.
	CallCountStart int
	// CallCountStop records how many times Stop was called.
	CallCountStop int
	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Config returns the configuration the device was opened with.
func (o *Output) Config() audio.OutputConfig { return o.cfg }

// Start implements [audio.OutputDevice].
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountStart++
	if o.startErr != nil {
		return o.startErr
	}
	o.started = true
	return nil
}

// Stop implements [audio.OutputDevice].
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountStop++
	o.started = false
	return nil
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.started = false
	o.closed = true
	return nil
}

// Started reports whether the device is currently started.
func (o *Output) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Tick invokes the fill function once with a block of cfg.BlockSize samples
// and returns the block. It returns nil when the device is not started.
func (o *Output) Tick() []float32 {
	return o.TickN(o.cfg.BlockSize)
}

// TickN is like [Output.Tick] with an explicit block size.
func (o *Output) TickN(n int) []float32 {
	if !o.Started() || n <= 0 {
		return nil
	}
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	block := make([]float32, n)
	o.fill(block)
	return block
}

// Autoplay ticks the device every period on a background goroutine until the
// returned stop function is called.
func (o *Output) Autoplay(period time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				o.Tick()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// ─── Input ───────────────────────────────────────────────────────────────────

// Input is a mock [audio.InputDevice] replaying scripted frames.
type Input struct {
	cfg    audio.InputConfig
	frames [][]float32
	err    error

	mu     sync.Mutex
	pos    int
	closed bool

	// CallCountRead records how many times Read was called.
	CallCountRead int
	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Config returns the configuration the device was opened with.
func (in *Input) Config() audio.InputConfig { return in.cfg }

// Read implements [audio.InputDevice]. Scripted frames shorter than frame are
// zero-padded.
func (in *Input) Read(ctx context.Context, frame []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in.mu.Lock()
	in.CallCountRead++
	if in.pos < len(in.frames) {
		n := copy(frame, in.frames[in.pos])
		clear(frame[n:])
		in.pos++
		in.mu.Unlock()
		return nil
	}
	err := in.err
	in.mu.Unlock()

	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close implements [audio.InputDevice].
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountClose++
	in.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Consumed returns how many scripted frames have been read.
func (in *Input) Consumed() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pos
}
