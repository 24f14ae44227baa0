// Package malgo implements [audio.Driver] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// Output devices run the engine's fill function on the miniaudio real-time
// thread, converting float32 samples into the device's F32 buffer in place.
// Input devices push captured F32 samples into a ring buffer that Read drains
// frame by frame.
//
// Device selectors are resolved against the host device list: "default" (or
// empty) picks the system default, a decimal number picks the device at that
// index, and anything else picks the first device whose name contains the
// selector (case-insensitive).
package malgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/speechio/pkg/audio"
)

var _ audio.Driver = (*Driver)(nil)

// captureBufferSeconds is the capacity of the input ring buffer.
const captureBufferSeconds = 2

// DeviceInfo describes a host audio device.
type DeviceInfo struct {
	Index     int
	Name      string
	IsDefault bool
}

// Driver owns a miniaudio context. Create one with [New] and release it with
// [Driver.Close] after every device has been closed.
type Driver struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises a miniaudio context on the platform's default backend.
func New() (*Driver, error) {
	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		slog.Debug("malgo: " + strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Driver{ctx: ctx}, nil
}

// Close releases the miniaudio context. It is safe to call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// OutputDevices lists the playback devices.
func (d *Driver) OutputDevices() ([]DeviceInfo, error) { return d.list(malgo.Playback) }

// InputDevices lists the capture devices.
func (d *Driver) InputDevices() ([]DeviceInfo, error) { return d.list(malgo.Capture) }

func (d *Driver) list(kind malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := d.devices(kind)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, len(infos))
	for i, info := range infos {
		out[i] = DeviceInfo{Index: i, Name: info.Name(), IsDefault: info.IsDefault != 0}
	}
	return out, nil
}

func (d *Driver) devices(kind malgo.DeviceType) ([]malgo.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, errors.New("malgo: driver closed")
	}
	infos, err := d.ctx.Context.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo: enumerate devices: %w", err)
	}
	return infos, nil
}

// resolve maps a selector to a device ID pointer. A nil pointer selects the
// system default. infos must stay alive until the device is initialised.
func resolve(infos []malgo.DeviceInfo, selector string) (unsafe.Pointer, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, "default") {
		return nil, nil
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(infos) {
			return nil, fmt.Errorf("malgo: device index %d out of range (%d devices)", idx, len(infos))
		}
		return infos[idx].ID.Pointer(), nil
	}
	if i := matchName(names(infos), selector); i >= 0 {
		return infos[i].ID.Pointer(), nil
	}
	return nil, fmt.Errorf("malgo: no device matching %q", selector)
}

func names(infos []malgo.DeviceInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name()
	}
	return out
}

// matchName returns the index of the first name containing selector,
// ignoring case, or -1.
func matchName(names []string, selector string) int {
	want := strings.ToLower(selector)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}

// ---- output ----

// OpenOutput implements [audio.Driver].
func (d *Driver) OpenOutput(cfg audio.OutputConfig, fill audio.FillFunc) (audio.OutputDevice, error) {
	infos, err := d.devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	id, err := resolve(infos, cfg.Device)
	if err != nil {
		return nil, err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatF32
	devCfg.Playback.Channels = 1
	devCfg.Playback.DeviceID = id
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.BlockSize)

	o := &output{fill: fill, scratch: make([]float32, max(cfg.BlockSize, 256)*4)}
	d.mu.Lock()
	dev, err := malgo.InitDevice(d.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: o.onData})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	o.dev = dev
	return o, nil
}

type output struct {
	dev     *malgo.Device
	fill    audio.FillFunc
	scratch []float32

	closeOnce sync.Once
}

// onData runs on the miniaudio thread.
func (o *output) onData(pOutput, _ []byte, frameCount uint32) {
	n := int(frameCount)
	if n > len(o.scratch) {
		// Only reached when the backend ignores the requested period size.
		o.scratch = make([]float32, n)
	}
	buf := o.scratch[:n]
	o.fill(buf)
	for i, v := range buf {
		binary.LittleEndian.PutUint32(pOutput[i*4:], math.Float32bits(v))
	}
}

func (o *output) Start() error {
	if err := o.dev.Start(); err != nil {
		return fmt.Errorf("malgo: start playback: %w", err)
	}
	return nil
}

func (o *output) Stop() error {
	if err := o.dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop playback: %w", err)
	}
	return nil
}

func (o *output) Close() error {
	o.closeOnce.Do(o.dev.Uninit)
	return nil
}

// ---- input ----

// OpenInput implements [audio.Driver].
func (d *Driver) OpenInput(cfg audio.InputConfig) (audio.InputDevice, error) {
	infos, err := d.devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	id, err := resolve(infos, cfg.Device)
	if err != nil {
		return nil, err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.Capture.DeviceID = id
	devCfg.SampleRate = uint32(cfg.SampleRate)
	if cfg.FrameSize > 0 {
		devCfg.PeriodSizeInFrames = uint32(cfg.FrameSize)
	}

	in := &input{
		ring:    newRing(cfg.SampleRate * captureBufferSeconds),
		scratch: make([]float32, max(cfg.FrameSize, 256)*4),
		closed:  make(chan struct{}),
	}
	d.mu.Lock()
	dev, err := malgo.InitDevice(d.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: in.onData})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	in.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture: %w", err)
	}
	return in, nil
}

type input struct {
	dev     *malgo.Device
	ring    *ring
	scratch []float32

	closeOnce sync.Once
	closed    chan struct{}
}

// onData runs on the miniaudio thread.
func (in *input) onData(_, pInput []byte, frameCount uint32) {
	n := min(int(frameCount), len(pInput)/4)
	if n > len(in.scratch) {
		in.scratch = make([]float32, n)
	}
	buf := in.scratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(pInput[i*4:]))
	}
	in.ring.write(buf)
}

func (in *input) Read(ctx context.Context, frame []float32) error {
	for {
		if in.ring.readFull(frame) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.closed:
			return errors.New("malgo: capture device closed")
		case <-in.ring.notify:
		}
	}
}

func (in *input) Close() error {
	in.closeOnce.Do(func() {
		close(in.closed)
		_ = in.dev.Stop()
		in.dev.Uninit()
		if _, dropped := in.ring.stats(); dropped > 0 {
			slog.Debug("malgo: capture overflow", "dropped_samples", dropped)
		}
	})
	return nil
}
