// Package malgo implements [audio.CaptureDevice] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// Capture runs as 32-bit float mono at the device's native sample rate
// unless one is configured. Device callbacks deliver variable-sized blocks;
// they are re-chunked into fixed-size frames and handed to the reader
// without blocking. Frames are dropped when the reader falls behind.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/singalong/pkg/audio"
)

// Defaults.
const (
	DefaultFrameSize = 2048
	DefaultBuffer    = 8
)

// Config selects and tunes the capture device.
type Config struct {
	// DeviceName selects the first capture device whose name contains this
	// substring (case-insensitive). Empty uses the system default.
	DeviceName string

	// SampleRate requests a specific rate in Hz. Zero keeps the device's
	// native rate.
	SampleRate uint32

	// FrameSize is the number of samples per delivered frame. Defaults to
	// 2048.
	FrameSize int

	// Buffer is the number of frames held for a slow reader before new
	// frames are dropped. Defaults to 8.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// Device opens miniaudio capture streams.
type Device struct {
	cfg Config
}

// New returns a Device for cfg.
func New(cfg Config) *Device {
	return &Device{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// Open initialises a miniaudio context and starts capturing.
func (d *Device) Open(ctx context.Context) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	freeContext := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	devCfg := ma.DefaultDeviceConfig(ma.Capture)
	devCfg.Capture.Format = ma.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = d.cfg.SampleRate
	devCfg.Alsa.NoMMap = 1

	if d.cfg.DeviceName != "" {
		info, err := findDevice(mctx, d.cfg.DeviceName)
		if err != nil {
			freeContext()
			return nil, err
		}
		devCfg.Capture.DeviceID = info.ID.Pointer()
		if devCfg.SampleRate == 0 {
			devCfg.SampleRate = nativeRate(info)
		}
	}

	p := newPump(d.cfg.FrameSize, d.cfg.Buffer)
	device, err := ma.InitDevice(mctx.Context, devCfg, ma.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			p.push(audio.Float32FromBytes(input))
		},
		Stop: func() {
			p.close()
		},
	})
	if err != nil {
		freeContext()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	p.setRate(int(device.SampleRate()))

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext()
		return nil, fmt.Errorf("malgo: start device: %w", err)
	}

	slog.Info("malgo: capture started",
		"sample_rate", device.SampleRate(),
		"frame_size", d.cfg.FrameSize,
		"device", d.cfg.DeviceName,
	)
	return &capture{pump: p, device: device, free: freeContext}, nil
}

// findDevice returns the first capture device whose name contains name.
func findDevice(mctx *ma.AllocatedContext, name string) (*ma.DeviceInfo, error) {
	list, err := mctx.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list capture devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range list {
		if strings.Contains(strings.ToLower(list[i].Name()), want) {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("malgo: no capture device matching %q", name)
}

func nativeRate(info *ma.DeviceInfo) uint32 {
	for _, f := range info.Formats {
		if f.SampleRate > 0 {
			return f.SampleRate
		}
	}
	return 0
}

// streamDevice is the part of *ma.Device a capture drives after start.
type streamDevice interface {
	Stop() error
	Uninit()
}

// capture is an open miniaudio stream.
type capture struct {
	pump     *pump
	device   streamDevice
	free     func()
	once     sync.Once
	closeErr error
}

func (c *capture) Frames() <-chan audio.Frame { return c.pump.frames }

func (c *capture) SampleRate() int { return c.pump.sampleRate() }

// Close stops and releases the device. Resources are released even when
// stopping fails; the stop error is returned from every call.
func (c *capture) Close() error {
	c.once.Do(func() {
		if err := c.device.Stop(); err != nil {
			c.closeErr = fmt.Errorf("malgo: stop device: %w", err)
			slog.Warn("malgo: stop capture device", "err", err)
		}
		c.device.Uninit()
		c.free()
		c.pump.close()
		if n := c.pump.droppedFrames(); n > 0 {
			slog.Warn("malgo: frames dropped by slow reader", "dropped", n)
		}
	})
	return c.closeErr
}

var (
	_ audio.CaptureDevice = (*Device)(nil)
	_ streamDevice        = (*ma.Device)(nil)
)
