package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

// MalgoDriver captures from a miniaudio device.
type MalgoDriver struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	tap    *tap
	closed bool

	stats counters
}

// NewMalgoDriver initializes a miniaudio context. No device is opened until
// StartCapture.
func NewMalgoDriver(cfg Config, logger *slog.Logger) (*MalgoDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %w", ErrUnavailable, err)
	}

	logger.Debug("malgo context initialized", "format", cfg.Format.String(), "device", cfg.Device)
	return &MalgoDriver{cfg: cfg, logger: logger, mctx: mctx}, nil
}

// InputFormat returns the configured capture format. The device is opened
// with exactly this format and miniaudio converts from the hardware's native one.
func (d *MalgoDriver) InputFormat() (audio.Format, error) {
	if err := d.cfg.Format.Validate(); err != nil {
		return audio.Format{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return d.cfg.Format, nil
}

func (d *MalgoDriver) StartCapture(onChunk ChunkHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("%w: driver closed", ErrUnavailable)
	}
	if d.device != nil {
		return fmt.Errorf("%w: capture already started", ErrUnavailable)
	}

	deviceCfg, err := d.deviceConfig()
	if err != nil {
		return err
	}

	frameBytes := d.cfg.Format.FrameBytes()
	t := newTap(d.cfg.Format, d.cfg.QueueSize, onChunk, &d.stats)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * frameBytes
			if n > len(input) {
				n = len(input)
			}
			t.offer(input[:n])
		},
	}

	device, err := malgo.InitDevice(d.mctx.Context, deviceCfg, callbacks)
	if err != nil {
		t.close()
		return fmt.Errorf("%w: initializing capture device: %w", ErrUnavailable, err)
	}

	if got := int(device.CaptureChannels()); got != d.cfg.Format.Channels {
		device.Uninit()
		t.close()
		return fmt.Errorf("%w: device opened with %d channels, want %d", ErrInvalidFormat, got, d.cfg.Format.Channels)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		t.close()
		return fmt.Errorf("%w: starting capture device: %w", ErrUnavailable, err)
	}

	d.device = device
	d.tap = t

	d.logger.Info("capture started",
		"backend", d.Name(),
		"format", d.cfg.Format.String(),
		"period_frames", d.cfg.PeriodFrames(),
	)
	return nil
}

func (d *MalgoDriver) deviceConfig() (malgo.DeviceConfig, error) {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	switch d.cfg.Format.Encoding {
	case audio.EncodingFloat32:
		deviceCfg.Capture.Format = malgo.FormatF32
	case audio.EncodingInt16:
		deviceCfg.Capture.Format = malgo.FormatS16
	default:
		return deviceCfg, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidFormat, d.cfg.Format.Encoding)
	}
	deviceCfg.Capture.Channels = uint32(d.cfg.Format.Channels)
	deviceCfg.SampleRate = uint32(d.cfg.Format.SampleRate)
	deviceCfg.PeriodSizeInFrames = d.cfg.PeriodFrames()
	deviceCfg.Alsa.NoMMap = 1

	if d.cfg.Device != "" {
		infos, err := d.mctx.Devices(malgo.Capture)
		if err != nil {
			return deviceCfg, fmt.Errorf("%w: enumerating capture devices: %w", ErrUnavailable, err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == d.cfg.Device {
				deviceCfg.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return deviceCfg, fmt.Errorf("%w: capture device %q not found", ErrUnavailable, d.cfg.Device)
		}
	}
	return deviceCfg, nil
}

func (d *MalgoDriver) StopCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return
	}
	// Uninit waits for the data callback to return; the callback never blocks.
	d.device.Uninit()
	d.device = nil
	d.tap.close()
	d.tap = nil

	d.logger.Info("capture stopped",
		"delivered", d.stats.delivered.Load(),
		"overruns", d.stats.overruns.Load(),
	)
}

func (d *MalgoDriver) Stats() Stats {
	d.mu.Lock()
	capturing := d.device != nil
	d.mu.Unlock()

	return Stats{
		Delivered: d.stats.delivered.Load(),
		Overruns:  d.stats.overruns.Load(),
		Capturing: capturing,
		Backend:   d.Name(),
	}
}

func (d *MalgoDriver) Name() string {
	return string(BackendMalgo)
}

func (d *MalgoDriver) Close() error {
	d.StopCapture()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.mctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	d.mctx.Free()
	return nil
}

var _ Driver = (*MalgoDriver)(nil)
