// Package engine adapts the host audio input API to the recorder. A Driver
// owns a single capture tap and hands each hardware buffer, copied out of
// the real-time thread, to a handler running on an ordinary goroutine.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

var (
	// ErrUnavailable means the audio engine or capture device could not be opened.
	ErrUnavailable = errors.New("audio engine unavailable")
	// ErrInvalidFormat means the requested capture format cannot be used.
	ErrInvalidFormat = errors.New("invalid capture format")
)

// BackendType selects the driver implementation.
type BackendType string

const (
	BackendAuto  BackendType = "auto"
	BackendMalgo BackendType = "malgo"
	BackendMock  BackendType = "mock"
)

// ChunkHandler receives one planar buffer per hardware callback. It is never
// called on the real-time thread, and calls are never concurrent.
type ChunkHandler func(buf *audio.Buffer)

// Driver is a capture engine with a single input tap.
type Driver interface {
	// InputFormat reports the layout of the buffers StartCapture will deliver.
	InputFormat() (audio.Format, error)

	// StartCapture installs the tap. Capturing twice without StopCapture fails.
	StartCapture(onChunk ChunkHandler) error

	// StopCapture removes the tap. It is idempotent and does not wait for an
	// in-flight handler call to return.
	StopCapture()

	// Stats returns delivery counters accumulated over the driver's lifetime.
	Stats() Stats

	// Name identifies the backend.
	Name() string

	// Close stops capture and releases the engine.
	Close() error
}

// Stats counts buffers crossing the real-time hop.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Overruns  uint64 `json:"overruns"`
	Capturing bool   `json:"capturing"`
	Backend   string `json:"backend"`
}

// Config holds driver settings.
type Config struct {
	Backend BackendType
	// Device is a capture device name; empty selects the system default.
	Device string
	Format audio.Format
	// Period is the hardware buffer length.
	Period time.Duration
	// QueueSize bounds the buffers waiting between the real-time thread and
	// the handler. Buffers arriving at a full queue are dropped.
	QueueSize int
}

// DefaultConfig returns mono 48kHz float capture with 100ms buffers.
func DefaultConfig() Config {
	return Config{
		Backend: BackendAuto,
		Format: audio.Format{
			SampleRate: 48000,
			Channels:   1,
			Encoding:   audio.EncodingFloat32,
		},
		Period:    100 * time.Millisecond,
		QueueSize: 32,
	}
}

// ParseBackend accepts the config spellings of a backend.
func ParseBackend(s string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendMalgo, "miniaudio":
		return BackendMalgo, nil
	case BackendMock:
		return BackendMock, nil
	default:
		return "", fmt.Errorf("unknown audio backend: %q (valid: auto, malgo, mock)", s)
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if c.Period <= 0 {
		return fmt.Errorf("capture period must be positive, got %s", c.Period)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.PeriodFrames() == 0 {
		return fmt.Errorf("%w: period %s is shorter than one frame at %gHz", ErrInvalidFormat, c.Period, c.Format.SampleRate)
	}
	return nil
}

// PeriodFrames is the number of frames in one hardware buffer.
func (c Config) PeriodFrames() uint32 {
	return uint32(c.Period.Seconds() * c.Format.SampleRate)
}
