package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

// MockDriver generates synthetic capture buffers (silence or a sine wave)
// on a ticker, standing in for the hardware thread.
type MockDriver struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	tap    *tap
	stopCh chan struct{}

	// synthesis
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64

	manual   bool
	startErr error
	starts   atomic.Int64

	stats counters
}

// MockOption configures a MockDriver.
type MockOption func(*MockDriver)

// WithSineWave makes the mock generate a sine wave instead of silence.
func WithSineWave(frequency, amplitude float64) MockOption {
	return func(m *MockDriver) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFeed disables the ticker; buffers arrive only through Feed.
func WithManualFeed() MockOption {
	return func(m *MockDriver) {
		m.manual = true
	}
}

// WithStartError makes StartCapture fail with err.
func WithStartError(err error) MockOption {
	return func(m *MockDriver) {
		m.startErr = err
	}
}

// NewMockDriver creates a mock driver.
func NewMockDriver(cfg Config, logger *slog.Logger, opts ...MockOption) *MockDriver {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockDriver{
		cfg:       cfg,
		logger:    logger,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockDriver) InputFormat() (audio.Format, error) {
	if err := m.cfg.Format.Validate(); err != nil {
		return audio.Format{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return m.cfg.Format, nil
}

func (m *MockDriver) StartCapture(onChunk ChunkHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if m.tap != nil {
		return fmt.Errorf("%w: capture already started", ErrUnavailable)
	}
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	m.starts.Add(1)
	m.tap = newTap(m.cfg.Format, m.cfg.QueueSize, onChunk, &m.stats)
	m.stopCh = make(chan struct{})
	if !m.manual {
		go m.generate(m.tap, m.stopCh)
	}

	m.logger.Debug("mock capture started", "format", m.cfg.Format.String(), "period", m.cfg.Period)
	return nil
}

func (m *MockDriver) generate(t *tap, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			chunk, ok := audio.Interleave(m.synthesize())
			if ok {
				t.offer(chunk.Data)
			}
		}
	}
}

// synthesize is only called from the generator goroutine.
func (m *MockDriver) synthesize() *audio.Buffer {
	frames := int(m.cfg.PeriodFrames())
	buf := audio.NewBuffer(m.cfg.Format, frames)
	if m.frequency == 0 {
		return buf
	}

	step := 2 * math.Pi * m.frequency / m.cfg.Format.SampleRate
	for f := 0; f < frames; f++ {
		v := m.amplitude * math.Sin(m.phase)
		m.phase += step
		for c := 0; c < m.cfg.Format.Channels; c++ {
			switch m.cfg.Format.Encoding {
			case audio.EncodingFloat32:
				buf.Float32[c][f] = float32(v)
			case audio.EncodingInt16:
				buf.Int16[c][f] = int16(v * math.MaxInt16)
			}
		}
	}
	m.phase = math.Mod(m.phase, 2*math.Pi)
	return buf
}

// Feed offers interleaved bytes as if the hardware had delivered them. It
// reports false when capture is not running.
func (m *MockDriver) Feed(data []byte) bool {
	m.mu.Lock()
	t := m.tap
	m.mu.Unlock()

	if t == nil {
		return false
	}
	t.offer(data)
	return true
}

func (m *MockDriver) StopCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tap == nil {
		return
	}
	close(m.stopCh)
	m.tap.close()
	m.tap = nil

	m.logger.Debug("mock capture stopped", "delivered", m.stats.delivered.Load())
}

// Starts counts successful StartCapture calls.
func (m *MockDriver) Starts() int {
	return int(m.starts.Load())
}

func (m *MockDriver) Stats() Stats {
	m.mu.Lock()
	capturing := m.tap != nil
	m.mu.Unlock()

	return Stats{
		Delivered: m.stats.delivered.Load(),
		Overruns:  m.stats.overruns.Load(),
		Capturing: capturing,
		Backend:   m.Name(),
	}
}

func (m *MockDriver) Name() string {
	return string(BackendMock)
}

func (m *MockDriver) Close() error {
	m.StopCapture()
	return nil
}

var _ Driver = (*MockDriver)(nil)
