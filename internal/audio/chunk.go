// Package audio holds the sample buffer model shared by capture, metering,
// broadcast and file writing.
package audio

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SampleEncoding is the bit-level representation of one sample.
type SampleEncoding string

const (
	EncodingFloat32 SampleEncoding = "float32"
	EncodingInt16   SampleEncoding = "int16"
)

// ParseEncoding accepts the config spellings of a sample encoding.
func ParseEncoding(s string) (SampleEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32", "float":
		return EncodingFloat32, nil
	case "int16", "s16", "i16":
		return EncodingInt16, nil
	default:
		return "", fmt.Errorf("unknown sample encoding: %q (valid: float32, int16)", s)
	}
}

// BytesPerSample returns the sample width, or 0 for an unknown encoding.
func (e SampleEncoding) BytesPerSample() int {
	switch e {
	case EncodingFloat32:
		return 4
	case EncodingInt16:
		return 2
	default:
		return 0
	}
}

// Format describes the layout of captured samples.
type Format struct {
	SampleRate float64        `json:"sample_rate" yaml:"sample_rate"`
	Channels   int            `json:"channels" yaml:"channels"`
	Encoding   SampleEncoding `json:"encoding" yaml:"encoding"`
}

// Validate checks that the format can describe real audio.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("unsupported sample encoding: %q", f.Encoding)
	}
	return nil
}

// FrameBytes is the size of one interleaved frame (all channels).
func (f Format) FrameBytes() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

func (f Format) String() string {
	return fmt.Sprintf("%gHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// Buffer is a hardware-style planar block: one sample slice per channel.
// Only the slice set matching Format.Encoding is populated.
type Buffer struct {
	Format  Format
	Frames  int
	Float32 [][]float32
	Int16   [][]int16
}

// NewBuffer allocates a zeroed planar buffer.
func NewBuffer(f Format, frames int) *Buffer {
	b := &Buffer{Format: f, Frames: frames}
	switch f.Encoding {
	case EncodingFloat32:
		b.Float32 = make([][]float32, f.Channels)
		for c := range b.Float32 {
			b.Float32[c] = make([]float32, frames)
		}
	case EncodingInt16:
		b.Int16 = make([][]int16, f.Channels)
		for c := range b.Int16 {
			b.Int16[c] = make([]int16, frames)
		}
	}
	return b
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.Format.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames) / b.Format.SampleRate
}

// Chunk is one block of interleaved sample bytes plus its format. It is the
// unit handed to live consumers; every consumer gets its own copy.
type Chunk struct {
	Data       []byte         `json:"-"`
	SampleRate float64        `json:"sample_rate"`
	Channels   int            `json:"channels"`
	Duration   float64        `json:"duration"`
	Encoding   SampleEncoding `json:"encoding"`
}

// NewChunk wraps interleaved bytes, truncating any trailing partial frame.
// The slice is not copied.
func NewChunk(data []byte, f Format) Chunk {
	c := Chunk{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Encoding:   f.Encoding,
	}
	if fb := f.FrameBytes(); fb > 0 {
		c.Data = data[:len(data)/fb*fb]
	}
	if f.SampleRate > 0 {
		c.Duration = float64(c.Frames()) / f.SampleRate
	}
	return c
}

// Format returns the chunk's sample layout.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels, Encoding: c.Encoding}
}

// SampleCount is the number of samples across all channels.
func (c Chunk) SampleCount() int {
	width := c.Encoding.BytesPerSample()
	if width == 0 {
		return 0
	}
	return len(c.Data) / width
}

// Frames is the number of whole frames in the chunk.
func (c Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return c.SampleCount() / c.Channels
}

// Length is the chunk's duration rounded to the nearest nanosecond.
func (c Chunk) Length() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(c.Frames()) * float64(time.Second) / c.SampleRate))
}

// Clone returns a chunk that shares no memory with c.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Data != nil {
		out.Data = make([]byte, len(c.Data))
		copy(out.Data, c.Data)
	}
	return out
}
