package audio

import (
	"encoding/binary"
	"math"
)

// Interleave flattens a planar buffer into a chunk: for each frame, for each
// channel, the sample's little-endian bytes. It reports false when the
// buffer holds no channels or no frames.
func Interleave(b *Buffer) (Chunk, bool) {
	if b == nil || b.Frames <= 0 || b.Format.Channels <= 0 {
		return Chunk{}, false
	}
	width := b.Format.Encoding.BytesPerSample()
	if width == 0 {
		return Chunk{}, false
	}

	channels := b.Format.Channels
	data := make([]byte, b.Frames*channels*width)
	off := 0

	switch b.Format.Encoding {
	case EncodingFloat32:
		if !planesFit(len(b.Float32), channels, b.Frames, func(c int) int { return len(b.Float32[c]) }) {
			return Chunk{}, false
		}
		for f := 0; f < b.Frames; f++ {
			for c := 0; c < channels; c++ {
				binary.LittleEndian.PutUint32(data[off:], math.Float32bits(b.Float32[c][f]))
				off += width
			}
		}
	case EncodingInt16:
		if !planesFit(len(b.Int16), channels, b.Frames, func(c int) int { return len(b.Int16[c]) }) {
			return Chunk{}, false
		}
		for f := 0; f < b.Frames; f++ {
			for c := 0; c < channels; c++ {
				binary.LittleEndian.PutUint16(data[off:], uint16(b.Int16[c][f]))
				off += width
			}
		}
	}

	return NewChunk(data, b.Format), true
}

// Planar rebuilds the per-channel sample arrays from the chunk's interleaved
// bytes. Trailing bytes that do not form a whole frame are ignored. It
// reports false when the chunk has no channels or no whole frames.
func (c Chunk) Planar() (*Buffer, bool) {
	width := c.Encoding.BytesPerSample()
	if c.Channels <= 0 || width == 0 {
		return nil, false
	}
	frames := c.Frames()
	if frames == 0 {
		return nil, false
	}

	buf := NewBuffer(c.Format(), frames)
	off := 0

	switch c.Encoding {
	case EncodingFloat32:
		for f := 0; f < frames; f++ {
			for ch := 0; ch < c.Channels; ch++ {
				buf.Float32[ch][f] = math.Float32frombits(binary.LittleEndian.Uint32(c.Data[off:]))
				off += width
			}
		}
	case EncodingInt16:
		for f := 0; f < frames; f++ {
			for ch := 0; ch < c.Channels; ch++ {
				buf.Int16[ch][f] = int16(binary.LittleEndian.Uint16(c.Data[off:]))
				off += width
			}
		}
	}

	return buf, true
}

func planesFit(planes, channels, frames int, planeLen func(int) int) bool {
	if planes < channels {
		return false
	}
	for c := 0; c < channels; c++ {
		if planeLen(c) < frames {
			return false
		}
	}
	return true
}
