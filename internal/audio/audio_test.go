package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterleave_FrameMajorOrder(t *testing.T) {
	buf := NewBuffer(Format{SampleRate: 8000, Channels: 2, Encoding: EncodingInt16}, 2)
	buf.Int16[0] = []int16{1, 2}
	buf.Int16[1] = []int16{3, 4}

	chunk, ok := Interleave(buf)
	require.True(t, ok)
	require.Len(t, chunk.Data, 8)

	var got []int16
	for i := 0; i < 4; i++ {
		got = append(got, int16(binary.LittleEndian.Uint16(chunk.Data[i*2:])))
	}
	assert.Equal(t, []int16{1, 3, 2, 4}, got)
	assert.Equal(t, 2, chunk.Frames())
	assert.InDelta(t, 2.0/8000, chunk.Duration, 1e-12)
}

func TestInterleave_RoundTrip(t *testing.T) {
	t.Run("float32", func(t *testing.T) {
		buf := NewBuffer(Format{SampleRate: 48000, Channels: 2, Encoding: EncodingFloat32}, 64)
		for f := 0; f < 64; f++ {
			buf.Float32[0][f] = float32(math.Sin(float64(f) / 5))
			buf.Float32[1][f] = float32(-f) / 64
		}

		chunk, ok := Interleave(buf)
		require.True(t, ok)
		back, ok := chunk.Planar()
		require.True(t, ok)
		assert.Equal(t, buf.Float32, back.Float32)
		assert.Equal(t, buf.Format, back.Format)
	})

	t.Run("int16", func(t *testing.T) {
		buf := NewBuffer(Format{SampleRate: 44100, Channels: 3, Encoding: EncodingInt16}, 10)
		for c := 0; c < 3; c++ {
			for f := 0; f < 10; f++ {
				buf.Int16[c][f] = int16((c+1)*1000 - f*7000)
			}
		}

		chunk, ok := Interleave(buf)
		require.True(t, ok)
		back, ok := chunk.Planar()
		require.True(t, ok)
		assert.Equal(t, buf.Int16, back.Int16)
	})
}

func TestInterleave_RejectsEmpty(t *testing.T) {
	_, ok := Interleave(nil)
	assert.False(t, ok)

	_, ok = Interleave(NewBuffer(Format{SampleRate: 8000, Channels: 1, Encoding: EncodingInt16}, 0))
	assert.False(t, ok)

	_, ok = Interleave(&Buffer{Format: Format{SampleRate: 8000, Channels: 0, Encoding: EncodingInt16}, Frames: 4})
	assert.False(t, ok)

	short := &Buffer{Format: Format{SampleRate: 8000, Channels: 2, Encoding: EncodingInt16}, Frames: 4, Int16: [][]int16{{1, 2, 3, 4}}}
	_, ok = Interleave(short)
	assert.False(t, ok)
}

func TestNewChunk_TruncatesPartialFrame(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 2, Encoding: EncodingInt16}
	c := NewChunk(make([]byte, 11), f)
	assert.Len(t, c.Data, 8)
	assert.Equal(t, 2, c.Frames())

	_, ok := NewChunk(make([]byte, 3), f).Planar()
	assert.False(t, ok)
}

func TestChunkLength(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, Encoding: EncodingInt16}
	assert.Equal(t, time.Second, NewChunk(make([]byte, 32000), f).Length())
	assert.Equal(t, 50*time.Millisecond, NewChunk(make([]byte, 1600), f).Length())
	assert.Zero(t, Chunk{}.Length())
}

func TestChunkClone_DoesNotAlias(t *testing.T) {
	c := NewChunk([]byte{1, 2, 3, 4}, Format{SampleRate: 1000, Channels: 1, Encoding: EncodingInt16})
	clone := c.Clone()
	clone.Data[0] = 9
	assert.Equal(t, byte(1), c.Data[0])
}

func TestMeasurePower(t *testing.T) {
	mono16 := Format{SampleRate: 1000, Channels: 1, Encoding: EncodingInt16}
	monoF := Format{SampleRate: 1000, Channels: 1, Encoding: EncodingFloat32}

	t.Run("empty chunk is the floor", func(t *testing.T) {
		p := MeasurePower(NewChunk(nil, mono16))
		assert.Equal(t, Power{Average: SilenceFloor, Peak: SilenceFloor}, p)
	})

	t.Run("digital silence is the floor", func(t *testing.T) {
		p := MeasurePower(NewChunk(make([]byte, 64), mono16))
		assert.Equal(t, float32(SilenceFloor), p.Average)
		assert.Equal(t, float32(SilenceFloor), p.Peak)
	})

	t.Run("full scale int16", func(t *testing.T) {
		buf := NewBuffer(mono16, 8)
		for i := range buf.Int16[0] {
			buf.Int16[0][i] = math.MaxInt16
			if i%2 == 1 {
				buf.Int16[0][i] = -math.MaxInt16
			}
		}
		chunk, ok := Interleave(buf)
		require.True(t, ok)
		p := MeasurePower(chunk)
		assert.InDelta(t, 0, p.Average, 1e-4)
		assert.InDelta(t, 0, p.Peak, 1e-4)
	})

	t.Run("half scale float", func(t *testing.T) {
		buf := NewBuffer(monoF, 16)
		for i := range buf.Float32[0] {
			buf.Float32[0][i] = 0.5
		}
		chunk, ok := Interleave(buf)
		require.True(t, ok)
		p := MeasurePower(chunk)
		assert.InDelta(t, -6.0206, p.Average, 1e-3)
		assert.InDelta(t, -6.0206, p.Peak, 1e-3)
	})

	t.Run("clipping reads as full scale", func(t *testing.T) {
		buf := NewBuffer(monoF, 4)
		for i := range buf.Float32[0] {
			buf.Float32[0][i] = 2
		}
		chunk, _ := Interleave(buf)
		p := MeasurePower(chunk)
		assert.Equal(t, float32(0), p.Peak)
		assert.Equal(t, float32(0), p.Average)
	})

	t.Run("peak is never below average", func(t *testing.T) {
		buf := NewBuffer(monoF, 100)
		for i := range buf.Float32[0] {
			buf.Float32[0][i] = float32(math.Sin(float64(i)/3)) * 0.3
		}
		chunk, _ := Interleave(buf)
		p := MeasurePower(chunk)
		assert.GreaterOrEqual(t, p.Peak, p.Average)
		assert.GreaterOrEqual(t, p.Average, float32(SilenceFloor))
		assert.LessOrEqual(t, p.Peak, float32(0))
	})
}

func TestDownmix(t *testing.T) {
	buf := NewBuffer(Format{SampleRate: 8000, Channels: 2, Encoding: EncodingFloat32}, 3)
	buf.Float32[0] = []float32{1, 0.5, -1}
	buf.Float32[1] = []float32{0, 0.5, 1}

	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, Downmix(buf), 1e-9)
	assert.Nil(t, Downmix(nil))
}

func TestResampler_BlockwiseMatchesWhole(t *testing.T) {
	stream := make([]float64, 40)
	for i := range stream {
		stream[i] = math.Sin(float64(i) / 4)
	}

	for _, ratio := range []struct{ from, to float64 }{{88200, 44100}, {22050, 44100}} {
		whole := NewResampler(ratio.from, ratio.to).Process(stream)

		r := NewResampler(ratio.from, ratio.to)
		var pieces []float64
		for _, cut := range [][2]int{{0, 7}, {7, 20}, {20, 21}, {21, 40}} {
			pieces = append(pieces, r.Process(stream[cut[0]:cut[1]])...)
		}

		require.Len(t, pieces, len(whole), "ratio %v->%v", ratio.from, ratio.to)
		assert.InDeltaSlice(t, whole, pieces, 1e-9)
	}
}

func TestResampler_Lengths(t *testing.T) {
	in := make([]float64, 10)
	assert.Len(t, NewResampler(44100, 44100).Process(in), 10)
	assert.Len(t, NewResampler(88200, 44100).Process(in), 5)
	// upsampling stops one short of the last input sample
	assert.Len(t, NewResampler(22050, 44100).Process(in), 18)
}

func TestQuantizeInt16(t *testing.T) {
	got := QuantizeInt16([]float64{0, 1, -1, 2, -2, 0.5, math.NaN()})
	assert.Equal(t, []int{0, 32767, -32767, 32767, -32768, 16384, 0}, got)
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding("F32")
	require.NoError(t, err)
	assert.Equal(t, EncodingFloat32, e)

	_, err = ParseEncoding("mulaw")
	assert.Error(t, err)
}
