package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloor is the lowest level ever reported, in dBFS.
const SilenceFloor = -160.0

const int16Scale = 1.0 / math.MaxInt16

// Power is the loudness of one chunk in dBFS. Both fields lie in
// [SilenceFloor, 0].
type Power struct {
	Average float32 `json:"average"`
	Peak    float32 `json:"peak"`
}

// MeasurePower computes the RMS and peak magnitude of the chunk's samples.
// Int16 samples are scaled by 1/32767, float samples are used as-is.
func MeasurePower(c Chunk) Power {
	count := c.SampleCount()
	if count == 0 {
		return Power{Average: SilenceFloor, Peak: SilenceFloor}
	}

	var sum, peak float64
	switch c.Encoding {
	case EncodingFloat32:
		for i := 0; i < count; i++ {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(c.Data[i*4:])))
			if math.IsNaN(v) {
				continue
			}
			sum += v * v
			peak = math.Max(peak, math.Abs(v))
		}
	case EncodingInt16:
		for i := 0; i < count; i++ {
			v := float64(int16(binary.LittleEndian.Uint16(c.Data[i*2:]))) * int16Scale
			sum += v * v
			peak = math.Max(peak, math.Abs(v))
		}
	}

	rms := math.Sqrt(sum / float64(count))
	return Power{Average: decibels(rms), Peak: decibels(peak)}
}

func decibels(v float64) float32 {
	db := 20 * math.Log10(math.Max(v, math.SmallestNonzeroFloat32))
	if math.IsNaN(db) {
		return SilenceFloor
	}
	// samples outside [-1, 1] are clipping, not louder than full scale
	return float32(math.Min(0, math.Max(SilenceFloor, db)))
}
