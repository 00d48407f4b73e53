// Package audio converts engine samples into the byte layouts served to clients.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// maxInt16 is the scale factor for PCM16 quantization. A sample of -1.0 maps to
// -32767, one short of math.MinInt16.
const maxInt16 = math.MaxInt16

// QuantizePCM16 clamps every sample to [-1, 1], scales it by 32767 and
// truncates it to a little-endian signed 16-bit integer.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case math.IsNaN(float64(s)):
		s = 0
	}
	return int16(s * maxInt16)
}

// Float32LE serializes samples as raw little-endian IEEE-754 floats, four bytes
// per sample, without clamping or resampling.
func Float32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// ParseFloat32LE is the inverse of Float32LE.
func ParseFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("float32 payload of %d bytes is not sample aligned", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
