package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 converts normalized [-1,1] samples to int16, clipping out-of-range values.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToFloat32 decodes little-endian IEEE-754 float32 samples. A trailing
// partial sample is ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToBytes encodes samples as little-endian IEEE-754 float32 into dst,
// returning the number of bytes written.
func Float32ToBytes(dst []byte, samples []float32) int {
	n := 0
	for _, s := range samples {
		if n+4 > len(dst) {
			break
		}
		binary.LittleEndian.PutUint32(dst[n:], math.Float32bits(s))
		n += 4
	}
	return n
}
