package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples decodes signed 16-bit little-endian PCM into samples in [-1, 1).
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte, dst []float64) []float64 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return dst
}

// SamplesToBytes encodes samples as signed 16-bit little-endian PCM, hard-clipping at full scale.
func SamplesToBytes(samples []float64, dst []byte) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(toInt16(s)))
	}
	return dst
}

func toInt16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	v := math.Round(s * 32767)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root-mean-square of samples, or 0 for an empty buffer.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
