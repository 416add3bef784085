package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloorDB is the level reported for digital silence. 16-bit PCM cannot
// represent anything quieter than roughly -96 dBFS.
const SilenceFloorDB = -96.0

// fullScale is the magnitude of the largest negative int16 sample.
const fullScale = 32768.0

// Samples decodes little-endian 16-bit PCM into int16 samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// FromSamples encodes int16 samples as little-endian 16-bit PCM.
func FromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Floats decodes 16-bit PCM into float64 samples normalised to [-1, 1).
func Floats(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / fullScale
	}
	return out
}

// FromFloats encodes normalised float64 samples as 16-bit PCM, clipping values
// outside [-1, 1).
func FromFloats(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := math.Round(v * fullScale)
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// RMS returns the root-mean-square amplitude of 16-bit PCM in sample units
// (0–32768). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS returns the RMS level of 16-bit PCM in decibels relative to full scale.
// Silence is reported as [SilenceFloorDB].
func DBFS(pcm []byte) float64 {
	return AmplitudeToDB(RMS(pcm) / fullScale)
}

// FloatRMS returns the RMS of normalised float samples.
func FloatRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// AmplitudeToDB converts a linear amplitude (1.0 = full scale) to dBFS, clamped
// at [SilenceFloorDB].
func AmplitudeToDB(a float64) float64 {
	if a <= 0 {
		return SilenceFloorDB
	}
	db := 20 * math.Log10(a)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}

// DBToAmplitude converts dBFS to a linear amplitude.
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}
