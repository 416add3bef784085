package audio

import (
	"math"
	"time"
)

// Tone synthesises a sine tone as 16-bit mono PCM. A short linear fade at both
// ends avoids clicks. levelDB is the peak level in dBFS.
func Tone(freqHz float64, d time.Duration, sampleRate int, levelDB float64) []byte {
	n := int(math.Round(d.Seconds() * float64(sampleRate)))
	if n <= 0 || sampleRate <= 0 {
		return nil
	}
	amp := DBToAmplitude(levelDB)
	fade := sampleRate / 200 // 5 ms
	if fade*2 > n {
		fade = n / 2
	}

	samples := make([]float64, n)
	for i := range n {
		g := 1.0
		if fade > 0 {
			if i < fade {
				g = float64(i) / float64(fade)
			} else if i >= n-fade {
				g = float64(n-1-i) / float64(fade)
			}
		}
		samples[i] = amp * g * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
	}
	return FromFloats(samples)
}
