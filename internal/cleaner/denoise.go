package cleaner

import (
	"errors"
	"fmt"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// noiseProfile is the mean magnitude spectrum of background noise, measured
// with Hann-windowed frames of size.
type noiseProfile struct {
	rate int
	size int
	mag  []float64
	db   float64
}

var errShortNoise = errors.New("cleaner: noise sample shorter than one analysis frame")

// fftSize returns the analysis frame length for rate: the smallest power of
// two covering about 32 ms.
func fftSize(rate int) int {
	n := 256
	for n < rate/32 {
		n <<= 1
	}
	return n
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)
}

// LearnNoise measures the background noise in a sample of silence, typically
// the pause that confirms a wake word. Later calls to Clean subtract it.
func (c *Cleaner) LearnNoise(pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("cleaner: learn noise: invalid sample rate %d", sampleRate)
	}
	p, err := buildProfile(audio.Floats(pcm), sampleRate)
	if err != nil {
		return err
	}
	p.db = audio.DBFS(pcm)
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
	return nil
}

// HasNoiseProfile reports whether LearnNoise has succeeded.
func (c *Cleaner) HasNoiseProfile() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile != nil
}

func (c *Cleaner) currentProfile() *noiseProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func buildProfile(x []float64, rate int) (*noiseProfile, error) {
	n := fftSize(rate)
	if len(x) < n {
		return nil, errShortNoise
	}
	frames := frameStarts(len(x), n)
	return profileOf(x, rate, n, frames), nil
}

// frameStarts returns the start of every full frame at 50 % overlap.
func frameStarts(length, n int) []int {
	var out []int
	for s := 0; s+n <= length; s += n / 2 {
		out = append(out, s)
	}
	return out
}

func profileOf(x []float64, rate, n int, starts []int) *noiseProfile {
	fft := fourier.NewFFT(n)
	win := hann(n)
	frame := make([]float64, n)
	coeff := make([]complex128, n/2+1)
	mag := make([]float64, n/2+1)
	for _, s := range starts {
		for i := range frame {
			frame[i] = x[s+i] * win[i]
		}
		fft.Coefficients(coeff, frame)
		for k, cv := range coeff {
			mag[k] += cmplx.Abs(cv)
		}
	}
	for k := range mag {
		mag[k] /= float64(len(starts))
	}
	return &noiseProfile{rate: rate, size: n, mag: mag}
}

// estimateProfile builds a profile from the quietest fifth of the frames in
// x. It is used when no noise sample was learned.
func estimateProfile(x []float64, rate int) (*noiseProfile, error) {
	n := fftSize(rate)
	starts := frameStarts(len(x), n)
	if len(starts) < 5 {
		return nil, errShortNoise
	}
	type ranked struct {
		start int
		rms   float64
	}
	r := make([]ranked, len(starts))
	for i, s := range starts {
		r[i] = ranked{s, audio.FloatRMS(x[s : s+n])}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].rms < r[j].rms })
	keep := make([]int, 0, len(r)/5)
	for _, e := range r[:len(r)/5] {
		keep = append(keep, e.start)
	}
	p := profileOf(x, rate, n, keep)
	p.db = audio.AmplitudeToDB(r[len(r)/10].rms)
	return p, nil
}

// denoise applies magnitude spectral subtraction with weighted overlap-add.
func (c *Cleaner) denoise(x []float64, rate int, d *Diagnostics) ([]float64, error) {
	p := c.currentProfile()
	if p == nil || p.rate != rate {
		var err error
		if p, err = estimateProfile(x, rate); err != nil {
			return nil, fmt.Errorf("no noise profile: %w", err)
		}
	}
	d.NoiseFloorDB = p.db

	n := p.size
	if len(x) < n {
		return nil, errors.New("buffer shorter than one analysis frame")
	}
	fft := fourier.NewFFT(n)
	win := hann(n)
	frame := make([]float64, n)
	back := make([]float64, n)
	coeff := make([]complex128, n/2+1)
	out := make([]float64, len(x))
	wsum := make([]float64, len(x))

	for start := 0; ; start += n / 2 {
		for i := range frame {
			if start+i < len(x) {
				frame[i] = x[start+i] * win[i]
			} else {
				frame[i] = 0
			}
		}
		fft.Coefficients(coeff, frame)
		for k, cv := range coeff {
			mag := cmplx.Abs(cv)
			if mag == 0 {
				continue
			}
			clean := mag - c.cfg.OverSubtraction*p.mag[k]
			if floor := c.cfg.SpectralFloor * mag; clean < floor {
				clean = floor
			}
			coeff[k] = cv * complex(clean/mag, 0)
		}
		fft.Sequence(back, coeff)
		for i := 0; i < n && start+i < len(x); i++ {
			out[start+i] += back[i] / float64(n)
			wsum[start+i] += win[i]
		}
		if start+n >= len(x) {
			break
		}
	}
	for i := range out {
		if wsum[i] > 1e-3 {
			out[i] /= wsum[i]
		} else {
			out[i] = x[i]
		}
	}
	return out, nil
}
