package cleaner

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/voxcal/pkg/audio"
)

var (
	errAllSilent  = errors.New("no audio above trim threshold")
	errZeroSignal = errors.New("silent buffer")
)

// trim removes leading and trailing audio quieter than the trim threshold,
// keeping TrimPadding on either side of the voiced region.
func (c *Cleaner) trim(x []float64, rate int, d *Diagnostics) ([]float64, error) {
	win := rate / 100
	if win <= 0 {
		win = 1
	}
	thr := audio.DBToAmplitude(c.cfg.TrimThresholdDB)
	first, last := -1, -1
	for i := 0; i < len(x); i += win {
		end := min(i+win, len(x))
		if audio.FloatRMS(x[i:end]) > thr {
			if first < 0 {
				first = i
			}
			last = end
		}
	}
	if first < 0 {
		return nil, errAllSilent
	}
	pad := int(c.cfg.TrimPadding.Seconds() * float64(rate))
	lo := max(first-pad, 0)
	hi := min(last+pad, len(x))
	d.Trimmed = audio.PCMDuration((len(x)-(hi-lo))*2, rate, 1)
	return x[lo:hi], nil
}

// normalize scales x to the target RMS, reducing the gain if the peak would
// exceed the peak limit.
func (c *Cleaner) normalize(x []float64, _ int, d *Diagnostics) ([]float64, error) {
	rms := audio.FloatRMS(x)
	if rms == 0 {
		return nil, errZeroSignal
	}
	gainDB := c.cfg.TargetRMSDB - audio.AmplitudeToDB(rms)
	if gainDB > c.cfg.MaxGainDB {
		gainDB = c.cfg.MaxGainDB
	}
	gain := audio.DBToAmplitude(gainDB)

	var peak float64
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	if limit := audio.DBToAmplitude(c.cfg.PeakLimitDB); peak*gain > limit {
		gain = limit / peak
	}
	floats.Scale(gain, x)
	d.GainDB = 20 * math.Log10(gain)
	return x, nil
}

// bandLimit applies the high-pass, mains notch and low-pass filters.
func (c *Cleaner) bandLimit(x []float64, rate int, d *Diagnostics) ([]float64, error) {
	nyquist := float64(rate) / 2
	if c.cfg.HighPassHz >= nyquist {
		return nil, fmt.Errorf("high-pass %.0f Hz above nyquist %.0f Hz", c.cfg.HighPassHz, nyquist)
	}
	var names []string

	hp := highPass(c.cfg.HighPassHz, float64(rate))
	hp.process(x)
	names = append(names, fmt.Sprintf("highpass_%.0fhz", c.cfg.HighPassHz))

	if c.cfg.MainsHz < nyquist {
		n := notch(c.cfg.MainsHz, float64(rate), 30)
		n.process(x)
		names = append(names, fmt.Sprintf("notch_%.0fhz", c.cfg.MainsHz))
	}

	lp := math.Min(c.cfg.LowPassHz, 0.9*nyquist)
	if lp > c.cfg.HighPassHz {
		f := lowPass(lp, float64(rate))
		f.process(x)
		names = append(names, fmt.Sprintf("lowpass_%.0fhz", lp))
	}
	d.Filters = names
	return x, nil
}
