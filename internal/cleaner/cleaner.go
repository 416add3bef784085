// Package cleaner prepares a captured utterance for speech recognition.
//
// Clean runs four stages in order: spectral noise subtraction, silence trim,
// loudness normalisation and band limiting. A stage that fails leaves the
// audio as it found it and records the reason in [Diagnostics]; cleaning
// never fails a turn. The only error Clean returns is context cancellation.
package cleaner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// Stage names as they appear in [Diagnostics].
const (
	StageDenoise   = "denoise"
	StageTrim      = "trim"
	StageNormalize = "normalize"
	StageBandLimit = "band_limit"
)

// Config holds the cleaner parameters. Zero fields take the defaults from
// [DefaultConfig].
type Config struct {
	// TrimThresholdDB is the level below which head and tail audio is
	// considered silence.
	TrimThresholdDB float64
	// TrimPadding is kept on either side of the voiced region.
	TrimPadding time.Duration

	// TargetRMSDB is the normalisation target.
	TargetRMSDB float64
	// PeakLimitDB caps the sample peak after gain.
	PeakLimitDB float64
	// MaxGainDB caps the gain applied to very quiet input.
	MaxGainDB float64

	// HighPassHz removes rumble below this frequency.
	HighPassHz float64
	// LowPassHz removes content above this frequency. It is clamped below
	// the Nyquist frequency of the input.
	LowPassHz float64
	// MainsHz is the mains hum frequency to notch out (50 or 60).
	MainsHz float64

	// OverSubtraction scales the noise profile before it is subtracted.
	OverSubtraction float64
	// SpectralFloor is the fraction of the original magnitude always kept.
	SpectralFloor float64
}

// DefaultConfig returns the standard cleaning parameters.
func DefaultConfig() Config {
	return Config{
		TrimThresholdDB: -40,
		TrimPadding:     100 * time.Millisecond,
		TargetRMSDB:     -20,
		PeakLimitDB:     -3,
		MaxGainDB:       30,
		HighPassHz:      80,
		LowPassHz:       8000,
		MainsHz:         50,
		OverSubtraction: 1.5,
		SpectralFloor:   0.08,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrimThresholdDB == 0 {
		c.TrimThresholdDB = d.TrimThresholdDB
	}
	if c.TrimPadding <= 0 {
		c.TrimPadding = d.TrimPadding
	}
	if c.TargetRMSDB == 0 {
		c.TargetRMSDB = d.TargetRMSDB
	}
	if c.PeakLimitDB == 0 {
		c.PeakLimitDB = d.PeakLimitDB
	}
	if c.MaxGainDB <= 0 {
		c.MaxGainDB = d.MaxGainDB
	}
	if c.HighPassHz <= 0 {
		c.HighPassHz = d.HighPassHz
	}
	if c.LowPassHz <= 0 {
		c.LowPassHz = d.LowPassHz
	}
	if c.MainsHz <= 0 {
		c.MainsHz = d.MainsHz
	}
	if c.OverSubtraction <= 0 {
		c.OverSubtraction = d.OverSubtraction
	}
	if c.SpectralFloor <= 0 {
		c.SpectralFloor = d.SpectralFloor
	}
	return c
}

// SkippedStage records a stage that passed audio through unchanged.
type SkippedStage struct {
	Stage  string
	Reason string
}

// Diagnostics describes what Clean did. It is informational only.
type Diagnostics struct {
	// InputDB and OutputDB are the RMS levels before and after cleaning.
	InputDB  float64
	OutputDB float64
	// NoiseFloorDB is the level of the noise profile used for subtraction,
	// or of the quietest 10 ms of input when no profile was available.
	NoiseFloorDB float64
	// GainDB is the normalisation gain.
	GainDB float64
	// Trimmed is the total audio removed from head and tail.
	Trimmed time.Duration
	// Applied lists the stages that ran, in order.
	Applied []string
	// Filters lists the band-limit filters applied, e.g. "highpass_80hz".
	Filters []string
	// Skipped lists stages that failed and were bypassed.
	Skipped []SkippedStage
	// Elapsed is the wall time spent cleaning.
	Elapsed time.Duration
}

// CleanedAudio is processed PCM ready for recognition.
type CleanedAudio struct {
	PCM         []byte
	SampleRate  int
	Diagnostics Diagnostics
}

// Duration returns the playback length of the cleaned audio.
func (c CleanedAudio) Duration() time.Duration {
	return audio.PCMDuration(len(c.PCM), c.SampleRate, 1)
}

// Cleaner runs the cleaning stages. It is safe for concurrent use.
type Cleaner struct {
	cfg Config

	mu      sync.RWMutex
	profile *noiseProfile
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithConfig replaces the cleaner parameters.
func WithConfig(cfg Config) Option {
	return func(c *Cleaner) { c.cfg = cfg.withDefaults() }
}

// New returns a Cleaner.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{cfg: DefaultConfig()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the effective parameters.
func (c *Cleaner) Config() Config { return c.cfg }

type stage struct {
	name string
	run  func(samples []float64, rate int, d *Diagnostics) ([]float64, error)
}

// Clean processes mono 16-bit PCM at sampleRate.
func (c *Cleaner) Clean(ctx context.Context, pcm []byte, sampleRate int) (CleanedAudio, error) {
	start := time.Now()
	var d Diagnostics
	d.InputDB = audio.DBFS(pcm)
	d.NoiseFloorDB = quietestDB(pcm, sampleRate)

	stages := []stage{
		{StageDenoise, c.denoise},
		{StageTrim, c.trim},
		{StageNormalize, c.normalize},
		{StageBandLimit, c.bandLimit},
	}

	samples := audio.Floats(pcm)
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return CleanedAudio{}, err
		}
		out, err := runStage(st, samples, sampleRate, &d)
		if err != nil {
			d.Skipped = append(d.Skipped, SkippedStage{Stage: st.name, Reason: err.Error()})
			slog.Debug("cleaner stage skipped", "stage", st.name, "err", err)
			continue
		}
		samples = out
		d.Applied = append(d.Applied, st.name)
	}

	out := audio.FromFloats(samples)
	d.OutputDB = audio.DBFS(out)
	d.Elapsed = time.Since(start)
	return CleanedAudio{PCM: out, SampleRate: sampleRate, Diagnostics: d}, nil
}

// runStage calls st on a copy of samples so a failing stage cannot leave
// partial writes behind. A panicking stage counts as failed.
func runStage(st stage, samples []float64, rate int, d *Diagnostics) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty buffer")
	}
	in := make([]float64, len(samples))
	copy(in, samples)
	return st.run(in, rate, d)
}

// quietestDB returns the level of the quietest 10 ms window of pcm.
func quietestDB(pcm []byte, rate int) float64 {
	win := rate / 100 * 2
	if win <= 0 || len(pcm) < win {
		return audio.DBFS(pcm)
	}
	lowest := 0.0
	for i := 0; i+win <= len(pcm); i += win {
		db := audio.DBFS(pcm[i : i+win])
		if i == 0 || db < lowest {
			lowest = db
		}
	}
	return lowest
}
