// Package capture accumulates microphone frames for one utterance and decides
// when the utterance is over.
//
// A [Buffer] applies the silence policy: the utterance ends once no frame has
// been louder than the silence threshold for the configured silence window,
// or once the hard duration cap is reached. A [NoiseEstimator] classifies
// ambient loudness over the opening window of a capture so the controller
// can refuse to record in a room that is too loud.
package capture

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// NoiseClass is a loudness band.
type NoiseClass int

const (
	NoiseSilent NoiseClass = iota
	NoiseLow
	NoiseModerate
	NoiseHigh
	NoiseVeryLoud
)

// String implements fmt.Stringer.
func (c NoiseClass) String() string {
	switch c {
	case NoiseSilent:
		return "silent"
	case NoiseLow:
		return "low"
	case NoiseModerate:
		return "moderate"
	case NoiseHigh:
		return "high"
	case NoiseVeryLoud:
		return "very_loud"
	default:
		return fmt.Sprintf("NoiseClass(%d)", int(c))
	}
}

// Band boundaries in dBFS RMS. A level equal to a boundary belongs to the
// quieter band.
const (
	silentBelowDB  = -50.0
	lowUpToDB      = -35.0
	moderateUpToDB = -20.0
	highUpToDB     = -10.0
)

// DefaultNoiseWindow is how much opening audio the estimator looks at.
const DefaultNoiseWindow = 500 * time.Millisecond

// Level is the outcome of a noise classification.
type Level struct {
	DB    float64
	Class NoiseClass
}

// ClassifyDB maps a dBFS level onto its band.
func ClassifyDB(db float64) NoiseClass {
	switch {
	case db < silentBelowDB:
		return NoiseSilent
	case db <= lowUpToDB:
		return NoiseLow
	case db <= moderateUpToDB:
		return NoiseModerate
	case db <= highUpToDB:
		return NoiseHigh
	default:
		return NoiseVeryLoud
	}
}

// NoiseEstimator classifies the loudness of the opening window of a capture.
// Feed frames with Add until it reports done; the zero value is not usable,
// create one with [NewNoiseEstimator].
type NoiseEstimator struct {
	window  time.Duration
	sumSq   float64
	samples int
	elapsed time.Duration
}

// NewNoiseEstimator returns an estimator over the given window. A window of
// zero selects [DefaultNoiseWindow].
func NewNoiseEstimator(window time.Duration) *NoiseEstimator {
	if window <= 0 {
		window = DefaultNoiseWindow
	}
	return &NoiseEstimator{window: window}
}

// Classify returns the level of a block of 16-bit PCM.
func (n *NoiseEstimator) Classify(window []byte) Level {
	db := audio.DBFS(window)
	return Level{DB: db, Class: ClassifyDB(db)}
}

// Add folds a frame into the running estimate and returns the level so far.
// done is true once the window has been covered; later calls keep returning
// the final level without changing it.
func (n *NoiseEstimator) Add(f audio.Frame) (lvl Level, done bool) {
	if n.elapsed < n.window {
		for _, s := range audio.Samples(f.Data) {
			v := float64(s) / 32768
			n.sumSq += v * v
		}
		n.samples += len(f.Data) / 2
		n.elapsed += f.Duration()
	}
	db := audio.SilenceFloorDB
	if n.samples > 0 && n.sumSq > 0 {
		db = audio.AmplitudeToDB(math.Sqrt(n.sumSq / float64(n.samples)))
	}
	return Level{DB: db, Class: ClassifyDB(db)}, n.elapsed >= n.window
}

// Elapsed returns how much audio has been folded in.
func (n *NoiseEstimator) Elapsed() time.Duration { return n.elapsed }
