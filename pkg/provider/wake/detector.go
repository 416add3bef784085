// Package wake defines the Detector interface for wake phrase detection.
//
// A Detector sees every microphone frame while the pipeline is idle and
// returns a confidence in [0, 1] that the wake phrase was just spoken. The
// pipeline compares it against its sensitivity threshold.
//
// Detectors must never expose the wake phrase itself: not in logs, errors,
// or metrics.
package wake

import "github.com/MrWong99/voxcal/pkg/audio"

// Detector scores incoming frames for the wake phrase.
type Detector interface {
	// Detect consumes one frame and returns the current wake confidence.
	// It must run in time proportional to the frame length and must not
	// block on I/O or model inference.
	Detect(f audio.Frame) float64

	// Reset discards any partially accumulated audio and pending scores.
	// The pipeline calls it whenever it returns to idle.
	Reset()
}
