// Package mock provides a test double for the wake.Detector interface.
package mock

import (
	"sync"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/wake"
)

// Detector is a mock wake.Detector. Detect returns the next value of Scores,
// then 0 once the script is exhausted. Trigger queues a score for the next
// call.
type Detector struct {
	mu sync.Mutex

	// Scores is consumed front to back, one score per frame.
	Scores []float64

	// FrameCount is the number of Detect calls.
	FrameCount int

	// ResetCount is the number of Reset calls.
	ResetCount int
}

// Detect implements wake.Detector.
func (d *Detector) Detect(audio.Frame) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FrameCount++
	if len(d.Scores) == 0 {
		return 0
	}
	s := d.Scores[0]
	d.Scores = d.Scores[1:]
	return s
}

// Trigger makes the next Detect call return score.
func (d *Detector) Trigger(score float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Scores = append([]float64{score}, d.Scores...)
}

// Reset implements wake.Detector.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCount++
}

// Frames returns the number of Detect calls. Thread-safe.
func (d *Detector) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.FrameCount
}

var _ wake.Detector = (*Detector)(nil)
