// Package mock provides a test double for the stt.Recognizer interface.
//
// Results are served from a script: each Recognize call pops the next
// [Result]; once the script is exhausted the Default result repeats.
//
// Example:
//
//	r := &mock.Recognizer{
//	    Script: []mock.Result{
//	        {Transcript: stt.Transcript{Text: "mumble", Confidence: 0.3, IsFinal: true}},
//	        {Transcript: stt.Transcript{Text: "add lunch", Confidence: 0.9, IsFinal: true}},
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// Result is one scripted Recognize outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error

	// Delay holds the call for this long before answering. The call returns
	// ctx.Err() early if ctx is cancelled first.
	Delay time.Duration
}

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Utterance is the utterance passed in. PCM is copied.
	Utterance stt.Utterance
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Script is consumed front to back, one entry per call.
	Script []Result

	// Default is returned once Script is empty.
	Default Result

	// Block makes every call wait for ctx cancellation. Used to test that
	// recognition aborts on Stop.
	Block bool

	// Calls records every call to Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the next scripted result.
func (r *Recognizer) Recognize(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	r.mu.Lock()
	pcm := make([]byte, len(u.PCM))
	copy(pcm, u.PCM)
	u.PCM = pcm
	r.Calls = append(r.Calls, RecognizeCall{Utterance: u})
	res := r.Default
	if len(r.Script) > 0 {
		res = r.Script[0]
		r.Script = r.Script[1:]
	}
	block := r.Block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if res.Delay > 0 {
		t := time.NewTimer(res.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		case <-t.C:
		}
	}
	if res.Err == nil && res.Transcript.Engine == "" {
		res.Transcript.Engine = r.Name()
	}
	return res.Transcript, res.Err
}

// Name implements stt.Recognizer.
func (r *Recognizer) Name() string {
	if r.EngineName == "" {
		return "mock"
	}
	return r.EngineName
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
