package resilience

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

var (
	_ stt.Recognizer           = (*RecognizerChain)(nil)
	_ stt.AvailabilityReporter = (*RecognizerChain)(nil)
)

// RecognizerChain implements [stt.Recognizer] with failover across several
// engines.
//
// An engine that reports [stt.ErrEngineUnavailable] is marked unavailable
// for the lifetime of the chain and never called again. Once every engine is
// unavailable, Recognize fails with a fatal *stt.RecognitionError and the
// pipeline disables voice input.
type RecognizerChain struct {
	group *FallbackGroup[indexedRecognizer]

	mu          sync.RWMutex
	unavailable map[int]error
}

// NewRecognizerChain returns an empty chain. Register engines with Add.
func NewRecognizerChain(cfg FallbackConfig) *RecognizerChain {
	return &RecognizerChain{
		group:       NewFallbackGroup[indexedRecognizer](cfg),
		unavailable: make(map[int]error),
	}
}

// Add appends an engine. The first engine added is the primary. An engine
// that already reports itself unavailable (see [stt.AvailabilityReporter]) is
// registered but marked unavailable straight away.
func (c *RecognizerChain) Add(r stt.Recognizer, opts ...EntryOption) {
	idx := c.group.Len()
	c.group.Add(r.Name(), indexedRecognizer{index: idx, Recognizer: r}, opts...)
	if !stt.Available(r) {
		c.markUnavailable(idx, stt.Fatal(r.Name(), nil))
	}
}

type indexedRecognizer struct {
	index int
	stt.Recognizer
}

// Name implements stt.Recognizer.
func (c *RecognizerChain) Name() string {
	return "chain(" + strings.Join(c.group.Names(), ",") + ")"
}

// Available reports whether at least one engine may still succeed. It
// implements [stt.AvailabilityReporter].
func (c *RecognizerChain) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group.Len() > len(c.unavailable)
}

// Status returns the breaker state of every engine.
func (c *RecognizerChain) Status() []EntryStatus { return c.group.Status() }

// Recognize implements stt.Recognizer. The returned Transcript's Engine names
// the engine that served it.
func (c *RecognizerChain) Recognize(ctx context.Context, u stt.Utterance) (stt.Transcript, error) {
	if c.group.Len() == 0 {
		return stt.Transcript{}, stt.Fatal(c.Name(), ErrNoEntries)
	}
	t, served, err := ExecuteWithResult(ctx, c.group, func(ctx context.Context, r indexedRecognizer) (stt.Transcript, error) {
		if cause := c.unavailableCause(r.index); cause != nil {
			return stt.Transcript{}, cause
		}
		t, err := r.Recognize(ctx, u)
		if err != nil && stt.IsFatal(err) {
			c.markUnavailable(r.index, err)
		}
		return t, err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Transcript{}, ctxErr
		}
		if !c.Available() {
			return stt.Transcript{}, stt.Fatal(c.Name(), err)
		}
		return stt.Transcript{}, stt.Transient(c.Name(), err)
	}
	if t.Engine == "" {
		t.Engine = served.Name
	}
	return t, nil
}

func (c *RecognizerChain) unavailableCause(i int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unavailable[i]
}

func (c *RecognizerChain) markUnavailable(i int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.unavailable[i]; !ok {
		c.unavailable[i] = err
	}
}
