// Package mock provides a test double for executor.Executor.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxcal/internal/executor"
	"github.com/MrWong99/voxcal/internal/intent"
)

var _ executor.Executor = (*Executor)(nil)

// Executor records every Execute call and answers with Result/Err.
type Executor struct {
	mu sync.Mutex

	// Script is consumed front to back, one result per call. Result is
	// returned once it is empty.
	Script []executor.ActionResult

	// Result is returned when Err is nil.
	Result executor.ActionResult

	// Err is returned by Execute when non-nil.
	Err error

	// Delay holds each call for this long, returning early on ctx
	// cancellation.
	Delay time.Duration

	// Calls records the intents passed to Execute.
	Calls []intent.Intent
}

// Execute implements executor.Executor.
func (e *Executor) Execute(ctx context.Context, in intent.Intent) (executor.ActionResult, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, in)
	res, err, delay := e.Result, e.Err, e.Delay
	if len(e.Script) > 0 {
		res, e.Script = e.Script[0], e.Script[1:]
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return executor.ActionResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return res, err
}

// CallCount returns the number of Execute calls. Thread-safe.
func (e *Executor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// SetResult replaces the result returned by later calls. Thread-safe.
func (e *Executor) SetResult(r executor.ActionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Result = r
}
