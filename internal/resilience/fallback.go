package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrNoEntries is returned by a [FallbackGroup] with nothing registered.
var ErrNoEntries = errors.New("no providers registered")

// FallbackConfig configures the entries of a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is set
	// per entry.
	CircuitBreaker CircuitBreakerConfig

	// Timeout bounds each entry call. Zero means the caller's context is
	// the only bound. Override per entry with [WithEntryTimeout].
	Timeout time.Duration
}

// EntryOption configures one entry of a [FallbackGroup].
type EntryOption func(*entryOptions)

type entryOptions struct {
	timeout time.Duration
}

// WithEntryTimeout overrides the group timeout for one entry.
func WithEntryTimeout(d time.Duration) EntryOption {
	return func(o *entryOptions) { o.timeout = d }
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	timeout time.Duration
	breaker *CircuitBreaker
}

// Attempt records one entry call made while serving a request.
type Attempt struct {
	Name    string
	Err     error
	Elapsed time.Duration
}

// Served describes which entry answered a request.
type Served struct {
	// Name of the entry that succeeded. Empty if none did.
	Name string
	// Index of that entry in registration order; -1 if none did.
	Index int
	// Attempts lists every entry tried, in order, including the successful
	// one.
	Attempts []Attempt
}

// Fallback reports whether an entry other than the first one served.
func (s Served) Fallback() bool { return s.Index > 0 }

// EntryStatus is a snapshot of one entry.
type EntryStatus struct {
	Name  string
	State State
}

// FallbackGroup holds an ordered list of interchangeable providers. Each call
// walks the list until one entry succeeds, skipping entries whose breaker is
// open.
//
// Entries must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns an empty group.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a provider. Entries are tried in the order they are added.
func (fg *FallbackGroup[T]) Add(name string, v T, opts ...EntryOption) {
	o := entryOptions{timeout: fg.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   v,
		timeout: o.timeout,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Status returns a snapshot of every entry's breaker state.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State()}
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) (Served, error) {
	_, served, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return served, err
}

// ExecuteWithResult tries fn against each entry of fg until one succeeds and
// returns its result. Each call runs under the entry's timeout. If ctx itself
// ends, the walk stops and ctx's error is returned; otherwise the error wraps
// [ErrAllFailed] and the last entry error.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, Served, error) {
	var (
		zero    R
		lastErr error
	)
	served := Served{Index: -1}
	if len(fg.entries) == 0 {
		return zero, served, ErrNoEntries
	}
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, served, err
		}
		entry := &fg.entries[i]
		var result R
		start := time.Now()
		err := entry.breaker.Execute(func() error {
			callCtx, cancel := ctx, context.CancelFunc(func() {})
			if entry.timeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, entry.timeout)
			}
			defer cancel()
			var innerErr error
			result, innerErr = fn(callCtx, entry.value)
			return innerErr
		})
		served.Attempts = append(served.Attempts, Attempt{Name: entry.name, Err: err, Elapsed: time.Since(start)})
		if err == nil {
			served.Name, served.Index = entry.name, i
			return result, served, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, served, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, served, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
