package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup[T any](cfg FallbackConfig, entries ...T) *FallbackGroup[T] {
	fg := NewFallbackGroup[T](cfg)
	for i, e := range entries {
		fg.Add([]string{"primary", "secondary", "tertiary"}[i], e)
	}
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}, "primary", "secondary")

	var called string
	served, err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" || served.Name != "primary" || served.Fallback() {
		t.Fatalf("called = %q served = %+v, want primary", called, served)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}, "primary", "secondary")

	served, err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served.Name != "secondary" || !served.Fallback() {
		t.Fatalf("served = %+v, want secondary fallback", served)
	}
	if len(served.Attempts) != 2 || !errors.Is(served.Attempts[0].Err, errTest) {
		t.Errorf("attempts = %+v", served.Attempts)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}, "primary", "secondary")

	served, err := fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
	if served.Index != -1 {
		t.Errorf("index = %d, want -1", served.Index)
	}
}

func TestFallbackGroup_Empty(t *testing.T) {
	fg := NewFallbackGroup[string](FallbackConfig{})
	if _, err := fg.Execute(context.Background(), func(context.Context, string) error { return nil }); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("err = %v, want ErrNoEntries", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}}, "primary", "secondary")

	for i := 0; i < 2; i++ {
		_, _ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if st := fg.Status(); st[0].State != StateOpen || st[1].State != StateClosed {
		t.Fatalf("status = %+v", st)
	}

	var called []string
	_, err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want only secondary", called)
	}
}

func TestFallbackGroup_EntryTimeout(t *testing.T) {
	fg := NewFallbackGroup[time.Duration](FallbackConfig{Timeout: 20 * time.Millisecond})
	fg.Add("slow", time.Second)
	fg.Add("fast", 0, WithEntryTimeout(time.Second))

	start := time.Now()
	res, served, err := ExecuteWithResult(context.Background(), fg, func(ctx context.Context, d time.Duration) (string, error) {
		select {
		case <-time.After(d):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "done" || served.Name != "fast" {
		t.Fatalf("res = %q served = %q", res, served.Name)
	}
	if !errors.Is(served.Attempts[0].Err, context.DeadlineExceeded) {
		t.Errorf("slow attempt err = %v, want deadline exceeded", served.Attempts[0].Err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("took %v, entry timeout not applied", elapsed)
	}
}

func TestFallbackGroup_CallerCancelStopsWalk(t *testing.T) {
	fg := newGroup(FallbackConfig{}, "primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := fg.Execute(ctx, func(ctx context.Context, _ string) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if fg.Status()[0].State != StateClosed {
		t.Error("cancellation counted against the primary")
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup[int](FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fg.Add("ten", 10)
	fg.Add("twenty", 20)

	result, _, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
	if got := fg.Names(); len(got) != 2 || got[1] != "twenty" {
		t.Errorf("names = %v", got)
	}
}
