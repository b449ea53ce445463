package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	failN(cb, 3)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	var called bool
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	failN(cb, 2)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	failN(cb, 2)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after interleaved success, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second, Now: clock.Now})
	failN(cb, 1)

	clock.Advance(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailure_Reopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second, Now: clock.Now})
	failN(cb, 1)
	clock.Advance(11 * time.Second)
	failN(cb, 1)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open after failed trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "regions",
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	failN(cb, 1)
	cb.Reset()

	if len(transitions) != 2 || transitions[0] != "regions:closed->open" || transitions[1] != "regions:open->closed" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	states   map[string][]int
	rejected map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{states: map[string][]int{}, rejected: map[string]int{}}
}

func (o *recordingObserver) SetBreakerState(name string, state int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[name] = append(o.states[name], state)
}

func (o *recordingObserver) IncBreakerRejected(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[name]++
}

func TestCircuitBreaker_NamedRejection(t *testing.T) {
	obs := newRecordingObserver()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "timing_packs", FailureThreshold: 1, ResetTimeout: time.Hour, Observer: obs})
	failN(cb, 1)

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "timing_packs") {
		t.Errorf("expected breaker name in %q", err.Error())
	}
	if obs.rejected["timing_packs"] != 1 {
		t.Errorf("expected 1 rejection, got %d", obs.rejected["timing_packs"])
	}
	want := []int{int(CircuitClosed), int(CircuitOpen)}
	if got := obs.states["timing_packs"]; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected states %v, got %v", want, got)
	}
}

func TestCircuitBreaker_CancelledCallsDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		return fmt.Errorf("list territories: %w", context.Canceled)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after cancelled call, got %s", cb.State())
	}
}

func TestCircuitBreaker_OneTrialAtATime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, Now: clock.Now})
	failN(cb, 1)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected second trial to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after trial, got %s", cb.State())
	}
}

func TestBreakers_PerTable(t *testing.T) {
	obs := newRecordingObserver()
	set := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour, Observer: obs})

	if set.For("regions") != set.For("regions") {
		t.Fatal("expected the same breaker per name")
	}
	failN(set.For("regions"), 1)
	_ = set.For("territories").Execute(context.Background(), func(_ context.Context) error { return nil })

	status := set.Status()
	if len(status) != 2 {
		t.Fatalf("expected 2 breakers, got %v", status)
	}
	if status[0] != (BreakerStatus{Name: "regions", State: "open"}) {
		t.Errorf("unexpected regions status: %+v", status[0])
	}
	if status[1] != (BreakerStatus{Name: "territories", State: "closed"}) {
		t.Errorf("unexpected territories status: %+v", status[1])
	}
}

func TestBreakers_Nil(t *testing.T) {
	var set *Breakers
	if set.For("regions") != nil {
		t.Error("expected nil breaker from nil set")
	}
	if set.Status() != nil {
		t.Error("expected nil status from nil set")
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
			_ = cb.State()
		}(i)
	}
	wg.Wait()
}

func TestExecuteVal_NilBreaker(t *testing.T) {
	val, err := ExecuteVal(context.Background(), nil, func(_ context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || val != 7 {
		t.Errorf("expected 7, got %d (%v)", val, err)
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	failN(cb, 1)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "unreachable", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: expected %q, got %q", s, want, s.String())
		}
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(0, 60)
	if cfg.FailureThreshold != 5 {
		t.Errorf("expected default threshold, got %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != time.Minute {
		t.Errorf("expected 1m, got %v", cfg.ResetTimeout)
	}
}
