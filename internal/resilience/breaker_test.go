package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestBreaker(threshold, probes int) (*Breaker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	b := New(Config{Name: "test", Threshold: threshold, ResetTimeout: time.Second, HalfOpenSuccesses: probes, Clock: clock})
	return b, clock
}

func TestBreakerInitialState(t *testing.T) {
	b := New(DefaultConfig())
	if b.State() != Closed {
		t.Errorf("initial state = %v, want Closed", b.State())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 1)
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	b.Failure()

	clock.Advance(500 * time.Millisecond)
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() before timeout = %v, want ErrOpen", err)
	}

	clock.Advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want HalfOpen", b.State())
	}

	b.Success()
	if b.State() != HalfOpen {
		t.Errorf("state after one probe = %v, want HalfOpen", b.State())
	}
	b.Success()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, clock := newTestBreaker(1, 3)
	b.Failure()
	clock.Advance(2 * time.Second)
	_ = b.Allow()

	b.Failure()
	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	b.Failure()
	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerExecute(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	ctx := context.Background()

	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Errorf("Execute success = %v, want nil", err)
	}

	testErr := errors.New("provider down")
	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func(context.Context) error { return testErr }); err != testErr {
			t.Errorf("Execute failure = %v, want %v", err, testErr)
		}
	}
	called := false
	if err := b.Execute(ctx, func(context.Context) error { called = true; return nil }); err != ErrOpen {
		t.Errorf("Execute while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn should not run while open")
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, b, func(ctx context.Context) (string, error) { return "", ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed after cancelled call", b.State())
	}
}

func TestDoResult(t *testing.T) {
	b := New(DefaultConfig())
	result, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || result != 42 {
		t.Errorf("Do = (%d, %v), want (42, nil)", result, err)
	}
}

func TestBreakerHook(t *testing.T) {
	var transitions []State
	b, clock := newTestBreaker(1, 1)
	b.WithHook(func(name string, from, to State) {
		if name != "test" {
			t.Errorf("hook name = %q, want test", name)
		}
		transitions = append(transitions, to)
	})

	b.Failure()
	clock.Advance(2 * time.Second)
	_ = b.Allow()
	b.Success()

	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreakerConcurrentSafety(t *testing.T) {
	b := New(Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Allow()
			if i%2 == 0 {
				b.Success()
			} else {
				b.Failure()
			}
		}()
	}
	wg.Wait()
	_ = b.State()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %d, want %d", cfg.Threshold, DefaultThreshold)
	}
	if cfg.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cfg.ResetTimeout, DefaultResetTimeout)
	}
	if cfg.Clock == nil {
		t.Error("Clock should default to the real clock")
	}
	if p := ProviderConfig("translate"); p.Name != "translate" || p.Threshold != 3 {
		t.Errorf("ProviderConfig = %+v", p)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 1)
	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}
