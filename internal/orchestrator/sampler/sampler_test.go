package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		expected time.Duration
	}{
		{"instant cycle", 0, 400 * time.Millisecond},
		{"partial cycle", 150 * time.Millisecond, 250 * time.Millisecond},
		{"almost full", 395 * time.Millisecond, 10 * time.Millisecond},
		{"exact interval", 400 * time.Millisecond, 10 * time.Millisecond},
		{"overrun", 2 * time.Second, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDelay(400*time.Millisecond, tt.elapsed, 10*time.Millisecond); got != tt.expected {
				t.Errorf("NextDelay(%v) = %v, want %v", tt.elapsed, got, tt.expected)
			}
		})
	}
}

// runSampler starts s.Run and returns a channel closed when it returns.
func runSampler(ctx context.Context, s *Sampler) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return done
}

func waitStart(t *testing.T, starts <-chan time.Time) time.Time {
	t.Helper()
	select {
	case ts := <-starts:
		return ts
	case <-time.After(time.Second):
		t.Fatal("cycle did not start")
		return time.Time{}
	}
}

func TestCadenceCorrectsForElapsed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	starts := make(chan time.Time, 10)
	work := []time.Duration{150 * time.Millisecond, 600 * time.Millisecond, 0}
	var n atomic.Int32

	s := New(Config{Interval: 400 * time.Millisecond, MinDelay: 10 * time.Millisecond, Clock: clock}, func(ctx context.Context) error {
		starts <- clock.Now()
		i := int(n.Add(1)) - 1
		if i < len(work) {
			clock.Advance(work[i])
		}
		return nil
	})
	done := runSampler(context.Background(), s)

	t0 := waitStart(t, starts)

	// 150ms of work leaves 250ms to wait
	clock.BlockUntil(1)
	clock.Advance(250 * time.Millisecond)
	t1 := waitStart(t, starts)
	if got := t1.Sub(t0); got != 400*time.Millisecond {
		t.Errorf("second cycle started after %v, want 400ms", got)
	}

	// overrun falls back to the minimum delay
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	t2 := waitStart(t, starts)
	if got := t2.Sub(t1); got != 610*time.Millisecond {
		t.Errorf("third cycle started after %v, want 610ms", got)
	}

	s.Stop()
	<-done

	if st := s.Stats(); st.Cycles != 3 || st.Overrun != 1 {
		t.Errorf("Stats = %+v, want 3 cycles 1 overrun", st)
	}
}

func TestSurvivesFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	starts := make(chan time.Time, 10)
	var n atomic.Int32

	s := New(Config{Clock: clock}, func(ctx context.Context) error {
		starts <- clock.Now()
		switch n.Add(1) {
		case 1:
			return errors.New("capture failed")
		case 2:
			panic("ocr exploded")
		}
		return nil
	})
	done := runSampler(context.Background(), s)

	for i := 0; i < 3; i++ {
		waitStart(t, starts)
		if i < 2 {
			clock.BlockUntil(1)
			clock.Advance(DefaultInterval)
		}
	}
	s.Stop()
	<-done

	if st := s.Stats(); st.Cycles != 3 || st.Errors != 2 {
		t.Errorf("Stats = %+v, want 3 cycles 2 errors", st)
	}
}

func TestStopDuringCycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	entered := make(chan struct{})
	var sawStopped atomic.Bool

	var s *Sampler
	s = New(Config{Clock: clock}, func(ctx context.Context) error {
		close(entered)
		<-release
		sawStopped.Store(!s.Running())
		return nil
	})
	done := runSampler(context.Background(), s)

	<-entered
	s.Stop()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if !sawStopped.Load() {
		t.Error("in-flight cycle should observe Running() == false")
	}
	if s.Stats().Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", s.Stats().Cycles)
	}
}

func TestContextCancelStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Clock: clock}, func(ctx context.Context) error { return nil })
	done := runSampler(ctx, s)

	clock.BlockUntil(1)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.Running() {
		t.Error("Running() should be false after Run returns")
	}
}

func TestRunTwice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var cycles atomic.Int32
	s := New(Config{Clock: clock}, func(ctx context.Context) error {
		cycles.Add(1)
		return nil
	})
	done := runSampler(context.Background(), s)
	clock.BlockUntil(1)

	// second Run returns immediately without cycling
	s.Run(context.Background())
	if got := cycles.Load(); got != 1 {
		t.Errorf("cycles = %d, want 1", got)
	}

	s.Stop()
	<-done
	s.Stop()
}
