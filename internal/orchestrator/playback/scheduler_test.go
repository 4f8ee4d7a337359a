package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type mockEngine struct {
	mu      sync.Mutex
	fed     [][]float32
	clears  int
	stopped bool
	feeds   chan []float32
}

func newMockEngine() *mockEngine {
	return &mockEngine{feeds: make(chan []float32, 64)}
}

func (e *mockEngine) Start() error { return nil }
func (e *mockEngine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}
func (e *mockEngine) Feed(chunk []float32) {
	e.mu.Lock()
	e.fed = append(e.fed, chunk)
	e.mu.Unlock()
	e.feeds <- chunk
}
func (e *mockEngine) Clear() {
	e.mu.Lock()
	e.clears++
	e.mu.Unlock()
}
func (e *mockEngine) counts() (fed, clears int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fed), e.clears
}

// gatedStream yields chunks pushed by the test; closing ch ends the stream.
type gatedStream struct {
	ch     chan []float32
	closed chan struct{}
	once   sync.Once
}

func newGatedStream() *gatedStream {
	return &gatedStream{ch: make(chan []float32), closed: make(chan struct{})}
}

func (g *gatedStream) Next() ([]float32, error) {
	c, ok := <-g.ch
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (g *gatedStream) Close() error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

type mockSynth struct {
	mu      sync.Mutex
	streams map[string]ChunkStream
	errs    map[string]error
	calls   chan string
}

func newMockSynth() *mockSynth {
	return &mockSynth{streams: map[string]ChunkStream{}, errs: map[string]error{}, calls: make(chan string, 16)}
}

func (m *mockSynth) Synthesize(ctx context.Context, text string, v Voice) (ChunkStream, error) {
	m.mu.Lock()
	s, err := m.streams[text], m.errs[text]
	m.mu.Unlock()
	m.calls <- text
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *mockSynth) set(text string, s ChunkStream) {
	m.mu.Lock()
	m.streams[text] = s
	m.mu.Unlock()
}

// sliceStream yields fixed chunks.
type sliceStream struct{ chunks [][]float32 }

func (s *sliceStream) Next() ([]float32, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}
func (s *sliceStream) Close() error { return nil }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func texts(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Text
	}
	return out
}

func TestHandleSpeak(t *testing.T) {
	eng := newMockEngine()
	s := New(eng, newMockSynth(), Config{})

	s.handle(command{kind: cmdSpeak, task: Task{Text: "one"}})
	s.handle(command{kind: cmdSpeak, task: Task{Text: "two"}})
	if got := texts(s.Pending()); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Pending = %v, want [one two]", got)
	}
	if s.Generation() != 0 {
		t.Errorf("Generation = %d, want 0 before saturation", s.Generation())
	}
	if _, clears := eng.counts(); clears != 0 {
		t.Errorf("clears = %d, want 0", clears)
	}

	s.handle(command{kind: cmdSpeak, task: Task{Text: "three"}})
	if got := texts(s.Pending()); len(got) != 1 || got[0] != "three" {
		t.Errorf("Pending = %v, want [three]", got)
	}
	if s.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation())
	}
	if _, clears := eng.counts(); clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
}

func TestHandleSpeakCountsCurrent(t *testing.T) {
	eng := newMockEngine()
	s := New(eng, newMockSynth(), Config{})
	s.current = &Task{Text: "playing"}

	s.handle(command{kind: cmdSpeak, task: Task{Text: "one"}})
	if got := texts(s.Pending()); len(got) != 1 || s.Generation() != 0 {
		t.Fatalf("Pending = %v, Generation = %d, want [one] and 0", got, s.Generation())
	}

	// playing plus one waiting fills both slots
	s.handle(command{kind: cmdSpeak, task: Task{Text: "two"}})
	if got := texts(s.Pending()); len(got) != 1 || got[0] != "two" {
		t.Errorf("Pending = %v, want [two]", got)
	}
	if s.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation())
	}
	if _, clears := eng.counts(); clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
}

func TestHandleStop(t *testing.T) {
	eng := newMockEngine()
	s := New(eng, newMockSynth(), Config{})
	s.handle(command{kind: cmdSpeak, task: Task{Text: "one"}})

	if exit := s.handle(command{kind: cmdStop}); exit {
		t.Error("stop should not exit")
	}
	if len(s.Pending()) != 0 {
		t.Errorf("Pending = %v, want empty", s.Pending())
	}
	if s.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation())
	}
	if exit := s.handle(command{kind: cmdExit}); !exit {
		t.Error("exit should report exit")
	}
	if _, clears := eng.counts(); clears != 2 {
		t.Errorf("clears = %d, want 2", clears)
	}
}

func TestPlaysEachTaskOnce(t *testing.T) {
	eng := newMockEngine()
	synth := newMockSynth()
	synth.set("hello", &sliceStream{chunks: [][]float32{{0.1}, {0.2}, {0.3}}})

	var mu sync.Mutex
	var kinds []EventKind
	finished := make(chan struct{}, 1)
	s := New(eng, synth, Config{}).WithObserver(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
		if e.Kind == EventFinished {
			finished <- struct{}{}
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	task := s.Speak("hello")
	if task.ID == "" {
		t.Error("Speak should assign an id")
	}
	recv(t, finished)

	if fed, _ := eng.counts(); fed != 3 {
		t.Errorf("fed %d chunks, want 3", fed)
	}
	mu.Lock()
	want := []EventKind{EventQueued, EventStarted, EventFinished}
	if len(kinds) != len(want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	mu.Unlock()

	s.Exit()
	recv(t, s.Done())
	if !eng.stopped {
		t.Error("engine should be stopped after exit")
	}
}

func TestStopMidPlayback(t *testing.T) {
	eng := newMockEngine()
	synth := newMockSynth()
	stream := newGatedStream()
	synth.set("long", stream)

	s := New(eng, synth, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Speak("long")
	recv(t, synth.calls)
	stream.ch <- []float32{1}
	recv(t, eng.feeds)

	s.Speak("queued")
	s.Stop()
	stream.ch <- []float32{2}

	recv(t, stream.closed)
	if fed, _ := eng.counts(); fed != 1 {
		t.Errorf("fed %d chunks, want 1 (no audio after stop)", fed)
	}
	if len(s.Pending()) != 0 {
		t.Errorf("Pending = %v, want empty", texts(s.Pending()))
	}
	select {
	case text := <-synth.calls:
		t.Errorf("unexpected synthesis of %q after stop", text)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSaturationPreemptsCurrent(t *testing.T) {
	eng := newMockEngine()
	synth := newMockSynth()
	first := newGatedStream()
	synth.set("first", first)
	synth.set("third", &sliceStream{chunks: [][]float32{{3}}})

	var mu sync.Mutex
	var dropped []string
	s := New(eng, synth, Config{}).WithObserver(func(e Event) {
		if e.Kind == EventDropped {
			mu.Lock()
			dropped = append(dropped, e.Task.Text)
			mu.Unlock()
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Speak("first")
	recv(t, synth.calls)

	s.Speak("second")
	s.Speak("third") // first plays and second waits: cut both, keep only third
	first.ch <- []float32{1}

	recv(t, first.closed)
	if got := recv(t, synth.calls); got != "third" {
		t.Errorf("next synthesized = %q, want third", got)
	}
	if got := recv(t, eng.feeds); got[0] != 3 {
		t.Errorf("fed %v, want chunk of third", got)
	}
	if fed, _ := eng.counts(); fed != 1 {
		t.Errorf("fed %d chunks, want 1", fed)
	}
	if s.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation())
	}
	mu.Lock()
	if len(dropped) != 1 || dropped[0] != "second" {
		t.Errorf("dropped = %v, want [second]", dropped)
	}
	mu.Unlock()
}

func TestStopDuringLastChunkSkipsBacklog(t *testing.T) {
	eng := newMockEngine()
	synth := newMockSynth()
	stream := newGatedStream()
	synth.set("first", stream)
	synth.set("second", &sliceStream{chunks: [][]float32{{2}}})

	s := New(eng, synth, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Speak("first")
	recv(t, synth.calls)
	s.Speak("second")
	stream.ch <- []float32{1}
	recv(t, eng.feeds)

	// stop lands while the stream is on its final Next
	s.Stop()
	close(stream.ch)
	recv(t, stream.closed)

	select {
	case text := <-synth.calls:
		t.Errorf("unexpected synthesis of %q after stop", text)
	case <-time.After(30 * time.Millisecond):
	}
	if len(s.Pending()) != 0 {
		t.Errorf("Pending = %v, want empty", texts(s.Pending()))
	}
}

func TestMaxDurationGuard(t *testing.T) {
	tests := []struct {
		name        string
		withPending bool
		wantFed     int
	}{
		{"preempts when something waits", true, 1},
		{"continues when nothing waits", false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			eng := newMockEngine()
			synth := newMockSynth()
			stream := newGatedStream()
			synth.set("garbled", stream)
			synth.set("next", &sliceStream{})

			s := New(eng, synth, Config{Clock: clock, MaxUtterance: 30 * time.Second})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go s.Run(ctx)

			s.Speak("garbled")
			recv(t, synth.calls)
			stream.ch <- []float32{1}
			recv(t, eng.feeds)

			if tt.withPending {
				s.Speak("next")
			}
			clock.Advance(31 * time.Second)
			genBefore := s.Generation()
			stream.ch <- []float32{2}

			if tt.withPending {
				recv(t, stream.closed)
				if got := recv(t, synth.calls); got != "next" {
					t.Errorf("next synthesized = %q, want next", got)
				}
				if s.Generation() != genBefore+1 {
					t.Errorf("Generation = %d, want %d", s.Generation(), genBefore+1)
				}
			} else {
				recv(t, eng.feeds)
				close(stream.ch)
				recv(t, stream.closed)
			}
			if fed, _ := eng.counts(); fed != tt.wantFed {
				t.Errorf("fed %d chunks, want %d", fed, tt.wantFed)
			}
		})
	}
}

func TestSynthesisFailureSkipsTask(t *testing.T) {
	eng := newMockEngine()
	synth := newMockSynth()
	synth.errs["broken"] = errors.New("model not loaded")
	synth.set("fine", &sliceStream{chunks: [][]float32{{1}}})

	failed := make(chan Event, 1)
	s := New(eng, synth, Config{}).WithObserver(func(e Event) {
		if e.Kind == EventFailed {
			failed <- e
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Speak("broken")
	s.Speak("fine")
	if e := recv(t, failed); e.Task.Text != "broken" || e.Err == nil {
		t.Errorf("failed event = %+v", e)
	}
	recv(t, eng.feeds)
}

func TestContextCancelEndsRun(t *testing.T) {
	eng := newMockEngine()
	s := New(eng, newMockSynth(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	recv(t, s.Done())

	// commands after exit never block
	s.Speak("late")
	s.Stop()
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"too long text", 3, "too..."},
		{"你好世界", 2, "你好..."},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
