// Package playback schedules synthesized speech onto the audio engine.
//
// A single goroutine owns playback. The utterance being streamed and the ones
// waiting behind it share two slots; an arrival that would need a third cuts
// the current one off and replaces the backlog with itself, so the listener is
// never more than two lines behind.
// Cancellation is cooperative: every chunk compares the generation captured
// when its utterance started with the current one, and commands are applied
// before any further audio is fed.
package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/GriffinCanCode/subvoice/internal/trace"
)

const (
	MaxPending          = 2
	DefaultMaxUtterance = 30 * time.Second
	defaultCmdBuffer    = 16
)

// Voice selects the speaker of synthesized audio.
type Voice struct {
	PromptPath string `json:"prompt_path,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
}

// ChunkStream yields PCM chunks until io.EOF.
type ChunkStream interface {
	Next() ([]float32, error)
	Close() error
}

// Synthesizer turns text into a lazily produced stream of audio chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v Voice) (ChunkStream, error)
}

// Engine is the audio output device. Clear must be safe while the device
// callback is draining.
type Engine interface {
	Start() error
	Stop() error
	Feed(chunk []float32)
	Clear()
}

// Task is one utterance.
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Config tunes the scheduler. Zero values take the package defaults.
type Config struct {
	MaxUtterance  time.Duration
	Voice         Voice
	Clock         clockwork.Clock
	CommandBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = defaultCmdBuffer
	}
	return c
}

type cmdKind int

const (
	cmdSpeak cmdKind = iota
	cmdStop
	cmdExit
)

type command struct {
	kind cmdKind
	task Task
}

// Scheduler serializes speech onto an Engine.
type Scheduler struct {
	engine   Engine
	synth    Synthesizer
	cfg      Config
	observer Observer

	cmds chan command
	done chan struct{}
	gen  atomic.Uint64

	mu      sync.Mutex
	pending []Task
	current *Task
}

// New creates a scheduler feeding engine. Nothing plays until Run.
func New(engine Engine, synth Synthesizer, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		engine: engine,
		synth:  synth,
		cfg:    cfg,
		cmds:   make(chan command, cfg.CommandBuffer),
		done:   make(chan struct{}),
	}
}

// WithObserver registers a callback for playback events. It runs on the
// scheduler goroutine and must not block.
func (s *Scheduler) WithObserver(fn Observer) *Scheduler {
	s.observer = fn
	return s
}

// Speak queues text and returns the created task. It is dropped once the
// scheduler has exited.
func (s *Scheduler) Speak(text string) Task {
	t := Task{ID: uuid.NewString(), Text: text, CreatedAt: s.cfg.Clock.Now()}
	s.send(command{kind: cmdSpeak, task: t})
	return t
}

// Stop abandons the current utterance and the backlog.
func (s *Scheduler) Stop() { s.send(command{kind: cmdStop}) }

// Exit stops playback, ends Run and shuts the engine down.
func (s *Scheduler) Exit() { s.send(command{kind: cmdExit}) }

// Done is closed after Run has returned and the engine is stopped.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) send(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

// Generation returns the current cancellation generation.
func (s *Scheduler) Generation() uint64 { return s.gen.Load() }

// Pending returns a snapshot of waiting tasks, oldest first.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.pending...)
}

// Current returns the utterance being streamed, if any.
func (s *Scheduler) Current() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Task{}, false
	}
	return *s.current, true
}

// Run processes commands and plays tasks until Exit or ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if err := s.engine.Stop(); err != nil {
			slog.Warn("audio engine stop failed", "error", err)
		}
	}()

	for {
		// a stop queued during the last chunk must clear pending before the next pop
		if s.drain(ctx) {
			return
		}
		if task, ok := s.popPending(); ok {
			if s.play(ctx, task) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			s.handle(command{kind: cmdStop})
			return
		case c := <-s.cmds:
			if s.handle(c) {
				return
			}
		}
	}
}

// handle applies one command and reports whether the scheduler must exit.
func (s *Scheduler) handle(c command) bool {
	switch c.kind {
	case cmdSpeak:
		s.mu.Lock()
		var dropped []Task
		// the utterance being streamed holds one of the MaxPending slots
		held := len(s.pending)
		if s.current != nil {
			held++
		}
		preempt := held >= MaxPending
		if preempt {
			dropped = s.pending
			s.pending = []Task{c.task}
			s.gen.Add(1)
		} else {
			s.pending = append(s.pending, c.task)
		}
		s.mu.Unlock()

		if preempt {
			s.engine.Clear()
			for _, t := range dropped {
				s.emit(Event{Kind: EventDropped, Task: t})
			}
		}
		s.emit(Event{Kind: EventQueued, Task: c.task})
	case cmdStop, cmdExit:
		s.mu.Lock()
		dropped := s.pending
		s.pending = nil
		s.gen.Add(1)
		s.mu.Unlock()

		s.engine.Clear()
		for _, t := range dropped {
			s.emit(Event{Kind: EventDropped, Task: t})
		}
		return c.kind == cmdExit
	}
	return false
}

// drain applies every queued command without blocking.
func (s *Scheduler) drain(ctx context.Context) (exit bool) {
	for {
		select {
		case c := <-s.cmds:
			if s.handle(c) {
				return true
			}
		case <-ctx.Done():
			s.handle(command{kind: cmdStop})
			return true
		default:
			return false
		}
	}
}

func (s *Scheduler) popPending() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Task{}, false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &t
	return t, true
}

func (s *Scheduler) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) clearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// play streams one task and reports whether an exit was requested meanwhile.
func (s *Scheduler) play(ctx context.Context, task Task) (exit bool) {
	defer s.clearCurrent()
	myGen := s.gen.Load()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "playback.utterance")
	span.SetAttr("task_id", task.ID)
	span.SetAttr("runes", utf8.RuneCountInString(task.Text))
	defer span.End()
	log := trace.Logger(ctx)

	s.emit(Event{Kind: EventStarted, Task: task, Generation: myGen})
	stream, err := s.synth.Synthesize(ctx, task.Text, s.cfg.Voice)
	if err != nil {
		span.SetError(err)
		log.Warn("synthesis failed", "task_id", task.ID, "error", err)
		s.emit(Event{Kind: EventFailed, Task: task, Generation: myGen, Err: err})
		return s.drain(ctx)
	}
	defer stream.Close()

	started := s.cfg.Clock.Now()
	chunks := 0
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			span.SetAttr("chunks", chunks)
			s.emit(Event{Kind: EventFinished, Task: task, Generation: myGen})
			return false
		}
		if err != nil {
			span.SetError(err)
			log.Warn("synthesis stream failed", "task_id", task.ID, "chunks", chunks, "error", err)
			s.emit(Event{Kind: EventFailed, Task: task, Generation: myGen, Err: err})
			return s.drain(ctx)
		}

		if s.drain(ctx) {
			s.emit(Event{Kind: EventAbandoned, Task: task, Generation: myGen})
			return true
		}
		if s.gen.Load() != myGen {
			s.emit(Event{Kind: EventAbandoned, Task: task, Generation: myGen})
			return false
		}
		if s.cfg.Clock.Since(started) > s.cfg.MaxUtterance && s.pendingLen() > 0 {
			s.gen.Add(1)
			s.engine.Clear()
			log.Info("utterance exceeded max duration", "task_id", task.ID, "limit", s.cfg.MaxUtterance)
			s.emit(Event{Kind: EventPreempted, Task: task, Generation: myGen})
			return false
		}

		s.engine.Feed(chunk)
		chunks++
	}
}

func (s *Scheduler) emit(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}

// Truncate shortens text to at most n runes, marking the cut with "...".
func Truncate(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
