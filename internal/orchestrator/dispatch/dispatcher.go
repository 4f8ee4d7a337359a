// Package dispatch runs translations on a small worker pool so one slow
// provider call never holds up recognition.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/subvoice/internal/orchestrator/fadequeue"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

const (
	DefaultWorkers = 3
	DefaultTimeout = 20 * time.Second
)

// Translator converts source text into the target language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Result is a finished translation.
type Result struct {
	Source  string        `json:"source"`
	Text    string        `json:"text"`
	Elapsed time.Duration `json:"elapsed"`
}

// Sink receives finished translations. Put must not block.
type Sink interface {
	Put(Result)
}

// Config sizes the worker pool.
type Config struct {
	Workers int
	Timeout time.Duration // per translation
}

// Stats are cumulative counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Translated uint64 `json:"translated"`
	Empty      uint64 `json:"empty"`
	Failed     uint64 `json:"failed"`
}

type job struct {
	text string
	ctx  context.Context // carries the submitter's trace
}

// Dispatcher fans submitted text out to workers. Results arrive at the sink
// in completion order, not submission order.
type Dispatcher struct {
	tr  Translator
	out Sink
	cfg Config

	mu     sync.Mutex
	jobs   *fadequeue.Queue[job]
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted, translated, empty, failed atomic.Uint64
}

// New creates a dispatcher delivering results to out. Workers start on Start.
func New(tr Translator, out Sink, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Dispatcher{tr: tr, out: out, cfg: cfg}
}

// Start launches the workers. Calling Start on a started dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jobs != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.jobs = fadequeue.New[job](0)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, d.jobs)
	}
	slog.Debug("translation workers started", "workers", d.cfg.Workers)
}

// Submit queues text for translation. It never blocks; text submitted while
// the dispatcher is stopped is dropped.
func (d *Dispatcher) Submit(ctx context.Context, text string) {
	d.mu.Lock()
	jobs := d.jobs
	d.mu.Unlock()
	if jobs == nil {
		slog.Debug("dispatcher stopped, dropping text", "runes", utf8.RuneCountInString(text))
		return
	}
	d.submitted.Add(1)
	jobs.Put(job{text: text, ctx: ctx})
}

// Stop cancels in-flight translations, discards queued ones and waits for
// the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	jobs, cancel := d.jobs, d.cancel
	d.jobs, d.cancel = nil, nil
	d.mu.Unlock()
	if jobs == nil {
		return
	}
	cancel()
	jobs.Clear()
	jobs.Close()
	d.wg.Wait()
}

// Backlog returns the number of texts waiting for a worker.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jobs == nil {
		return 0
	}
	return d.jobs.Len()
}

// Stats returns cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Translated: d.translated.Load(),
		Empty:      d.empty.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) worker(ctx context.Context, jobs *fadequeue.Queue[job]) {
	defer d.wg.Done()
	for {
		j, err := jobs.Get(ctx)
		if err != nil {
			return
		}
		d.translate(ctx, j)
	}
}

// translate runs one job. Failures are logged and dropped, never retried.
func (d *Dispatcher) translate(ctx context.Context, j job) {
	if tc, ok := trace.FromContext(j.ctx); ok {
		ctx = trace.WithContext(ctx, tc)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "dispatch.translate")
	defer span.End()

	start := time.Now()
	text, err := d.tr.Translate(ctx, j.text)
	if err != nil {
		d.failed.Add(1)
		span.SetError(err)
		if !errors.Is(err, context.Canceled) {
			trace.Logger(ctx).Warn("translation failed", "error", err, "runes", utf8.RuneCountInString(j.text))
		}
		return
	}
	if text == "" {
		d.empty.Add(1)
		return
	}
	d.translated.Add(1)
	d.out.Put(Result{Source: j.text, Text: text, Elapsed: time.Since(start)})
}
