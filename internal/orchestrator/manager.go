// Package orchestrator wires the narration pipeline: sampler, recognition,
// stability check, translation dispatch and speech playback.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/GriffinCanCode/subvoice/internal/config"
	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/ocr"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/dispatch"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/fadequeue"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/frames"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/playback"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/sampler"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/stability"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/subvoice/internal/screen"
	"github.com/GriffinCanCode/subvoice/internal/syncx"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

// Deps are the external collaborators of the pipeline.
type Deps struct {
	Capturer   screen.Capturer
	Recognizer ocr.Recognizer
	Filter     *ocr.LineFilter // optional; owns the exclude set
	Translator dispatch.Translator
	Engine     playback.Engine
	Synth      playback.Synthesizer
	Clock      clockwork.Clock
}

// Status is a snapshot of the pipeline.
type Status struct {
	Running    bool            `json:"running"`
	Region     *screen.Region  `json:"region,omitempty"`
	LastText   string          `json:"last_text"`
	Generation uint64          `json:"generation"`
	Current    *playback.Task  `json:"current,omitempty"`
	Pending    []playback.Task `json:"pending"`
	Sampler    sampler.Stats   `json:"sampler"`
	Dispatch   dispatch.Stats  `json:"dispatch"`
	Backlog    int             `json:"backlog"`
	Recognized QueueStats      `json:"recognized_queue"`
	Translated QueueStats      `json:"translated_queue"`
	FramesSkip uint64          `json:"frames_skipped"`
}

// QueueStats describes one relay queue.
type QueueStats struct {
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

// Manager owns the pipeline. The audio engine and the playback scheduler
// live from Open until Shutdown; sampling runs between Start and Stop.
type Manager struct {
	cfg  *config.Config
	deps Deps

	recognized *fadequeue.Queue[string]
	translated *fadequeue.Queue[dispatch.Result]
	detector   *stability.Detector
	dedup      *frames.Dedup
	dispatcher *dispatch.Dispatcher
	scheduler  *syncx.Value[*playback.Scheduler] // replaced on Shutdown
	history    *transcript.MemoryStore
	lastText   *syncx.Value[string]

	mu      sync.Mutex
	opened  bool
	running bool
	active  atomic.Bool // read by in-flight cycles without taking mu
	region  screen.Region
	sampler *sampler.Sampler
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

// New creates a manager. Nothing runs until Open and Start.
func New(cfg *config.Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	recCap, transCap := cfg.OCRQueueSize, cfg.TranslateQueueSize
	if recCap == 0 {
		recCap = DefaultRecognizedQueue
	}
	if transCap == 0 {
		transCap = DefaultTranslatedQueue
	}

	m := &Manager{
		cfg:        cfg,
		deps:       deps,
		recognized: fadequeue.New[string](recCap),
		translated: fadequeue.New[dispatch.Result](transCap),
		detector: stability.New(stability.Config{
			WindowSize: cfg.StabilityWindow,
			Threshold:  cfg.StabilityThreshold,
			MaxLength:  cfg.MaxTextLength,
		}),
		dedup:    frames.New(cfg.FrameHashDistance),
		history:  transcript.NewStore(TranscriptMaxEntries, EventBuffer),
		lastText: syncx.NewValue(""),
	}
	m.scheduler = syncx.NewValue(m.newScheduler())
	m.dispatcher = dispatch.New(deps.Translator, m.translated, dispatch.Config{
		Workers: cfg.TranslateWorkers,
		Timeout: cfg.TranslateTimeout,
	})
	return m
}

func (m *Manager) newScheduler() *playback.Scheduler {
	return playback.New(m.deps.Engine, m.deps.Synth, playback.Config{
		MaxUtterance: m.cfg.MaxUtterance,
		Voice:        playback.Voice{PromptPath: m.cfg.VoicePromptPath, PromptText: m.cfg.VoicePromptText},
		Clock:        m.deps.Clock,
	}).WithObserver(m.onPlayback)
}

// Open starts the audio engine and the playback scheduler. A device failure
// is returned as AUDIO_DEVICE_FAILED and is not retried.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}
	if err := m.deps.Engine.Start(); err != nil {
		if apperrors.CodeOf(err) == apperrors.Unknown {
			err = apperrors.Wrap(err, apperrors.AudioDeviceFailed, "start audio engine")
		}
		return err
	}
	m.opened = true
	go m.scheduler.Load().Run(context.WithoutCancel(ctx))
	trace.Logger(ctx).Info("audio pipeline opened", "sample_rate", m.cfg.SampleRate)
	return nil
}

// Start begins sampling region. Starting a running manager logs a warning
// and changes nothing.
func (m *Manager) Start(ctx context.Context, region screen.Region) error {
	region = region.Normalize()
	if err := region.Validate(); err != nil {
		return err
	}
	if err := m.Open(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	log := trace.Logger(ctx)
	if m.running {
		log.Warn("narration already running", "region", m.region.String())
		return nil
	}

	m.recognized.Clear()
	m.translated.Clear()
	m.detector.Reset()
	m.dedup.Reset()
	m.lastText.Store("")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.region = region
	m.running = true
	m.active.Store(true)

	m.dispatcher.Start(runCtx)
	m.sampler = sampler.New(sampler.Config{
		Interval: m.cfg.CaptureInterval,
		MinDelay: m.cfg.MinCycleDelay,
		Clock:    m.deps.Clock,
	}, func(ctx context.Context) error { return m.cycle(ctx, region) })

	m.loops.Add(3)
	go func(s *sampler.Sampler) {
		defer m.loops.Done()
		s.Run(runCtx)
	}(m.sampler)
	go m.recognitionLoop(runCtx)
	go m.speechLoop(runCtx)

	log.Info("narration started", "region", region.String(), "interval", m.cfg.CaptureInterval)
	return nil
}

// Stop halts sampling and translation and silences playback. The audio
// engine stays open for the next Start.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.active.Store(false)

	m.sampler.Stop()
	m.cancel()
	m.cancel, m.sampler = nil, nil
	m.loops.Wait()
	m.dispatcher.Stop()
	m.scheduler.Load().Stop()
	m.recognized.Clear()
	m.translated.Clear()
	m.saveExcluded(ctx)
	trace.Logger(ctx).Info("narration stopped")
}

// Shutdown stops narration, exits the scheduler and closes the audio engine.
// A later Open starts over with a fresh scheduler.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop(ctx)

	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return nil
	}
	m.opened = false
	old := m.scheduler.Swap(m.newScheduler())
	m.mu.Unlock()

	old.Exit()
	select {
	case <-old.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak queues text for playback directly, bypassing translation.
func (m *Manager) Speak(text string) playback.Task {
	return m.scheduler.Load().Speak(playback.Truncate(text, m.cfg.SpeakMaxLength))
}

// Silence abandons the current utterance and the backlog.
func (m *Manager) Silence() {
	m.scheduler.Load().Stop()
}

// Running reports whether sampling is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Events returns pipeline events for the websocket broadcaster.
func (m *Manager) Events() <-chan transcript.Event {
	return m.history.Events()
}

// History returns up to n recent translations, oldest first.
func (m *Manager) History(n int) []transcript.Entry {
	return m.history.Recent(n)
}

// Excluded returns the OCR exclude set.
func (m *Manager) Excluded() []string {
	if m.deps.Filter == nil {
		return nil
	}
	return m.deps.Filter.Excluded()
}

// SetExcluded replaces the OCR exclude set.
func (m *Manager) SetExcluded(lines []string) {
	if m.deps.Filter != nil {
		m.deps.Filter.SetExcluded(lines)
	}
}

// Status returns a snapshot for the REST and websocket surfaces.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{Running: m.running}
	if m.running {
		r := m.region
		st.Region = &r
		st.Sampler = m.sampler.Stats()
	}
	m.mu.Unlock()

	st.LastText = m.lastText.Load()
	sched := m.scheduler.Load()
	st.Generation = sched.Generation()
	if cur, ok := sched.Current(); ok {
		st.Current = &cur
	}
	st.Pending = sched.Pending()
	st.Dispatch = m.dispatcher.Stats()
	st.Backlog = m.dispatcher.Backlog()
	st.Recognized = QueueStats{Len: m.recognized.Len(), Cap: m.recognized.Cap(), Dropped: m.recognized.Dropped()}
	st.Translated = QueueStats{Len: m.translated.Len(), Cap: m.translated.Cap(), Dropped: m.translated.Dropped()}
	st.FramesSkip = m.dedup.Skipped()
	return st
}

// cycle captures the region once and relays the recognized text.
func (m *Manager) cycle(ctx context.Context, region screen.Region) error {
	ctx, span := trace.StartSpan(ctx, "sample_cycle")
	defer span.End()

	img, err := m.deps.Capturer.Capture(ctx, region)
	if err != nil {
		span.SetError(err)
		return err
	}
	text, ok := m.dedup.Lookup(img)
	if !ok {
		text, err = m.deps.Recognizer.Recognize(ctx, img)
		if err != nil {
			span.SetError(err)
			return err
		}
		m.dedup.Remember(text)
	}
	span.SetAttr("reused", ok)
	if !m.active.Load() {
		return nil
	}
	m.lastText.Store(text)
	m.recognized.Put(text)
	return nil
}

func (m *Manager) recognitionLoop(ctx context.Context) {
	defer m.loops.Done()
	for {
		text, err := m.recognized.Get(ctx)
		if err != nil {
			return
		}
		if !m.detector.Check(text) {
			continue
		}
		// each accepted caption is its own trace through translation
		tc := trace.New()
		sub := trace.WithContext(ctx, tc)
		trace.Logger(sub).Debug("text accepted", "text", text)
		m.history.Emit(transcript.Event{Type: transcript.EventRecognized, Text: text, TraceID: tc.TraceID})
		m.dispatcher.Submit(sub, text)
	}
}

func (m *Manager) speechLoop(ctx context.Context) {
	defer m.loops.Done()
	for {
		res, err := m.translated.Get(ctx)
		if err != nil {
			return
		}
		m.history.Add(res.Source, res.Text, res.Elapsed)
		m.history.Emit(transcript.Event{Type: transcript.EventTranslated, Text: res.Text, Source: res.Source})
		task := m.scheduler.Load().Speak(playback.Truncate(res.Text, m.cfg.SpeakMaxLength))
		trace.Logger(ctx).Debug("translation queued for speech", "task", task.ID, "elapsed", res.Elapsed.Round(time.Millisecond))
	}
}

func (m *Manager) onPlayback(e playback.Event) {
	ev := transcript.Event{
		Type:       transcript.EventSpeech,
		State:      string(e.Kind),
		Text:       e.Task.Text,
		TaskID:     e.Task.ID,
		Generation: e.Generation,
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	m.history.Emit(ev)
}

func (m *Manager) saveExcluded(ctx context.Context) {
	if m.deps.Filter == nil || m.cfg.ExcludeSetPath == "" {
		return
	}
	if err := ocr.SaveExcludeSet(m.cfg.ExcludeSetPath, m.deps.Filter.Excluded()); err != nil {
		trace.Logger(ctx).Warn("failed to save exclude set", "path", m.cfg.ExcludeSetPath, "error", err)
	}
}
