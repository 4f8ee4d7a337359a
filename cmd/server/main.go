// subvoice server - samples a screen region, translates settled captions and narrates them
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/GriffinCanCode/subvoice/internal/audio"
	"github.com/GriffinCanCode/subvoice/internal/cache"
	"github.com/GriffinCanCode/subvoice/internal/config"
	"github.com/GriffinCanCode/subvoice/internal/grpcclient"
	"github.com/GriffinCanCode/subvoice/internal/ocr"
	"github.com/GriffinCanCode/subvoice/internal/ocr/tesseract"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator"
	"github.com/GriffinCanCode/subvoice/internal/resilience"
	"github.com/GriffinCanCode/subvoice/internal/screen"
	"github.com/GriffinCanCode/subvoice/internal/server"
	"github.com/GriffinCanCode/subvoice/internal/translate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("subvoice exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		setupLogging("info")
		return err
	}
	setupLogging(cfg.LogLevel)

	var closers closerStack
	defer closers.closeAll()

	capturer, err := newCapturer(&closers)
	if err != nil {
		return err
	}

	recognizer, closer, err := newRecognizer(cfg)
	if err != nil {
		return err
	}
	closers.push(closer)

	excluded, err := ocr.LoadExcludeSet(cfg.ExcludeSetPath)
	if err != nil {
		return err
	}
	filter := ocr.NewLineFilter(cfg.ExcludeAmount, excluded)

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	closers.push(store)

	provider, err := translate.NewOpenAI(translate.ProviderConfig{
		APIKey:      cfg.TranslateAPIKey,
		BaseURL:     cfg.TranslateBaseURL,
		Model:       cfg.TranslateModel,
		Prompt:      cfg.TranslatePrompt,
		Temperature: cfg.TranslateTemperature,
		MaxTokens:   cfg.TranslateMaxTokens,
	})
	if err != nil {
		return err
	}
	translator := translate.New(provider,
		translate.WithCache(store, cache.DefaultTTL, cfg.TranslateModel, cfg.TranslatePrompt))

	synth, err := grpcclient.New(cfg.SynthAddr)
	if err != nil {
		return err
	}
	closers.push(synth)
	readyCtx, readyCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := synth.WaitReady(readyCtx, resilience.ReadinessRetryConfig(), grpcclient.ServiceSpeech); err != nil {
		// speech tasks fail individually until the sidecar comes up
		slog.Warn("speech sidecar not ready", "addr", cfg.SynthAddr, "error", err)
	}
	readyCancel()

	engine := audio.NewEngine(audio.EngineConfig{
		SampleRate:    cfg.SampleRate,
		BufferSeconds: cfg.AudioBufferSeconds,
		Device:        cfg.AudioDevice,
	})

	m := orchestrator.New(cfg, orchestrator.Deps{
		Capturer:   capturer,
		Recognizer: ocr.NewFiltered(recognizer, filter),
		Filter:     filter,
		Translator: translator,
		Engine:     engine,
		Synth:      synth.Speech(cfg.SampleRate),
		Clock:      clockwork.NewRealClock(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Open(ctx); err != nil {
		return err
	}

	if cfg.CaptureRegion != "" {
		region, err := screen.ParseRegion(cfg.CaptureRegion)
		if err != nil {
			return err
		}
		if err := m.Start(ctx, region); err != nil {
			return err
		}
	}

	srv := server.New(m, cfg)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("subvoice server starting",
			"http", cfg.HTTPAddr, "ocr", cfg.OCRBackend, "synth", cfg.SynthAddr, "model", cfg.TranslateModel)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		slog.Error("http server error", "error", err)
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		slog.Error("pipeline shutdown error", "error", err)
	}
	cancel()
	slog.Info("shutdown complete")
	return nil
}

// closerStack releases resources in reverse order of acquisition.
type closerStack []io.Closer

func (c *closerStack) push(cl io.Closer) { *c = append(*c, cl) }

func (c *closerStack) closeAll() {
	for i := len(*c) - 1; i >= 0; i-- {
		if err := (*c)[i].Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	*c = nil
}

// newCapturer opens the platform capturer; closing it removes its scratch dir.
func newCapturer(closers *closerStack) (screen.Capturer, error) {
	capturer, err := screen.New()
	if err != nil {
		return nil, err
	}
	closers.push(capturer)
	return capturer, nil
}

// newRecognizer picks the OCR backend. The closer releases it on exit.
func newRecognizer(cfg *config.Config) (ocr.Recognizer, io.Closer, error) {
	if cfg.OCRBackend == "grpc" {
		client, err := grpcclient.New(cfg.InferenceAddr)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}
	rec, err := tesseract.New(cfg.OCRLanguages...)
	if err != nil {
		return nil, nil, err
	}
	return rec, rec, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
