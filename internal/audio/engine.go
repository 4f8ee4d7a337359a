// Package audio plays synthesized speech on an output device and decodes the
// containers speech arrives in.
package audio

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

const defaultFramesPerBuffer = 1024 // ~23ms at 44100Hz

type EngineConfig struct {
	SampleRate      int
	BufferSeconds   int
	FramesPerBuffer int
	Device          string // case-insensitive name fragment, empty for the default output
}

// Engine streams buffered mono samples to a PortAudio output device.
type Engine struct {
	cfg EngineConfig
	buf *Buffer

	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 5
	}
	return &Engine{cfg: cfg, buf: NewBuffer(cfg.SampleRate * cfg.BufferSeconds)}
}

// Start opens the output device. Failure is fatal for playback.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.AudioDeviceFailed, "initialize portaudio")
	}
	stream, name, err := e.open()
	if err != nil {
		_ = portaudio.Terminate()
		return apperrors.Wrap(err, apperrors.AudioDeviceFailed, "open output stream").WithMetadata("device", e.cfg.Device)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return apperrors.Wrap(err, apperrors.AudioDeviceFailed, "start output stream").WithMetadata("device", name)
	}

	e.stream = stream
	e.buf.Open()
	slog.Info("audio output started", "device", name, "sample_rate", e.cfg.SampleRate)
	return nil
}

func (e *Engine) open() (*portaudio.Stream, string, error) {
	callback := func(out []float32) { e.buf.Read(out) }

	if e.cfg.Device == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, "", err
		}
		s, err := portaudio.OpenDefaultStream(0, 1, float64(e.cfg.SampleRate), e.cfg.FramesPerBuffer, callback)
		return s, dev.Name, err
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, "", err
	}
	dev := pickOutput(devices, e.cfg.Device)
	if dev == nil {
		return nil, "", apperrors.Newf(apperrors.AudioDeviceFailed, "no output device matching %q", e.cfg.Device)
	}
	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(e.cfg.SampleRate)
	params.FramesPerBuffer = e.cfg.FramesPerBuffer
	s, err := portaudio.OpenStream(params, callback)
	return s, dev.Name, err
}

// Stop closes the device and drops buffered audio.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf.Close()
	if e.stream == nil {
		return nil
	}
	err := e.stream.Stop()
	e.stream.Close()
	e.stream = nil
	_ = portaudio.Terminate()
	return err
}

// Feed queues samples for playback without waiting for the device. On
// overflow the oldest queued samples are lost; samples are dropped entirely
// while the engine is stopped.
func (e *Engine) Feed(chunk []float32) {
	e.buf.Write(chunk)
}

// Clear flushes audio not yet handed to the device.
func (e *Engine) Clear() {
	e.buf.Clear()
}

// Buffered returns the queued playback time in samples.
func (e *Engine) Buffered() int {
	return e.buf.Len()
}

// pickOutput returns the first output-capable device whose name contains
// fragment, ignoring case.
func pickOutput(devices []*portaudio.DeviceInfo, fragment string) *portaudio.DeviceInfo {
	fragment = strings.ToLower(fragment)
	for _, dev := range devices {
		if dev.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), fragment) {
			return dev
		}
	}
	return nil
}
