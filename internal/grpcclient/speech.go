package grpcclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/subvoice/internal/audio"
	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/playback"
	"github.com/GriffinCanCode/subvoice/internal/resilience"
)

var riffMagic = []byte("RIFF")

// Speech synthesizes through the sidecar's streaming TTS method. Each
// streamed message is either a WAV segment or raw little-endian float32 PCM.
type Speech struct {
	conn       *grpc.ClientConn
	breaker    *resilience.Breaker
	sampleRate int
}

// Speech returns a synthesizer sharing the client's connection. sampleRate
// is the output device rate; segments at another rate are played as is.
func (c *Client) Speech(sampleRate int) *Speech {
	return &Speech{
		conn:       c.conn,
		breaker:    resilience.New(resilience.ProviderConfig("tts")),
		sampleRate: sampleRate,
	}
}

// Synthesize opens a synthesis stream. The first chunk is awaited here so a
// dead sidecar fails the call instead of the first Next.
func (s *Speech) Synthesize(ctx context.Context, text string, v playback.Voice) (playback.ChunkStream, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":            text,
		"prompt_wav_path": v.PromptPath,
		"prompt_text":     v.PromptText,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode synthesis request")
	}

	return resilience.Do(ctx, s.breaker, func(ctx context.Context) (playback.ChunkStream, error) {
		ctx, cancel := context.WithCancel(ctx)
		cs, err := s.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Synthesize", ServerStreams: true}, MethodSynthesize)
		if err != nil {
			cancel()
			return nil, synthError(err)
		}
		if err := cs.SendMsg(req); err != nil {
			cancel()
			return nil, synthError(err)
		}
		if err := cs.CloseSend(); err != nil {
			cancel()
			return nil, synthError(err)
		}
		st := &speechStream{cs: cs, cancel: cancel, rate: s.sampleRate}
		first, err := st.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			cancel()
			return nil, err
		}
		st.first, st.firstErr, st.peeked = first, err, true
		return st, nil
	})
}

type speechStream struct {
	cs       grpc.ClientStream
	cancel   context.CancelFunc
	rate     int
	peeked   bool
	first    []float32
	firstErr error
	warned   bool
}

func (s *speechStream) Next() ([]float32, error) {
	if s.peeked {
		s.peeked = false
		chunk, err := s.first, s.firstErr
		s.first, s.firstErr = nil, nil
		return chunk, err
	}
	msg := new(wrapperspb.BytesValue)
	if err := s.cs.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, synthError(err)
	}
	return s.decode(msg.GetValue())
}

func (s *speechStream) decode(b []byte) ([]float32, error) {
	if bytes.HasPrefix(b, riffMagic) {
		samples, rate, err := audio.DecodeWAV(b)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.SynthesisFailed, "decode wav segment")
		}
		if !s.warned && rate != 0 && rate != s.rate {
			slog.Warn("synthesized sample rate differs from output", "synth_rate", rate, "output_rate", s.rate)
			s.warned = true
		}
		return samples, nil
	}
	samples, err := audio.DecodeF32(b)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.SynthesisFailed, "decode pcm segment")
	}
	return samples, nil
}

func (s *speechStream) Close() error {
	s.cancel()
	return nil
}

func synthError(err error) error {
	appErr := apperrors.FromGRPCError(err)
	if appErr.Code == apperrors.Unknown || appErr.Code == apperrors.Internal {
		appErr.Code = apperrors.SynthesisFailed
	}
	return appErr
}
