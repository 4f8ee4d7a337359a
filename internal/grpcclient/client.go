// Package grpcclient talks to the inference sidecar: remote OCR and streaming
// speech synthesis.
package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/resilience"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

// Client wraps one connection to the sidecar.
type Client struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	ocr    *resilience.Breaker
}

// New creates a client for addr. The connection is established lazily; use
// WaitReady to block until the sidecar answers.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(MaxMessageSize), grpc.MaxCallRecvMsgSize(MaxMessageSize)),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(trace.StreamClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "dial %s", addr)
	}
	return &Client{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		ocr:    resilience.New(resilience.ProviderConfig("ocr")),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ready performs one health check of service ("" checks the whole server).
func (c *Client) Ready(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return apperrors.FromGRPCError(err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return apperrors.Newf(apperrors.Unavailable, "%s not serving", serviceName(service)).
			WithMetadata("status", resp.GetStatus().String())
	}
	return nil
}

// WaitReady retries Ready with backoff while the sidecar loads its models.
func (c *Client) WaitReady(ctx context.Context, cfg resilience.RetryConfig, service string) error {
	return resilience.Retry(ctx, cfg, func(ctx context.Context) error {
		return c.Ready(ctx, service)
	})
}

// Recognize runs remote OCR on an encoded image.
func (c *Client) Recognize(ctx context.Context, image []byte) (string, error) {
	return resilience.Do(ctx, c.ocr, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, RecognizeTimeout)
		defer cancel()
		out := new(wrapperspb.StringValue)
		if err := c.conn.Invoke(ctx, MethodRecognize, wrapperspb.Bytes(image), out); err != nil {
			appErr := apperrors.FromGRPCError(err)
			if appErr.Code == apperrors.Unknown || appErr.Code == apperrors.Internal {
				appErr.Code = apperrors.OCRFailed
			}
			return "", appErr
		}
		return out.GetValue(), nil
	})
}

func serviceName(s string) string {
	if s == "" {
		return "sidecar"
	}
	return s
}
