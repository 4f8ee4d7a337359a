package grpcclient

import "time"

// Sidecar method names. Messages are protobuf well-known types so neither
// side needs generated stubs.
const (
	MethodRecognize  = "/subvoice.v1.OCR/Recognize"       // BytesValue -> StringValue
	MethodSynthesize = "/subvoice.v1.Speech/Synthesize"   // Struct -> stream BytesValue
	ServiceOCR       = "subvoice.v1.OCR"
	ServiceSpeech    = "subvoice.v1.Speech"
)

// Client configuration defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	HealthCheckTimeout = 2 * time.Second
	RecognizeTimeout   = 5 * time.Second

	// 16 MiB covers a full-screen PNG.
	MaxMessageSize = 16 << 20
)
