package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket rate limiting
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Websocket writes that take longer drop the event for that client
	WriteTimeout = 2 * time.Second

	// Events queued per websocket client before new ones are dropped
	SendBuffer = 64

	// Request body cap for JSON endpoints
	MaxBodyBytes = 1 << 20

	DefaultHistory = 30
)
