// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/subvoice/internal/config"
	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/playback"
	"github.com/GriffinCanCode/subvoice/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/subvoice/internal/screen"
	"github.com/GriffinCanCode/subvoice/internal/trace"
)

// Pipeline is the part of orchestrator.Manager the server drives.
type Pipeline interface {
	Start(ctx context.Context, region screen.Region) error
	Stop(ctx context.Context)
	Status() orchestrator.Status
	Speak(text string) playback.Task
	Silence()
	Events() <-chan transcript.Event
	History(n int) []transcript.Entry
	Excluded() []string
	SetExcluded(lines []string)
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type SpeakMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	TraceID string `json:"trace_id,omitempty"`
}

type TaskMessage struct {
	Type string        `json:"type"`
	Task playback.Task `json:"task"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type ExcludeBody struct {
	Exclude []string `json:"exclude"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	pipe   Pipeline
	region string // default region when a start request names none

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan transcript.Event // per-connection send queue
}

// New creates a server and starts the event broadcaster.
func New(pipe Pipeline, cfg *config.Config) *Server {
	s := &Server{
		pipe:   pipe,
		region: cfg.CaptureRegion,
		conns:  make(map[*websocket.Conn]chan transcript.Event),
	}
	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/exclude", s.handleGetExclude)
	mux.HandleFunc("PUT /api/exclude", s.handlePutExclude)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	region, err := s.requestRegion(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.pipe.Start(r.Context(), region); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

// requestRegion reads the region from the body, falling back to the
// configured one for an empty body.
func (s *Server) requestRegion(r *http.Request) (screen.Region, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return screen.Region{}, apperrors.Wrap(err, apperrors.InvalidArgument, "read body")
	}
	if len(body) == 0 {
		if s.region == "" {
			return screen.Region{}, apperrors.New(apperrors.ConfigInvalid, "no capture region given or configured")
		}
		return screen.ParseRegion(s.region)
	}
	var region screen.Region
	if err := json.Unmarshal(body, &region); err != nil {
		return screen.Region{}, apperrors.Wrap(err, apperrors.InvalidArgument, "decode region")
	}
	return region, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.pipe.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := DefaultHistory
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "invalid n %q", v))
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.pipe.History(n))
}

func (s *Server) handleGetExclude(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ExcludeBody{Exclude: s.pipe.Excluded()})
}

func (s *Server) handlePutExclude(w http.ResponseWriter, r *http.Request) {
	var body ExcludeBody
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "decode exclude set"))
		return
	}
	s.pipe.SetExcluded(body.Exclude)
	trace.Logger(r.Context()).Info("exclude set replaced", "lines", len(body.Exclude))
	writeJSON(w, http.StatusOK, ExcludeBody{Exclude: s.pipe.Excluded()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	out := make(chan transcript.Event, SendBuffer)
	sent := make(chan struct{})
	go s.sendLoop(conn, out, sent)

	s.mu.Lock()
	s.conns[conn] = out
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		close(out)
		<-sent
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	rl := &rateLimiter{}
	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		// continue the caller's trace if the message names one
		ctx := baseCtx
		if tc, ok := trace.FromJSON(msg); ok {
			ctx = trace.WithContext(ctx, tc)
		}

		switch base.Type {
		case "speak":
			var sm SpeakMessage
			if err := json.Unmarshal(msg, &sm); err != nil || sm.Text == "" {
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Code: apperrors.InvalidArgument.String(), Message: "speak needs text"})
				continue
			}
			task := s.pipe.Speak(sm.Text)
			trace.Logger(ctx).Info("speak requested", "task", task.ID)
			_ = wsjson.Write(ctx, conn, TaskMessage{Type: "queued", Task: task})
		case "stop":
			s.pipe.Silence()
			trace.Logger(ctx).Info("speech stopped by client")
		default:
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(base.Type)})
		}
	}
}

func (s *Server) broadcastEvents() {
	for evt := range s.pipe.Events() {
		s.mu.RLock()
		for _, out := range s.conns {
			select {
			case out <- evt:
			default:
				slog.Debug("websocket client lagging, dropping event", "type", evt.Type)
			}
		}
		s.mu.RUnlock()
	}
}

// sendLoop writes events to one client in the order they were broadcast.
func (s *Server) sendLoop(conn *websocket.Conn, out <-chan transcript.Event, done chan<- struct{}) {
	defer close(done)
	for e := range out {
		ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
		_ = wsjson.Write(ctx, conn, e)
		cancel()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := httpStatus(code)
	if status >= 500 {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	var appErr *apperrors.AppError
	msg := err.Error()
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, status, ErrorMessage{Type: "error", Code: code.String(), Message: msg})
}

func httpStatus(c apperrors.Code) int {
	switch c {
	case apperrors.InvalidArgument, apperrors.ConfigInvalid:
		return http.StatusBadRequest
	case apperrors.ConfigMissing:
		return http.StatusPreconditionFailed
	case apperrors.Unavailable, apperrors.AudioDeviceFailed:
		return http.StatusServiceUnavailable
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
