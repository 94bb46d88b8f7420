// Package gateway is the HTTP surface in front of the daemon session: it
// accepts send requests, streams decoded events to websocket subscribers and
// exposes health and metrics.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/digitalbodhi/sigmsg/internal/event"
	"github.com/digitalbodhi/sigmsg/internal/metrics"
)

const (
	shutdownTimeout    = 5 * time.Second
	defaultSendTimeout = 10 * time.Second
	maxSendBody        = 1 << 20
)

// Sender delivers a message through the daemon session.
type Sender interface {
	SendMessage(ctx context.Context, recipients []string, body string, attachments []string, group bool) error
	Connected() bool
}

type Options struct {
	Listen    string
	RateLimit float64
	Burst     int
	Metrics   *metrics.Metrics
	Hub       *Hub
	Log       *slog.Logger

	// SendTimeout bounds how long a send waits on the session. Zero means 10s.
	SendTimeout time.Duration
}

// Server routes HTTP requests. It implements http.Handler so tests can
// drive it without a listener.
type Server struct {
	listen      string
	sender      Sender
	sendTimeout time.Duration
	hub         *Hub
	metrics     *metrics.Metrics
	log         *slog.Logger
	mux         *http.ServeMux
	handler     http.Handler
}

func NewServer(sender Sender, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(opts.Metrics, log)
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	s := &Server{
		listen:      opts.Listen,
		sender:      sender,
		sendTimeout: timeout,
		hub:         hub,
		metrics:     opts.Metrics,
		log:         log,
		mux:         http.NewServeMux(),
	}
	limiter := newClientLimiter(opts.RateLimit, opts.Burst)
	send := limiter.middleware(http.HandlerFunc(s.handleSend))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /send", send)
	s.mux.Handle("POST /{$}", send)
	s.mux.Handle("GET /metrics", opts.Metrics.Handler())
	s.mux.Handle("GET /events", hub)
	s.handler = s.mux
	return s
}

// Hub returns the websocket hub fed by the session's event observer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener, which it takes ownership of.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("request surface listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("request surface shutdown", "error", err)
			return srv.Close()
		}
		s.log.Debug("request surface stopped")
		return nil
	})
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":      "ok",
		"connected":   s.sender.Connected(),
		"subscribers": s.hub.Len(),
	}
	code := http.StatusOK
	if !s.sender.Connected() {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// recipientList accepts either a single string or an array of strings.
type recipientList []string

func (l *recipientList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*l = recipientList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// SendRequest is the JSON body for POST /send.
type SendRequest struct {
	Recipients  recipientList `json:"recipients"`
	Message     string        `json:"message"`
	Attachments []string      `json:"attachments,omitempty"`
	Group       bool          `json:"group,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	log := s.log.With("request_id", requestID, "remote", r.RemoteAddr)
	w.Header().Set("X-Request-Id", requestID)

	outcome := "ok"
	defer func() {
		s.metrics.Request(outcome, time.Since(start).Seconds())
		log.Debug("send request", "outcome", outcome, "latency_ms", time.Since(start).Milliseconds())
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxSendBody)
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		outcome = "invalid_json"
		log.Warn("invalid json", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json format: " + err.Error()})
		return
	}
	recipients := event.NormalizeRecipients(req.Recipients...)
	if len(recipients) == 0 || req.Message == "" {
		outcome = "invalid_request"
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "must have recipients and message fields"})
		return
	}

	// The request was valid, so the caller gets success whatever the daemon
	// link is doing. Delivery failures only show up in logs and metrics.
	ctx, cancel := context.WithTimeout(r.Context(), s.sendTimeout)
	defer cancel()
	if err := s.sender.SendMessage(ctx, recipients, req.Message, req.Attachments, req.Group); err != nil {
		outcome = "send_failed"
		log.Error("send failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": "success"})
}
