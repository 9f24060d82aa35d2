// Package server exposes the relay over HTTP: the chat endpoint, CORS
// preflight, static viewer files, health and metrics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stupiduntilnot/personarelay/internal/relay"
	"github.com/stupiduntilnot/personarelay/internal/telemetry"
)

// ChatPath is the only API route.
const ChatPath = "/api/chat"

// CORS method lists for the two deployment shapes.
const (
	MethodsServer   = "POST, GET, OPTIONS"
	MethodsFunction = "POST, OPTIONS"
)

const maxBodyBytes = 1 << 20

// Options configures the handler.
type Options struct {
	Relay *relay.Relay
	// StaticDir is served for every non-API path. Empty disables static files.
	StaticDir string
	// DenyFiles are never served even when they sit under StaticDir.
	DenyFiles []string
	// RestrictMethods answers non-POST chat requests with 405.
	RestrictMethods bool
	// AllowMethods is sent in Access-Control-Allow-Methods.
	AllowMethods string
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

type handler struct {
	opts   Options
	logger *slog.Logger
	deny   map[string]bool
}

// New returns the relay's HTTP handler.
func New(opts Options) http.Handler {
	if opts.AllowMethods == "" {
		opts.AllowMethods = MethodsServer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{opts: opts, logger: logger, deny: denySet(opts.DenyFiles)}
	return h.middleware(http.HandlerFunc(h.route))
}

func (h *handler) route(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", h.opts.AllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	switch {
	case r.URL.Path == ChatPath && r.Method == http.MethodPost:
		h.chat(w, r)
		return
	case r.URL.Path == ChatPath && h.opts.RestrictMethods:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	case r.URL.Path == "/healthz" && r.Method == http.MethodGet:
		h.health(w)
		return
	case r.URL.Path == "/metrics" && r.Method == http.MethodGet && h.opts.Metrics != nil:
		h.opts.Metrics.Handler().ServeHTTP(w, r)
		return
	}

	if h.opts.StaticDir == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
		return
	}
	h.static(w, r)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body"})
		return
	}

	reply, err := h.opts.Relay.Handle(r.Context(), req.Message, req.SessionID)
	if err != nil {
		var verr *relay.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) health(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"mode":    h.opts.Relay.Mode().String(),
		"persona": h.opts.Relay.Persona(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// middleware assigns request IDs, recovers panics and writes one access
// log line per request.
func (h *handler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := telemetry.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", telemetry.RequestID(ctx))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		logger := telemetry.RequestLogger(ctx, h.logger)

		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic serving request", "panic", p, "path", r.URL.Path)
				writeJSON(rec, http.StatusInternalServerError, errorBody{Error: "Server error"})
			}
			if h.opts.Metrics != nil {
				h.opts.Metrics.HTTPRequest(r.Method, rec.status)
			}
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}
