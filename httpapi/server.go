package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/tabrotor/schema"
)

const (
	shutdownTimeout = 5 * time.Second
	maxCommandBytes = 1 << 20
)

// CommandHandler executes JSON command envelopes.
type CommandHandler interface {
	HandleJSON(ctx context.Context, data []byte) (any, error)
}

// TabLister lists live browser tabs.
type TabLister interface {
	List(ctx context.Context) ([]schema.TabInfo, error)
}

// Options wires optional endpoints.
type Options struct {
	// Health serves /live and /ready. Nil serves an always-healthy handler.
	Health healthcheck.Handler
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server serves the command API, tab listing, health and metrics.
type Server struct {
	cfg      Config
	commands CommandHandler
	tabs     TabLister
	health   healthcheck.Handler
	gatherer prometheus.Gatherer
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, commands CommandHandler, tabs TabLister, opts Options) *Server {
	if opts.Health == nil {
		opts.Health = healthcheck.NewHandler()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		commands: commands,
		tabs:     tabs,
		health:   opts.Health,
		gatherer: opts.Gatherer,
		basePath: cfg.prefix(),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/tabs", s.handleTabs)
	mux.Handle("/live", s.health)
	mux.Handle("/ready", s.health)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	result, err := s.commands.HandleJSON(r.Context(), body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if s.tabs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("browser unavailable"))
		return
	}
	tabs, err := s.tabs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func statusFor(err error) int {
	switch {
	case schema.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
