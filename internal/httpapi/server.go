// Package httpapi exposes the on-demand processing trigger and a
// health check over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/xseries/mailclerk/internal/dispatch"
)

// Processor runs one mailbox cycle; satisfied by dispatch.Dispatcher.
type Processor interface {
	ProcessOnce(ctx context.Context) (*dispatch.Stats, error)
}

// Probe reports whether one subsystem is ready to serve.
type Probe func() bool

// Server handles trigger and health requests.
type Server struct {
	mux    *http.ServeMux
	proc   Processor
	probes map[string]Probe
	logger *slog.Logger
	now    func() time.Time
}

// New creates the HTTP surface around a processor.
func New(proc Processor, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		proc:   proc,
		probes: make(map[string]Probe),
		logger: logger,
		now:    time.Now,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/process-emails", s.handleProcess)
	return s
}

// RegisterProbe adds a named subsystem to the health report. Register
// everything before serving; probes are read without locking.
func (s *Server) RegisterProbe(name string, probe Probe) {
	s.probes[name] = probe
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks until the context is canceled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	services := make(map[string]bool, len(s.probes))
	status := "healthy"
	for name, probe := range s.probes {
		ok := probe()
		services[name] = ok
		if !ok {
			status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"services":  services,
	})
}

// handleProcess triggers one processing cycle. GET and POST both work
// so the trigger is curl- and webhook-friendly.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.proc.ProcessOnce(r.Context())
	if err != nil {
		s.logger.Error("triggered cycle failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    "error",
			"message":   err.Error(),
			"timestamp": s.now().Format(time.RFC3339),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"emails_found":     stats.EmailsFound,
		"emails_processed": stats.EmailsProcessed,
		"responses_sent":   stats.ResponsesSent,
		"errors":           stats.Errors,
		"timestamp":        s.now().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response write failed", "error", err)
	}
}
