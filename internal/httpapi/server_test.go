package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xseries/mailclerk/internal/dispatch"
)

type fakeProcessor struct {
	stats *dispatch.Stats
	err   error
	calls int
}

func (f *fakeProcessor) ProcessOnce(context.Context) (*dispatch.Stats, error) {
	f.calls++
	return f.stats, f.err
}

func newServer(proc Processor) *Server {
	return New(proc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealth(t *testing.T) {
	srv := newServer(&fakeProcessor{})
	srv.RegisterProbe("mail", func() bool { return true })
	srv.RegisterProbe("model", func() bool { return true })
	srv.RegisterProbe("prompt", func() bool { return true })

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["timestamp"] == nil {
		t.Errorf("bad health body: %v", body)
	}
	services, ok := body["services"].(map[string]any)
	if !ok {
		t.Fatalf("services missing: %v", body)
	}
	for _, name := range []string{"mail", "model", "prompt"} {
		if services[name] != true {
			t.Errorf("service %s should report ready: %v", name, services)
		}
	}
}

func TestHealth_DegradedSubsystem(t *testing.T) {
	srv := newServer(&fakeProcessor{})
	srv.RegisterProbe("mail", func() bool { return false })
	srv.RegisterProbe("model", func() bool { return true })

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body["status"])
	}
	services, _ := body["services"].(map[string]any)
	if services["mail"] != false || services["model"] != true {
		t.Errorf("bad services report: %v", services)
	}
}

func TestProcessEmails(t *testing.T) {
	proc := &fakeProcessor{stats: &dispatch.Stats{
		EmailsFound:     2,
		EmailsProcessed: 1,
		ResponsesSent:   1,
	}}
	srv := newServer(proc)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(method, "/process-emails", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s status: %d", method, rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["status"] != "success" {
			t.Errorf("status field: %v", body["status"])
		}
		if body["emails_found"] != float64(2) || body["emails_processed"] != float64(1) ||
			body["responses_sent"] != float64(1) || body["errors"] != float64(0) {
			t.Errorf("bad stats body: %v", body)
		}
	}
	if proc.calls != 2 {
		t.Errorf("expected 2 cycles, got %d", proc.calls)
	}
}

func TestProcessEmails_Error(t *testing.T) {
	srv := newServer(&fakeProcessor{err: errors.New("gmail unreachable")})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process-emails", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "error" || body["message"] != "gmail unreachable" {
		t.Errorf("bad error body: %v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(&fakeProcessor{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/process-emails", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /process-emails: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: %d", rec.Code)
	}
}
