package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TUI/internal/core"
)

// noopDispatcher implements Dispatcher without running any pipeline, so
// these tests exercise request validation and registry plumbing without a
// database.
type noopDispatcher struct {
	submitted []core.JobSpec
}

func (d *noopDispatcher) Submit(spec core.JobSpec) { d.submitted = append(d.submitted, spec) }
func (d *noopDispatcher) Status() core.LimiterStatus {
	return core.LimiterStatus{MaxConcurrent: 5}
}

func newTestServer() (*Server, *core.Registry, *noopDispatcher) {
	registry := core.NewRegistry()
	d := &noopDispatcher{}
	s := &Server{
		registry:   registry,
		dispatcher: d,
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s, registry, d
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestHandleInitiateValidRequest(t *testing.T) {
	s, registry, d := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/exports/csv?country_code=US&columns=id,email", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	var body initiateResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != core.StatusPending {
		t.Errorf("status = %q, want pending", body.Status)
	}
	if _, ok := registry.Get(body.ExportID); !ok {
		t.Errorf("job %s not found in registry", body.ExportID)
	}
	if len(d.submitted) != 1 || d.submitted[0].ID != body.ExportID {
		t.Errorf("dispatcher did not receive the submitted job")
	}
}

func TestHandleInitiateInvalidRequest(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/exports/csv?country_code=USA", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleStatusUnknownJob(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/exports/does-not-exist/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStatusKnownJob(t *testing.T) {
	s, registry, _ := newTestServer()
	id := registry.Create(core.Filters{}, []string{"id"}, ',', '"')

	req := httptest.NewRequest(http.MethodGet, "/exports/"+id+"/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap core.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ID != id || snap.Status != core.StatusPending {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandleCancelPendingJob(t *testing.T) {
	s, registry, _ := newTestServer()
	id := registry.Create(core.Filters{}, []string{"id"}, ',', '"')

	req := httptest.NewRequest(http.MethodDelete, "/exports/"+id, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	snap, _ := registry.Get(id)
	if snap.Status != core.StatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
}

func TestHandleCancelTerminalJobReturnsBadRequest(t *testing.T) {
	s, registry, _ := newTestServer()
	id := registry.Create(core.Filters{}, []string{"id"}, ',', '"')
	registry.StartJob(id)
	registry.CompleteJob(id, "/tmp/whatever.csv")

	req := httptest.NewRequest(http.MethodDelete, "/exports/"+id, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCancelUnknownJob(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodDelete, "/exports/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDownloadNotReady(t *testing.T) {
	s, registry, _ := newTestServer()
	id := registry.Create(core.Filters{}, []string{"id"}, ',', '"')

	req := httptest.NewRequest(http.MethodGet, "/exports/"+id+"/download", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooEarly {
		t.Fatalf("status = %d, want 425", rec.Code)
	}
}
