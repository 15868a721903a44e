package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/download"
)

// cleanupGracePeriod is how long handleCancel waits before making its own
// attempt to remove a cancelled job's artifact, giving the pipeline worker
// time to notice the cancellation and run its own removal first.
const cleanupGracePeriod = 2 * time.Second

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{Status: "ok"})
}

// initiateResponse is the body of POST /exports/csv.
type initiateResponse struct {
	ExportID string      `json:"exportId"`
	Status   core.Status `json:"status"`
}

// handleInitiate validates the request, creates a pending job, and submits
// it to the dispatcher. It never blocks on pipeline work: admission and
// execution happen on background workers.
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := core.Request{
		CountryCode:      q.Get("country_code"),
		SubscriptionTier: q.Get("subscription_tier"),
		MinLTV:           q.Get("min_ltv"),
		Columns:          q.Get("columns"),
		Delimiter:        q.Get("delimiter"),
		QuoteChar:        q.Get("quoteChar"),
	}

	filters, columns, delimiter, quoteChar, err := core.ValidateRequest(req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	id := s.registry.Create(filters, columns, delimiter, quoteChar)
	spec, ok := s.registry.Spec(id)
	if !ok {
		respondError(w, r, fmt.Errorf("export %s: vanished immediately after creation: %w", id, core.ErrProgrammer))
		return
	}
	s.dispatcher.Submit(spec)

	writeJSONStatus(w, http.StatusAccepted, initiateResponse{ExportID: id, Status: core.StatusPending})
}

// handleStatus reports the current snapshot of a job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.registry.Get(id)
	if !ok {
		respondError(w, r, fmt.Errorf("export %s: %w", id, core.ErrNotFound))
		return
	}

	writeJSON(w, snap)
}

// handleDownload streams a completed export's artifact.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := download.Serve(w, r, s.registry, id); err != nil {
		if download.IsStreamInterrupted(err) {
			return
		}
		respondError(w, r, err)
	}
}

// handleCancel requests cancellation of a job and schedules best-effort
// artifact cleanup shortly after, giving the pipeline a moment to release
// the file it may still be writing.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := s.registry.CancelJob(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !cancelled {
		snap, _ := s.registry.Get(id)
		respondError(w, r, fmt.Errorf("export %s: cannot cancel a job in state %s: %w", id, snap.Status, core.ErrState))
		return
	}

	s.registry.ScheduleArtifactCleanup(id, cleanupGracePeriod)
	w.WriteHeader(http.StatusNoContent)
}

// handleSwaggerDoc serves the hand-maintained OpenAPI document backing the
// swagger UI mounted at /swagger/*.
func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(swaggerDoc))
}
