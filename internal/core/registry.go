package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is a process-local, concurrency-safe mapping from export
// identifier to job record. It enforces the state machine: callers can
// only reach a given state through the corresponding method, never by
// mutating a Job directly.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create allocates a fresh identifier, inserts a pending record, and
// returns the identifier.
func (r *Registry) Create(filters Filters, columns []string, delimiter, quoteChar rune) string {
	id := uuid.New().String()
	job := &Job{
		ID:        id,
		Status:    StatusPending,
		Filters:   filters,
		Columns:   columns,
		Delimiter: delimiter,
		QuoteChar: quoteChar,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	return id
}

// Get returns a consistent snapshot of the job, or false if unknown.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// JobSpec is the immutable subset of a Job a pipeline needs to run,
// without exposing the mutable Job itself.
type JobSpec struct {
	ID        string
	Filters   Filters
	Columns   []string
	Delimiter rune
	QuoteChar rune
}

// Spec returns the immutable parameters of a job, or false if unknown.
func (r *Registry) Spec(id string) (JobSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobSpec{}, false
	}
	return JobSpec{
		ID:        job.ID,
		Filters:   job.Filters,
		Columns:   job.Columns,
		Delimiter: job.Delimiter,
		QuoteChar: job.QuoteChar,
	}, true
}

// StartJob transitions pending -> processing and sets startedAt. Returns an
// error wrapping ErrNotFound if the job is unknown, or ErrProgrammer if it
// is not pending.
func (r *Registry) StartJob(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("start job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("start job %s: status is %s, not pending: %w", id, job.Status, ErrProgrammer)
	}

	now := time.Now().UTC()
	job.Status = StatusProcessing
	job.StartedAt = &now
	return nil
}

// UpdateProgress updates the row counters and recomputes the percentage.
// No-op if the job is terminal or unknown.
func (r *Registry) UpdateProgress(id string, processed, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}

	job.Progress.ProcessedRows = processed
	job.Progress.TotalRows = total
	job.Progress.Percentage = computePercentage(processed, total)
}

// CompleteJob transitions processing -> completed, records the artifact
// path, and sets the percentage to 100. A job with no rows (totalRows 0)
// keeps a percentage of 0.
func (r *Registry) CompleteJob(id, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("complete job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusProcessing {
		return fmt.Errorf("complete job %s: status is %s, not processing: %w", id, job.Status, ErrProgrammer)
	}

	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.FilePath = filePath
	job.CompletedAt = &now
	if job.Progress.TotalRows > 0 {
		job.Progress.Percentage = 100
	}
	return nil
}

// FailJob transitions any non-terminal job to failed and records the
// error message. No-op (returns nil) if the job is already terminal, since
// failure after cancellation is an expected race, not a programmer error.
func (r *Registry) FailJob(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("fail job %s: %w", id, ErrNotFound)
	}
	if job.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Error = message
	job.CompletedAt = &now
	return nil
}

// CancelJob transitions pending or processing to cancelled. Returns
// whether the transition happened; it is not an error for a terminal job
// to be "cancelled" again, it simply reports false.
func (r *Registry) CancelJob(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return false, fmt.Errorf("cancel job %s: %w", id, ErrNotFound)
	}
	if job.Status.Terminal() {
		return false, nil
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	return true, nil
}

// Status returns the current status of a job, or false if unknown. The
// pipeline polls this at batch boundaries to detect cancellation without
// holding a reference to the Job itself.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// SetArtifactPath records where the pipeline is writing a job's artifact,
// independent of the status transitions. It exists so cancellation cleanup
// can find a file that was created but never reached CompleteJob; it does
// not, by itself, make the artifact visible to downloads (download.Serve
// gates on the job's status, not on FilePath being non-empty).
func (r *Registry) SetArtifactPath(id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[id]; ok {
		job.FilePath = path
	}
}

// FilePath returns the artifact path recorded for a job, whether set by
// SetArtifactPath while the job is running or by CompleteJob.
func (r *Registry) FilePath(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return job.FilePath, true
}

// ScheduleArtifactCleanup removes a cancelled or failed job's artifact file
// after delay, giving the pipeline a moment to release it if cancellation
// raced with an in-flight write. Unlike the upload-tracking it is adapted
// from, it never evicts the registry entry itself: a job's status and
// progress remain queryable for the lifetime of the process.
func (r *Registry) ScheduleArtifactCleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		path, ok := r.FilePath(id)
		if !ok || path == "" {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.mu.Lock()
			if job, ok := r.jobs[id]; ok && job.Error == "" {
				job.Error = fmt.Sprintf("cleanup: %v", err)
			}
			r.mu.Unlock()
		}
	})
}

// Count returns the number of jobs in the registry, regardless of status.
// Used by tests and diagnostics; not part of the state machine contract.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
