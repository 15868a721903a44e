package core

// limiter.go implements concurrency control for export pipelines.
//
// The limiter uses a semaphore pattern to restrict parallel pipelines to a
// configurable maximum, enforcing the soft cap on concurrent active jobs.
// A job that cannot acquire a slot blocks in Acquire and stays pending; the
// dispatcher (see internal/pipeline) admits it the moment a running
// pipeline calls Release. The semaphore itself is what enforces the cap,
// not the number of goroutines the dispatcher happens to run.
//
// The limiter also supports graceful shutdown via WaitForDrain, which blocks
// until all active pipelines complete.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentJobs is the default soft cap on running pipelines.
const DefaultMaxConcurrentJobs = 5

// JobLimiter controls concurrent pipeline execution using a semaphore
// pattern. It prevents resource exhaustion by limiting parallel jobs to a
// configurable max.
type JobLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewJobLimiter creates a limiter that allows at most maxConcurrent
// simultaneously running pipelines.
func NewJobLimiter(maxConcurrent int) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}

	return &JobLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// TryAcquire attempts to acquire a slot without blocking. Returns true if
// a slot was acquired, false if the cap is already reached. The caller
// must call Release exactly once for each successful TryAcquire.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Acquire blocks until a slot is available or ctx is done. This is the cap
// enforcement itself: a job stays pending, parked on this call, until a
// slot frees up. The caller must call Release exactly once for each
// Acquire that returns nil.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a previously acquired slot.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of currently running pipelines.
func (l *JobLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the configured soft cap.
func (l *JobLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *JobLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all running pipelines complete or ctx is done.
// Used during graceful shutdown.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a snapshot of the limiter's current state, for
// operational visibility (the server logs it during shutdown).
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *JobLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
