package core

import (
	"context"
	"testing"
	"time"
)

func TestJobLimiterTryAcquireRelease(t *testing.T) {
	limiter := NewJobLimiter(2)

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("initial ActiveCount = %d, want 0", got)
	}
	if got := limiter.Available(); got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	if !limiter.TryAcquire() {
		t.Fatalf("first TryAcquire failed")
	}
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after first TryAcquire, ActiveCount = %d, want 1", got)
	}

	if !limiter.TryAcquire() {
		t.Fatalf("second TryAcquire failed")
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("after second TryAcquire, Available = %d, want 0", got)
	}

	limiter.Release()
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after Release, ActiveCount = %d, want 1", got)
	}

	limiter.Release()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after second Release, ActiveCount = %d, want 0", got)
	}
}

func TestJobLimiterTryAcquireFailsWhenFull(t *testing.T) {
	limiter := NewJobLimiter(1)

	if !limiter.TryAcquire() {
		t.Fatalf("TryAcquire on empty limiter failed")
	}
	if limiter.TryAcquire() {
		t.Errorf("TryAcquire succeeded past the cap")
	}
}

func TestJobLimiterDefaultsWhenNonPositive(t *testing.T) {
	limiter := NewJobLimiter(0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrent() = %d, want %d", got, DefaultMaxConcurrentJobs)
	}
}

func TestJobLimiterWaitForDrain(t *testing.T) {
	limiter := NewJobLimiter(1)
	limiter.TryAcquire()

	done := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		limiter.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		if err := limiter.WaitForDrain(ctx); err != nil {
			t.Errorf("WaitForDrain() error = %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForDrain did not return after Release")
	}
}

func TestJobLimiterStatus(t *testing.T) {
	limiter := NewJobLimiter(3)
	limiter.TryAcquire()

	status := limiter.Status()
	if status.Active != 1 || status.Available != 2 || status.MaxConcurrent != 3 {
		t.Errorf("Status() = %+v, want active=1 available=2 max=3", status)
	}
}
