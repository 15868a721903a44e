package pipeline

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/JonMunkholm/TUI/internal/core"
)

// Dispatcher enforces the soft cap on concurrently running pipelines. A
// single admitter goroutine pulls jobs off a queue and blocks each one on
// the limiter's semaphore before spawning it; a job that cannot acquire a
// slot simply blocks there (and stays "pending" in the registry) until a
// running pipeline releases one. The semaphore is the actual cap
// enforcement, not the number of goroutines the dispatcher happens to run.
type Dispatcher struct {
	deps      Deps
	limiter   *core.JobLimiter
	queue     chan core.JobSpec
	admitDone chan struct{}
}

// NewDispatcher starts the admitter goroutine bound to deps. The queue is
// large enough that Submit never blocks the HTTP handler calling it;
// excess jobs simply accumulate as pending in the registry, matching the
// enforced-cap behavior decided in SPEC_FULL.md §5.
func NewDispatcher(deps Deps, maxConcurrent int) *Dispatcher {
	d := &Dispatcher{
		deps:      deps,
		limiter:   core.NewJobLimiter(maxConcurrent),
		queue:     make(chan core.JobSpec, 4096),
		admitDone: make(chan struct{}),
	}

	go d.admit()

	return d
}

// admit pulls jobs off the queue one at a time and blocks each on the
// limiter before spawning it, so a job only transitions out of pending
// once it actually has a slot. It exits once the queue is closed and
// drained, handing every queued job off to a runner before returning.
func (d *Dispatcher) admit() {
	defer close(d.admitDone)

	for spec := range d.queue {
		// context.Background(): pipelines have no hard timeout (per
		// SPEC_FULL.md), so admission waits as long as it takes for a
		// slot to free up rather than giving up.
		d.limiter.Acquire(context.Background())

		go func(spec core.JobSpec) {
			defer d.limiter.Release()
			d.runRecovered(spec)
		}(spec)
	}
}

// runRecovered runs one pipeline, converting a panic into a failed
// transition instead of crashing the worker (and, left unhandled, the
// process). The panic is also reported to Sentry when configured.
func (d *Dispatcher) runRecovered(spec core.JobSpec) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			if ferr := d.deps.Registry.FailJob(spec.ID, fmt.Sprintf("internal error: %v", r)); ferr != nil {
				d.deps.Logger.Error("fail job after panic", "export_id", spec.ID, "error", ferr)
			}
		}
	}()
	Run(context.Background(), d.deps, spec)
}

// Submit enqueues a job for execution. The job remains pending in the
// registry until the admitter acquires it a slot; Run (called once
// admitted) is what transitions it to processing. Callers must never call
// Submit after Shutdown has been invoked: the queue is closed at that
// point and a send on it panics.
func (d *Dispatcher) Submit(spec core.JobSpec) {
	d.queue <- spec
}

// Status reports the dispatcher's current concurrency usage; the server
// logs it during shutdown.
func (d *Dispatcher) Status() core.LimiterStatus {
	return d.limiter.Status()
}

// Shutdown stops admitting new jobs and waits, bounded by ctx, first for
// every already-queued job to be handed off to a runner and then for all
// running pipelines to finish via the limiter's own drain wait. It never
// forcibly cancels a pipeline; if ctx expires first, Shutdown returns
// ctx.Err() while any still-running pipeline continues in the background.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.queue)

	select {
	case <-d.admitDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	return d.limiter.WaitForDrain(ctx)
}
