// Package pipeline orchestrates one export job end to end: row source ->
// record formatting -> CSV encoder -> file writer, with backpressure and
// cooperative cancellation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/csv"
	"github.com/JonMunkholm/TUI/internal/rowsource"
)

// rowSource is the subset of *rowsource.Source a pipeline run needs. It is
// declared here, not imported, so tests can substitute an in-memory fake
// without a live Postgres connection.
type rowSource interface {
	Count(ctx context.Context) (int64, error)
	Open(ctx context.Context) error
	Next(ctx context.Context) ([]rowsource.Record, error)
	Close(ctx context.Context) error
}

// Deps are the shared, thread-safe resources every pipeline run needs.
// There is no mutable state across pipelines beyond these.
type Deps struct {
	Pool       *pgxpool.Pool
	Registry   *core.Registry
	StorageDir string
	BatchSize  int
	Logger     *slog.Logger

	// NewSource builds the row source for a job. Defaults to a real
	// *rowsource.Source bound to Pool; tests override it with a fake.
	NewSource func(spec core.JobSpec) rowSource
}

func (d Deps) source(spec core.JobSpec) rowSource {
	if d.NewSource != nil {
		return d.NewSource(spec)
	}
	return rowsource.New(d.Pool, spec.ID, spec.Filters, spec.Columns, d.BatchSize)
}

// Run produces one artifact for one job. It transitions the job through
// processing to a terminal state and never returns an error itself: all
// failures are recorded on the job record, since nothing downstream of
// Run is waiting on a return value (the caller is a background worker).
func Run(ctx context.Context, deps Deps, spec core.JobSpec) {
	log := deps.Logger.With("export_id", spec.ID)

	if err := deps.Registry.StartJob(spec.ID); err != nil {
		log.Error("start job", "error", err)
		return
	}

	if err := os.MkdirAll(deps.StorageDir, 0o755); err != nil {
		fail(deps, spec.ID, log, fmt.Errorf("%w: create storage directory: %v", core.ErrTransient, err))
		return
	}

	src := deps.source(spec)

	total, err := src.Count(ctx)
	if err != nil {
		fail(deps, spec.ID, log, err)
		return
	}
	deps.Registry.UpdateProgress(spec.ID, 0, total)

	artifactPath := filepath.Join(deps.StorageDir, spec.ID+".csv")

	if total == 0 {
		if err := writeHeaderOnly(artifactPath, spec.Columns, spec.Delimiter, spec.QuoteChar); err != nil {
			fail(deps, spec.ID, log, err)
			return
		}
		if err := deps.Registry.CompleteJob(spec.ID, artifactPath); err != nil {
			log.Error("complete job", "error", err)
		}
		return
	}

	if err := src.Open(ctx); err != nil {
		fail(deps, spec.ID, log, err)
		return
	}

	file, err := os.Create(artifactPath)
	if err != nil {
		src.Close(ctx)
		fail(deps, spec.ID, log, fmt.Errorf("%w: create artifact file: %v", core.ErrTransient, err))
		return
	}
	deps.Registry.SetArtifactPath(spec.ID, artifactPath)

	encoder, err := csv.NewEncoder(file, spec.Columns, csv.Dialect{Delimiter: spec.Delimiter, QuoteChar: spec.QuoteChar})
	if err != nil {
		file.Close()
		src.Close(ctx)
		fail(deps, spec.ID, log, fmt.Errorf("%w: %v", core.ErrProgrammer, err))
		return
	}
	if err := encoder.WriteHeader(); err != nil {
		file.Close()
		src.Close(ctx)
		fail(deps, spec.ID, log, fmt.Errorf("%w: write header: %v", core.ErrTransient, err))
		return
	}

	outcome := stream(ctx, deps, spec, src, encoder, total)

	closeErr := file.Close()
	src.Close(ctx)

	switch outcome.kind {
	case outcomeCancelled:
		removeBestEffort(log, artifactPath)
		log.Info("export cancelled", "processed_rows", outcome.processed)

	case outcomeFailed:
		removeBestEffort(log, artifactPath)
		fail(deps, spec.ID, log, outcome.err)

	case outcomeCompleted:
		if closeErr != nil {
			removeBestEffort(log, artifactPath)
			fail(deps, spec.ID, log, fmt.Errorf("%w: close artifact file: %v", core.ErrTransient, closeErr))
			return
		}
		if err := deps.Registry.CompleteJob(spec.ID, artifactPath); err != nil {
			log.Error("complete job", "error", err)
		}
	}
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeCancelled
	outcomeFailed
)

type runOutcome struct {
	kind      outcomeKind
	err       error
	processed int64
}

// stream drives the row source -> encoder handoff. The handoff is an
// unbuffered channel: a send only completes once the writer goroutine is
// ready to receive, and the writer only loops back to receive once it has
// finished encoding the previous record. That keeps at most one batch
// plus one record in flight at any time, regardless of how large the
// result set is.
func stream(ctx context.Context, deps Deps, spec core.JobSpec, src rowSource, encoder *csv.Encoder, total int64) runOutcome {
	records := make(chan csv.Record)
	writeErr := make(chan error, 1)

	go func() {
		for rec := range records {
			if err := encoder.WriteRecord(rec); err != nil {
				writeErr <- fmt.Errorf("%w: write record: %v", core.ErrTransient, err)
				for range records {
					// drain so the producer's pending send does not block forever
				}
				return
			}
		}
		writeErr <- nil
	}()

	var processed int64

	for {
		if status, ok := deps.Registry.Status(spec.ID); ok && status == core.StatusCancelled {
			close(records)
			<-writeErr
			return runOutcome{kind: outcomeCancelled, processed: processed}
		}

		batch, err := src.Next(ctx)
		if err != nil {
			close(records)
			<-writeErr
			return runOutcome{kind: outcomeFailed, err: err, processed: processed}
		}
		if len(batch) == 0 {
			break
		}

		for _, rec := range batch {
			select {
			case records <- csv.Record(rec):
				processed++
			case err := <-writeErr:
				close(records)
				return runOutcome{kind: outcomeFailed, err: err, processed: processed}
			}
		}

		deps.Registry.UpdateProgress(spec.ID, processed, total)
	}

	close(records)
	if err := <-writeErr; err != nil {
		return runOutcome{kind: outcomeFailed, err: err, processed: processed}
	}

	deps.Registry.UpdateProgress(spec.ID, processed, total)
	return runOutcome{kind: outcomeCompleted, processed: processed}
}

func writeHeaderOnly(path string, columns []string, delimiter, quoteChar rune) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create artifact file: %v", core.ErrTransient, err)
	}
	defer file.Close()

	encoder, err := csv.NewEncoder(file, columns, csv.Dialect{Delimiter: delimiter, QuoteChar: quoteChar})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrProgrammer, err)
	}
	if err := encoder.WriteHeader(); err != nil {
		return fmt.Errorf("%w: write header: %v", core.ErrTransient, err)
	}
	return nil
}

func fail(deps Deps, jobID string, log *slog.Logger, err error) {
	log.Error("export failed", "error", err)
	if ferr := deps.Registry.FailJob(jobID, core.Message(err)); ferr != nil {
		log.Error("record failure", "error", ferr)
	}
}

func removeBestEffort(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("remove partial artifact", "path", path, "error", err)
	}
}
