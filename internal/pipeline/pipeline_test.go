package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/rowsource"
)

// fakeSource serves rows from an in-memory slice, batching them the same
// way rowsource.Source would, so pipeline tests never need a database.
type fakeSource struct {
	rows      []rowsource.Record
	batchSize int
	cursor    int
	opened    bool
	closed    bool

	nextErr  error
	countErr error

	cancelAfterBatches int
	batchesServed      int
	registry           *core.Registry
	jobID              string
}

func (f *fakeSource) Count(context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.rows)), nil
}

func (f *fakeSource) Open(context.Context) error {
	f.opened = true
	return nil
}

func (f *fakeSource) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeSource) Next(context.Context) ([]rowsource.Record, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}

	if f.cancelAfterBatches > 0 && f.batchesServed >= f.cancelAfterBatches {
		f.registry.CancelJob(f.jobID)
	}

	if f.cursor >= len(f.rows) {
		return nil, nil
	}

	end := f.cursor + f.batchSize
	if end > len(f.rows) {
		end = len(f.rows)
	}
	batch := f.rows[f.cursor:end]
	f.cursor = end
	f.batchesServed++
	return batch, nil
}

func makeRows(n int) []rowsource.Record {
	rows := make([]rowsource.Record, n)
	for i := range rows {
		rows[i] = rowsource.Record{"id": strconv.Itoa(i), "name": "user" + strconv.Itoa(i)}
	}
	return rows
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCompletesAndWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	registry := core.NewRegistry()
	jobID := registry.Create(core.Filters{}, []string{"id", "name"}, ',', '"')

	rows := makeRows(5)
	deps := Deps{
		Registry:   registry,
		StorageDir: dir,
		BatchSize:  2,
		Logger:     testLogger(),
		NewSource: func(spec core.JobSpec) rowSource {
			return &fakeSource{rows: rows, batchSize: 2}
		},
	}

	spec, _ := registry.Spec(jobID)
	Run(context.Background(), deps, spec)

	snap, ok := registry.Get(jobID)
	if !ok {
		t.Fatal("job vanished from registry")
	}
	if snap.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.Progress.ProcessedRows != 5 || snap.Progress.TotalRows != 5 || snap.Progress.Percentage != 100 {
		t.Fatalf("progress = %+v", snap.Progress)
	}

	path, _ := registry.FilePath(jobID)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}

	content := string(data)
	lines := 0
	for _, b := range content {
		if b == '\n' {
			lines++
		}
	}
	if lines != 6 { // header + 5 rows
		t.Errorf("artifact has %d lines, want 6", lines)
	}
}

func TestRunEmptyResultWritesHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	registry := core.NewRegistry()
	jobID := registry.Create(core.Filters{}, []string{"id", "name"}, ',', '"')

	deps := Deps{
		Registry:   registry,
		StorageDir: dir,
		BatchSize:  10,
		Logger:     testLogger(),
		NewSource: func(spec core.JobSpec) rowSource {
			return &fakeSource{rows: nil}
		},
	}

	spec, _ := registry.Spec(jobID)
	Run(context.Background(), deps, spec)

	snap, _ := registry.Get(jobID)
	if snap.Status != core.StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.Progress.Percentage != 0 {
		t.Errorf("percentage = %d, want 0 (no rows to export)", snap.Progress.Percentage)
	}

	path, _ := registry.FilePath(jobID)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	want := "\"id\",\"name\"\n"
	if string(data) != want {
		t.Errorf("artifact = %q, want %q", string(data), want)
	}
}

func TestRunFailsJobOnSourceError(t *testing.T) {
	dir := t.TempDir()
	registry := core.NewRegistry()
	jobID := registry.Create(core.Filters{}, []string{"id"}, ',', '"')

	deps := Deps{
		Registry:   registry,
		StorageDir: dir,
		BatchSize:  2,
		Logger:     testLogger(),
		NewSource: func(spec core.JobSpec) rowSource {
			return &fakeSource{rows: makeRows(10), batchSize: 2, nextErr: core.ErrTransient}
		},
	}

	spec, _ := registry.Spec(jobID)
	Run(context.Background(), deps, spec)

	snap, _ := registry.Get(jobID)
	if snap.Status != core.StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.Error == nil || *snap.Error == "" {
		t.Errorf("expected an error message recorded on the job")
	}

	artifactPath := filepath.Join(dir, jobID+".csv")
	if _, err := os.Stat(artifactPath); !os.IsNotExist(err) {
		t.Errorf("partial artifact was not removed: %v", err)
	}
}

func TestRunStopsOnCancellationAndRemovesArtifact(t *testing.T) {
	dir := t.TempDir()
	registry := core.NewRegistry()
	jobID := registry.Create(core.Filters{}, []string{"id"}, ',', '"')

	src := &fakeSource{rows: makeRows(100), batchSize: 2, cancelAfterBatches: 3, registry: registry, jobID: jobID}
	deps := Deps{
		Registry:   registry,
		StorageDir: dir,
		BatchSize:  2,
		Logger:     testLogger(),
		NewSource: func(spec core.JobSpec) rowSource {
			return src
		},
	}

	spec, _ := registry.Spec(jobID)
	Run(context.Background(), deps, spec)

	snap, _ := registry.Get(jobID)
	if snap.Status != core.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}

	artifactPath := filepath.Join(dir, jobID+".csv")
	if _, err := os.Stat(artifactPath); !os.IsNotExist(err) {
		t.Errorf("partial artifact was not removed after cancellation: %v", err)
	}
	if !src.closed {
		t.Errorf("row source was not closed after cancellation")
	}
}
