package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/TUI/internal/core"
	"github.com/JonMunkholm/TUI/internal/rowsource"
)

func TestDispatcherEnforcesConcurrencyCap(t *testing.T) {
	registry := core.NewRegistry()
	dir := t.TempDir()

	var running, maxRunning int32
	release := make(chan struct{})

	deps := Deps{
		Registry:   registry,
		StorageDir: dir,
		BatchSize:  10,
		Logger:     testLogger(),
		NewSource: func(spec core.JobSpec) rowSource {
			return &blockingSource{release: release, running: &running, maxRunning: &maxRunning}
		},
	}

	d := NewDispatcher(deps, 2)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = registry.Create(core.Filters{}, []string{"id"}, ',', '"')
		spec, _ := registry.Spec(ids[i])
		d.Submit(spec)
	}

	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Errorf("observed %d concurrently running pipelines, want <= 2", got)
	}

	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for _, id := range ids {
		snap, ok := registry.Get(id)
		if !ok || snap.Status != core.StatusCompleted {
			t.Errorf("job %s status = %v, want completed", id, snap.Status)
		}
	}
}

type blockingSource struct {
	release    chan struct{}
	running    *int32
	maxRunning *int32
	opened     bool
}

func (b *blockingSource) Count(context.Context) (int64, error) { return 10, nil }
func (b *blockingSource) Open(context.Context) error            { b.opened = true; return nil }
func (b *blockingSource) Close(context.Context) error           { return nil }

func (b *blockingSource) Next(context.Context) ([]rowsource.Record, error) {
	n := atomic.AddInt32(b.running, 1)
	for {
		cur := atomic.LoadInt32(b.maxRunning)
		if n <= cur {
			break
		}
		if atomic.CompareAndSwapInt32(b.maxRunning, cur, n) {
			break
		}
	}
	<-b.release
	atomic.AddInt32(b.running, -1)
	return nil, nil
}
