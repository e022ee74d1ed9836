package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autorename/internal/pipeline"
	"autorename/internal/sequence"
	"autorename/internal/transport"
	"autorename/internal/transport/localfs"
)

type blockingRunner struct {
	release  chan struct{}
	running  atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	received []string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, ev transport.FileEvent) (pipeline.Outcome, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	r.mu.Lock()
	r.received = append(r.received, ev.FileID)
	r.mu.Unlock()
	select {
	case <-r.release:
		return pipeline.OutcomeDelivered, nil
	case <-ctx.Done():
		return pipeline.OutcomeCancelled, ctx.Err()
	}
}

func newAggregator(t *testing.T) (*sequence.Aggregator, *localfs.Transport) {
	t.Helper()
	base := t.TempDir()
	tr, err := localfs.New(localfs.Options{BlobDir: filepath.Join(base, "blobs"), OutboxDir: filepath.Join(base, "outbox")})
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return sequence.New(tr, nil, nil), tr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleFileRoutesToPipeline(t *testing.T) {
	runner := newBlockingRunner()
	agg, _ := newAggregator(t)
	d := New(runner, agg, nil)

	route, err := d.HandleFile(context.Background(), transport.FileEvent{UserID: 1, FileID: "a"})
	if err != nil || route != RoutePipeline {
		t.Fatalf("HandleFile = %s, %v", route, err)
	}
	waitFor(t, func() bool { return runner.running.Load() == 1 })
	close(runner.release)
	d.Wait()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHandleFileRoutesToSequence(t *testing.T) {
	runner := newBlockingRunner()
	agg, tr := newAggregator(t)
	d := New(runner, agg, nil)
	ctx := context.Background()

	if err := d.StartSequence(ctx, 1, 1); err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	id, _, err := tr.Ingest(strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	route, err := d.HandleFile(ctx, transport.FileEvent{UserID: 1, ChatID: 1, FileID: id, FileName: "Show_720p.mkv"})
	if err != nil || route != RouteSequence {
		t.Fatalf("HandleFile = %s, %v", route, err)
	}
	n, err := d.EndSequence(ctx, 1, 1)
	if err != nil || n != 1 {
		t.Fatalf("EndSequence = %d, %v", n, err)
	}
	if runner.running.Load() != 0 || len(runner.received) != 0 {
		t.Fatal("buffered file must not reach the pipeline")
	}
	_ = d.Close(ctx)
}

func TestCloseRejectsNewWorkAndCancelsOnTimeout(t *testing.T) {
	runner := newBlockingRunner()
	d := New(runner, nil, nil)
	if _, err := d.HandleFile(context.Background(), transport.FileEvent{UserID: 1, FileID: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return runner.running.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v", err)
	}
	if runner.running.Load() != 0 {
		t.Fatal("job should have been cancelled")
	}
	if _, err := d.HandleFile(context.Background(), transport.FileEvent{UserID: 1, FileID: "b"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("HandleFile after close err = %v", err)
	}
}

func TestRunSyncBypassesSequence(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	agg, _ := newAggregator(t)
	d := New(runner, agg, nil)
	ctx := context.Background()
	_ = d.StartSequence(ctx, 1, 1)
	outcome, err := d.RunSync(ctx, transport.FileEvent{UserID: 1, FileID: "a"})
	if err != nil || outcome != pipeline.OutcomeDelivered {
		t.Fatalf("RunSync = %s, %v", outcome, err)
	}
	_ = d.Close(ctx)
}
