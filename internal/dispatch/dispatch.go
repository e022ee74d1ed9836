// Package dispatch routes inbound files and sequence commands to the
// sequence aggregator or the rename pipeline.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"autorename/internal/logging"
	"autorename/internal/pipeline"
	"autorename/internal/sequence"
	"autorename/internal/services"
	"autorename/internal/transport"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("dispatcher closed")

// Runner runs one rename job.
type Runner interface {
	Run(ctx context.Context, ev transport.FileEvent) (pipeline.Outcome, error)
}

// Route says where HandleFile sent an event.
type Route string

const (
	RouteSequence Route = "sequence"
	RoutePipeline Route = "pipeline"
)

// Dispatcher owns the lifetime of asynchronous jobs.
type Dispatcher struct {
	runner     Runner
	aggregator *sequence.Aggregator
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New constructs a Dispatcher. Concurrency limits live in the runner.
func New(runner Runner, aggregator *sequence.Aggregator, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		runner:     runner,
		aggregator: aggregator,
		logger:     logging.NewComponentLogger(logger, "dispatch"),
		ctx:        ctx,
		cancel:     cancel,
	}
	return d
}

// HandleFile buffers ev into an open sequence, or starts a pipeline run in
// the background. The run outlives ctx; only Close stops it.
func (d *Dispatcher) HandleFile(ctx context.Context, ev transport.FileEvent) (Route, error) {
	if d.aggregator != nil && d.aggregator.Add(ctx, ev) {
		return RouteSequence, nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	jobCtx := d.ctx
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		jobCtx = services.WithRequestID(jobCtx, rid)
	}
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.Run(jobCtx, ev); err != nil {
			d.logger.Debug("background job ended with error",
				logging.UserID(ev.UserID),
				logging.String(logging.FieldFileID, ev.FileID),
				logging.Error(err),
			)
		}
	}()
	return RoutePipeline, nil
}

// RunSync runs ev through the pipeline on the caller's goroutine,
// bypassing sequence buffering.
func (d *Dispatcher) RunSync(ctx context.Context, ev transport.FileEvent) (pipeline.Outcome, error) {
	return d.runner.Run(ctx, ev)
}

// StartSequence opens a sequence for userID.
func (d *Dispatcher) StartSequence(ctx context.Context, userID int64, chat transport.ChatID) error {
	if d.aggregator == nil {
		return errors.New("sequences are not enabled")
	}
	return d.aggregator.Start(ctx, userID, chat)
}

// EndSequence flushes the sequence of userID.
func (d *Dispatcher) EndSequence(ctx context.Context, userID int64, chat transport.ChatID) (int, error) {
	if d.aggregator == nil {
		return 0, errors.New("sequences are not enabled")
	}
	return d.aggregator.End(ctx, userID, chat)
}

// Wait blocks until every background job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops intake and waits for running jobs. When ctx expires first,
// the remaining jobs see their context cancelled and Close waits for them
// to unwind.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
