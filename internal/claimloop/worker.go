// Package claimloop implements the claim loop / worker: a goroutine
// that repeatedly claims one eligible job and runs it until the queue
// drains, woken by a shared run-event and stopped by a shared exit-event.
package claimloop

import (
	"context"
	"log/slog"

	"github.com/rezkam/dbqueue/internal/domain"
)

// Store is the subset of the store a worker needs: claim one eligible job
// transactionally and run it. Owned here, by the consumer, rather than by
// the postgres package, so the worker never sees the underlying driver or
// transaction type.
type Store interface {
	ClaimAndRun(ctx context.Context, run func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error) (claimed bool, err error)
}

// Runner executes one claimed job against w and reports any infrastructure
// error encountered while recording the outcome. Satisfied by
// executor.Execute with the handler registry bound via a closure.
type Runner func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error

// Worker repeatedly drains the queue whenever the shared run-event fires,
// and stops for good once the shared exit-event fires. Its three states —
// Idle (waiting on the run-event), Draining (claiming until the queue is
// empty), and Stopped — mirror the run()/idle/exiting state the reference
// runner's job-running thread keeps, restructured around Go channels
// instead of threading.Event.
type Worker struct {
	id int

	store Store
	run   Runner

	runSignal  *RunSignal
	exitSignal *ExitSignal
}

// New returns a Worker bound to store and run, woken by runSignal and
// stopped by exitSignal. id is used only for logging.
func New(id int, store Store, run Runner, runSignal *RunSignal, exitSignal *ExitSignal) *Worker {
	return &Worker{
		id:         id,
		store:      store,
		run:        run,
		runSignal:  runSignal,
		exitSignal: exitSignal,
	}
}

// Start blocks, running the worker's loop, until exitSignal fires.
// Intended to be launched with `go w.Start(ctx)` by the supervisor, which
// tracks completion via its own WaitGroup around the call.
func (w *Worker) Start(ctx context.Context) {
	slog.InfoContext(ctx, "worker started", "worker_id", w.id)
	defer slog.InfoContext(ctx, "worker stopped", "worker_id", w.id)

	for {
		select {
		case <-w.exitSignal.Done():
			return
		case <-w.runSignal.Wait():
		}

		if w.exitSignal.IsSet() {
			return
		}

		w.drain(ctx)

		if w.exitSignal.IsSet() {
			return
		}
	}
}

// drain claims and runs jobs until the queue reports nothing eligible, or
// the exit-event fires mid-drain. Clearing the run-event on exhaustion is a
// race between however many workers reach it at the same instant; that is
// harmless because the run-event only ever gates an extra (cheap, empty)
// claim query, never correctness.
func (w *Worker) drain(ctx context.Context) {
	for {
		if w.exitSignal.IsSet() {
			return
		}

		claimed, err := w.store.ClaimAndRun(ctx, w.run)
		if err != nil {
			slog.ErrorContext(ctx, "claim attempt failed", "worker_id", w.id, "error", err)
			return
		}
		if !claimed {
			w.runSignal.Clear()
			return
		}
	}
}
