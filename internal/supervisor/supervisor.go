// Package supervisor composes the notification listener, periodic waker,
// and N claim-loop workers: it owns the shared run-event and
// exit-event, installs the SIGINT/SIGTERM handler, watches every
// background goroutine, and runs the orderly shutdown sequence.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/dbqueue/internal/claimloop"
	"github.com/rezkam/dbqueue/internal/config"
	"github.com/rezkam/dbqueue/internal/domain"
	"github.com/rezkam/dbqueue/internal/errkind"
	"github.com/rezkam/dbqueue/internal/executor"
	"github.com/rezkam/dbqueue/internal/handlerregistry"
	"github.com/rezkam/dbqueue/internal/listener"
	"github.com/rezkam/dbqueue/internal/waker"
)

// Deps are the already-constructed collaborators the supervisor wires
// together; run_queue's main constructs these against concrete types
// before calling Run.
type Deps struct {
	Store    claimloop.Store
	Pool     *pgxpool.Pool // used to build the listener's dedicated connection
	Registry *handlerregistry.Registry
	Config   config.Config
}

// Run executes the full supervisor lifecycle: construct the shared
// signals, start background goroutines, block until shutdown is
// requested, then drain and return. Returns an errkind.BackgroundThreadExit
// if shutdown was triggered by an unexpected component exit instead of
// SIGINT/SIGTERM; a clean shutdown returns nil.
func Run(ctx context.Context, deps Deps) error {
	runSignal := claimloop.NewRunSignal(true) // sweep any work already queued
	exitSignal := claimloop.NewExitSignal()

	ctx, stopNotify := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopNotify()

	var wg sync.WaitGroup
	var crash error
	var mu sync.Mutex

	watch := func(name string, run func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			if !exitSignal.IsSet() {
				err := errkind.BackgroundThreadExit{Thread: name, Err: ctx.Err()}
				slog.ErrorContext(ctx, "background component exited unexpectedly, promoting to shutdown", "error", err)
				mu.Lock()
				crash = err
				mu.Unlock()
				exitSignal.Set()
				runSignal.Set()
			}
		}()
	}

	if deps.Config.NotificationsEnabled && deps.Pool != nil {
		l := listener.New(deps.Pool, deps.Config.ChannelName, runSignal, exitSignal)
		watch("notification listener", l.Start)
	}

	if deps.Config.RescanPeriod > 0 {
		w := waker.New(deps.Config.RescanPeriod, runSignal, exitSignal)
		watch("periodic waker", w.Start)
	}

	run := func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		return executor.Execute(ctx, job, w, deps.Registry)
	}
	for i := 0; i < deps.Config.JobRunners; i++ {
		worker := claimloop.New(i, deps.Store, run, runSignal, exitSignal)
		// Workers run on a context SIGINT/SIGTERM does not cancel, so an
		// in-flight job finishes and commits; they stop via exitSignal.
		watch("worker", func(ctx context.Context) { worker.Start(context.WithoutCancel(ctx)) })
	}

	go func() {
		<-ctx.Done() // SIGINT/SIGTERM
		slog.InfoContext(ctx, "shutdown signal received")
		exitSignal.Set()
		runSignal.Set()
	}()

	<-exitSignal.Done()
	slog.InfoContext(ctx, "waiting for background components to drain")
	wg.Wait()
	slog.InfoContext(ctx, "supervisor shut down cleanly")

	mu.Lock()
	defer mu.Unlock()
	return crash
}
