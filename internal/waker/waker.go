// Package waker implements the periodic waker: it sets the shared
// run-event on a fixed tick, giving the worker pool a liveness floor that
// does not depend on any notification ever arriving.
package waker

import (
	"context"
	"log/slog"
	"time"

	"github.com/rezkam/dbqueue/internal/claimloop"
)

// Waker sets runSignal every period until exitSignal fires.
type Waker struct {
	period     time.Duration
	runSignal  *claimloop.RunSignal
	exitSignal *claimloop.ExitSignal
}

// New returns a Waker. A period of zero disables ticking entirely — Start
// returns immediately — matching the configuration rule that a zero rescan
// period is only valid when the notification listener is enabled.
func New(period time.Duration, runSignal *claimloop.RunSignal, exitSignal *claimloop.ExitSignal) *Waker {
	return &Waker{period: period, runSignal: runSignal, exitSignal: exitSignal}
}

// Start runs the tick loop until exitSignal fires or ctx is cancelled.
// Intended to be launched with `go w.Start(ctx)`.
func (w *Waker) Start(ctx context.Context) {
	if w.period <= 0 {
		slog.InfoContext(ctx, "periodic waker disabled, rescan period is zero")
		return
	}

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	slog.InfoContext(ctx, "periodic waker started", "period", w.period)
	defer slog.InfoContext(ctx, "periodic waker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.exitSignal.Done():
			return
		case <-ticker.C:
			w.runSignal.Set()
		}
	}
}
