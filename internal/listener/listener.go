// Package listener implements the notification listener: a dedicated
// Postgres connection that LISTENs on the store's notify channel and sets
// the shared run-event on every message, giving workers a prompt wake-up
// instead of waiting for the periodic tick.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/dbqueue/internal/claimloop"
)

// pollTimeout bounds each WaitForNotification call, the Go equivalent of the
// reference implementation's `select.select(..., timeout=30)`: with no
// notification and no shutdown, the loop simply wakes up and tries again,
// so a connection drop or a missed NOTIFY never wedges the listener.
const pollTimeout = 30 * time.Second

// Listener owns one dedicated pool connection for the lifetime of a run.
type Listener struct {
	pool        *pgxpool.Pool
	channelName string
	runSignal   *claimloop.RunSignal
	exitSignal  *claimloop.ExitSignal
}

// New returns a Listener that will LISTEN on channelName using a dedicated
// connection acquired from pool.
func New(pool *pgxpool.Pool, channelName string, runSignal *claimloop.RunSignal, exitSignal *claimloop.ExitSignal) *Listener {
	return &Listener{pool: pool, channelName: channelName, runSignal: runSignal, exitSignal: exitSignal}
}

// Start acquires a dedicated connection, issues LISTEN, and sets runSignal
// on every notification until exitSignal fires or ctx is cancelled. Blocks
// until it returns; intended to be launched with `go l.Start(ctx)`.
func (l *Listener) Start(ctx context.Context) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "notification listener failed to acquire connection", "error", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channelName); err != nil {
		slog.ErrorContext(ctx, "notification listener failed to LISTEN", "channel", l.channelName, "error", err)
		return
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "UNLISTEN "+l.channelName); err != nil {
			slog.WarnContext(ctx, "notification listener failed to UNLISTEN on shutdown", "error", err)
		}
	}()

	slog.InfoContext(ctx, "notification listener started", "channel", l.channelName)
	defer slog.InfoContext(ctx, "notification listener stopped")

	for {
		if l.exitSignal.IsSet() || ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		notification, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue // poll timeout, nothing to do
			}
			if ctx.Err() != nil || l.exitSignal.IsSet() {
				return
			}
			// Anything other than our own poll timeout means the dedicated
			// connection is no longer usable (e.g. the server dropped it).
			// Terminate the loop rather than retrying on a dead connection;
			// the supervisor's watchdog observes this exit and promotes it
			// to a full shutdown.
			slog.ErrorContext(ctx, "notification wait failed, terminating listener", "error", err)
			return
		}

		slog.DebugContext(ctx, "received notification", "channel", notification.Channel, "payload", notification.Payload)
		if !l.exitSignal.IsSet() {
			l.runSignal.Set()
		}
	}
}
