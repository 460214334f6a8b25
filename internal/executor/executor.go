// Package executor runs one claimed job: it
// resolves the handler, invokes it, records the outcome as a JobResult, and
// applies the retry policy to the job row — all within the transaction the
// claim loop opened to claim the row.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rezkam/dbqueue/internal/domain"
	"github.com/rezkam/dbqueue/internal/errkind"
	"github.com/rezkam/dbqueue/internal/handlerregistry"
)

// Execute runs job exactly once, writing the outcome through w. It never
// returns a handler error to its caller: handler failures become rows, not
// Go errors. A non-nil return indicates an infrastructure problem writing
// through w (errkind.StoreUnavailable), which the claim loop treats as "no
// job" and aborts the attempt.
func Execute(ctx context.Context, job *domain.Job, w domain.ResultWriter, registry *handlerregistry.Registry) error {
	startedAt := time.Now().UTC()

	handler, resolveErr := registry.Resolve(job.FuncName)
	if resolveErr != nil {
		return recordResult(ctx, w, job, startedAt, false, resolveErr.Error(), "", nil, true)
	}

	args, kwargs := materializeArgs(job)
	result, success, exception, traceback := invoke(ctx, handler, args, kwargs)

	if success {
		return recordResult(ctx, w, job, startedAt, true, "", "", result, true)
	}

	// attempt_count is the count as it stands once this attempt's result row
	// is written: the JobResult for this attempt always counts toward it.
	attemptCount := countPriorResults(job) + 1
	permanent := attemptCount > int(job.MaxRetries)
	return recordResult(ctx, w, job, startedAt, false, exception, traceback, nil, permanent)
}

// materializeArgs orders positional args by Position and folds keyword args
// into a map, taking the last observed value when duplicates exist for the
// same param_name.
func materializeArgs(job *domain.Job) ([]any, map[string]any) {
	args := make([]any, len(job.Args))
	for _, a := range job.Args {
		if a.Position >= 0 && a.Position < len(args) {
			args[a.Position] = a.Arg
		}
	}

	kwargs := make(map[string]any, len(job.KWArgs))
	for _, kw := range job.KWArgs {
		kwargs[kw.ParamName] = kw.Arg
	}

	return args, kwargs
}

// invoke calls the handler, converting a panic into the same failure shape
// as a returned error, with the recovered stack trace as the traceback.
func invoke(ctx context.Context, handler handlerregistry.Handler, args []any, kwargs map[string]any) (result any, success bool, exception, traceback string) {
	defer func() {
		if p := recover(); p != nil {
			success = false
			exception = errkind.HandlerPanic{Value: p, StackTrace: string(debug.Stack())}.Error()
			traceback = string(debug.Stack())
		}
	}()

	value, err := handler(ctx, args, kwargs)
	if err != nil {
		return nil, false, err.Error(), ""
	}
	return value, true, "", ""
}

// countPriorResults returns the number of JobResult rows the caller already
// knows about for job, i.e. attempts before this one. The store fills in
// job.AttemptsSoFar at claim time by counting the result rows that already
// reference the job, in the same query that claims it; this helper just
// exposes that count for clarity at the call site above, which adds one for
// the attempt being recorded.
func countPriorResults(job *domain.Job) int {
	return job.AttemptsSoFar
}

func recordResult(ctx context.Context, w domain.ResultWriter, job *domain.Job, startedAt time.Time, success bool, exception, traceback string, value any, terminal bool) error {
	result := &domain.JobResult{
		JobID:      job.ID,
		Success:    success,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Exception:  exception,
		Traceback:  traceback,
		Result:     value,
	}

	resultID, err := w.WriteResult(ctx, result)
	if err != nil {
		return errkind.StoreUnavailable{Err: fmt.Errorf("write job result: %w", err)}
	}

	if success || terminal {
		if err := w.SetFinalResult(ctx, resultID); err != nil {
			return errkind.StoreUnavailable{Err: fmt.Errorf("set final result: %w", err)}
		}
		return nil
	}

	delay := BackOff(job.RetryDelay, job.AttemptsSoFar+1)
	if err := w.SetErrorDelayUntil(ctx, time.Now().UTC().Add(delay)); err != nil {
		return errkind.StoreUnavailable{Err: fmt.Errorf("set error_delay_until: %w", err)}
	}
	return nil
}
