package domain

import (
	"context"
	"time"
)

// Job is a unit of work persisted by the store. It is created once by the
// enqueue API together with its JobArg/JobKWArg rows, and thereafter mutated
// only by the executor (error_delay_until, final result) or by an
// administrator (canceled).
type Job struct {
	ID              string
	FuncName        string
	QueuedAt        time.Time
	Priority        int16
	DelayUntil      *time.Time
	ErrorDelayUntil *time.Time
	MaxRetries      int16
	RetryDelay      time.Duration
	FinalResultID   *string
	Canceled        bool

	// Populated by ClaimAndRun alongside the row itself; not separate columns.
	Args   []JobArg
	KWArgs []JobKWArg

	// AttemptsSoFar is the number of JobResult rows that already reference
	// this job at claim time, i.e. before the attempt about to run. The
	// executor uses AttemptsSoFar+1 as this attempt's ordinal when deciding
	// whether retries are exhausted.
	AttemptsSoFar int
}

// JobArg is a single positional argument. (job, position) is unique.
type JobArg struct {
	Position int
	Arg      any
}

// JobKWArg is a single named argument. The resolver takes the last observed
// value when duplicates exist for (job, param_name).
type JobKWArg struct {
	ParamName string
	Arg       any
}

// JobResult is the outcome of one attempt at running a Job.
type JobResult struct {
	ID         string
	JobID      string
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Exception  string
	Traceback  string
	Result     any
}

// EnqueueOptions carries the tunable fields of Enqueue beyond the handler
// identifier and its arguments.
type EnqueueOptions struct {
	Priority   int16
	DelayUntil *time.Time
	MaxRetries int16
	RetryDelay time.Duration
}

// DefaultEnqueueOptions mirrors the defaults documented in the data model:
// priority 1000, no delay, zero retries (exactly one attempt), 1 second
// retry-delay base.
func DefaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{
		Priority:   1000,
		MaxRetries: 0,
		RetryDelay: time.Second,
	}
}

// Outcome is the user-visible status of a job returned by the get-result
// accessor.
type Outcome int

const (
	// OutcomeUnfinished means the job has no final result yet: it may be
	// pending, delayed, or mid-retry.
	OutcomeUnfinished Outcome = iota
	// OutcomeSuccess means the job's final result was a successful attempt.
	OutcomeSuccess
	// OutcomePermanentFailure means the job's final result was a failing
	// attempt (either unresolved handler or retries exhausted).
	OutcomePermanentFailure
)

// Result is the materialized view returned by GetResult: the outcome plus
// whichever payload applies to it.
type Result struct {
	Outcome   Outcome
	Value     any    // set when Outcome == OutcomeSuccess
	Exception string // set when Outcome == OutcomePermanentFailure
}

// ResultWriter is the transaction-scoped handle the executor uses to record
// the outcome of one attempt. It is implemented by the store and handed to
// the executor by the claim loop so that the claim, the result write, and
// the job mutation all happen inside the single transaction the store
// opened to claim the row — the executor and claim loop never see the
// underlying transaction or driver type themselves.
type ResultWriter interface {
	// WriteResult persists one JobResult row and returns its ID.
	WriteResult(ctx context.Context, result *JobResult) (resultID string, err error)
	// SetErrorDelayUntil records when the job next becomes eligible after a
	// retryable failure.
	SetErrorDelayUntil(ctx context.Context, t time.Time) error
	// SetFinalResult marks the job terminal, pointing at resultID.
	SetFinalResult(ctx context.Context, resultID string) error
}
