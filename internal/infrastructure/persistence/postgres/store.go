package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/dbqueue/internal/domain"
)

// Store persists Job/JobArg/JobKWArg/JobResult rows,
// performs the transactional SKIP LOCKED claim, and issues NOTIFY on enqueue.
type Store struct {
	pool        *pgxpool.Pool
	channelName string
}

// NewStore wraps an already-connected pool. channelName is the Postgres
// NOTIFY/LISTEN channel used to wake workers on enqueue.
func NewStore(pool *pgxpool.Pool, channelName string) *Store {
	return &Store{pool: pool, channelName: channelName}
}

// Pool returns the underlying connection pool, used by the notification
// listener to acquire its own dedicated connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// ChannelName returns the NOTIFY/LISTEN channel this store publishes to.
func (s *Store) ChannelName() string {
	return s.channelName
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Enqueue inserts a Job row together with its JobArg/JobKWArg rows and
// issues NOTIFY on s.channelName, all in one transaction. Because Postgres
// only delivers a NOTIFY to listeners after the issuing transaction commits,
// a worker woken by the notification is guaranteed to see the row it was
// woken for.
func (s *Store) Enqueue(ctx context.Context, funcName string, args []any, kwargs map[string]any, opts domain.EnqueueOptions) (jobID string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.Must(uuid.NewV7()).String()
	retryDelaySeconds := opts.RetryDelay.Seconds()
	if retryDelaySeconds <= 0 {
		retryDelaySeconds = 1
	}

	_, err = tx.Exec(ctx, `
		insert into jobs (id, func_name, priority, delay_until, max_retries, retry_delay_seconds)
		values ($1, $2, $3, $4, $5, $6)`,
		id, funcName, opts.Priority, opts.DelayUntil, opts.MaxRetries, retryDelaySeconds)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	for i, a := range args {
		encoded, encErr := encodeArg(a)
		if encErr != nil {
			return "", fmt.Errorf("encode positional arg %d: %w", i, encErr)
		}
		if _, err = tx.Exec(ctx, `insert into job_args (job_id, position, arg) values ($1, $2, $3)`, id, i, encoded); err != nil {
			return "", fmt.Errorf("insert job_args[%d]: %w", i, err)
		}
	}

	for name, v := range kwargs {
		encoded, encErr := encodeArg(v)
		if encErr != nil {
			return "", fmt.Errorf("encode keyword arg %q: %w", name, encErr)
		}
		if _, err = tx.Exec(ctx, `insert into job_kwargs (job_id, param_name, arg) values ($1, $2, $3)`, id, name, encoded); err != nil {
			return "", fmt.Errorf("insert job_kwargs[%s]: %w", name, err)
		}
	}

	if _, err = tx.Exec(ctx, `select pg_notify($1, $2)`, s.channelName, id); err != nil {
		return "", fmt.Errorf("notify %s: %w", s.channelName, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit enqueue transaction: %w", err)
	}

	slog.InfoContext(ctx, "job enqueued", "job_id", id, "func_name", funcName)
	return id, nil
}

// Cancel marks job as canceled if it has no final result yet. Returns
// domain.ErrInvalidID if jobID is not a well-formed UUID, or
// domain.ErrNotFound if the job does not exist or is already terminal.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ErrInvalidID
	}

	tag, err := s.pool.Exec(ctx, `
		update jobs set canceled = true
		where id = $1 and final_result_id is null and canceled = false`, jobID)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetResult reads the materialized outcome of job.
func (s *Store) GetResult(ctx context.Context, jobID string) (domain.Result, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.Result{}, domain.ErrInvalidID
	}

	var finalResultID *string
	err := s.pool.QueryRow(ctx, `select final_result_id from jobs where id = $1`, jobID).Scan(&finalResultID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Result{}, domain.ErrNotFound
		}
		return domain.Result{}, fmt.Errorf("lookup job %s: %w", jobID, err)
	}
	if finalResultID == nil {
		return domain.Result{Outcome: domain.OutcomeUnfinished}, nil
	}

	var success bool
	var exception string
	var rawResult []byte
	err = s.pool.QueryRow(ctx, `select success, exception, result from job_results where id = $1`, *finalResultID).
		Scan(&success, &exception, &rawResult)
	if err != nil {
		return domain.Result{}, fmt.Errorf("lookup final result %s: %w", *finalResultID, err)
	}

	if success {
		value, decErr := decodeArg(rawResult)
		if decErr != nil {
			return domain.Result{}, fmt.Errorf("decode result payload: %w", decErr)
		}
		return domain.Result{Outcome: domain.OutcomeSuccess, Value: value}, nil
	}
	return domain.Result{Outcome: domain.OutcomePermanentFailure, Exception: exception}, nil
}

// txResultWriter binds domain.ResultWriter to the single transaction a
// ClaimAndRun call opened, so a job's result write and its retry-state
// mutation are always part of the same commit as the claim that produced it.
type txResultWriter struct {
	tx    pgx.Tx
	jobID string
}

func (w *txResultWriter) WriteResult(ctx context.Context, result *domain.JobResult) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	encoded, err := encodeArg(result.Result)
	if err != nil {
		return "", fmt.Errorf("encode job result payload: %w", err)
	}
	_, err = w.tx.Exec(ctx, `
		insert into job_results (id, job_id, success, started_at, finished_at, exception, traceback, result)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, w.jobID, result.Success, result.StartedAt, result.FinishedAt, result.Exception, result.Traceback, encoded)
	if err != nil {
		return "", fmt.Errorf("insert job_result: %w", err)
	}
	return id, nil
}

func (w *txResultWriter) SetErrorDelayUntil(ctx context.Context, t time.Time) error {
	tag, err := w.tx.Exec(ctx, `update jobs set error_delay_until = $1 where id = $2 and final_result_id is null`, t, w.jobID)
	if err != nil {
		return fmt.Errorf("set error_delay_until: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

func (w *txResultWriter) SetFinalResult(ctx context.Context, resultID string) error {
	tag, err := w.tx.Exec(ctx, `update jobs set final_result_id = $1 where id = $2 and final_result_id is null`, resultID, w.jobID)
	if err != nil {
		return fmt.Errorf("set final_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// claimQuery selects the highest-priority eligible job and locks its row,
// skipping any row already locked by a concurrent claim. The ordering and
// predicate mirror the reference runner's eligibility query exactly:
// unfinished, uncancelled, past both delay columns.
const claimQuery = `
	select id, func_name, queued_at, priority, delay_until, error_delay_until,
	       max_retries, retry_delay_seconds,
	       (select count(*) from job_results r where r.job_id = j.id) as attempts_so_far
	from jobs j
	where final_result_id is null
	  and canceled = false
	  and (delay_until is null or delay_until <= now())
	  and (error_delay_until is null or error_delay_until <= now())
	order by priority, delay_until, error_delay_until
	for update skip locked
	limit 1`

// ClaimAndRun claims at most one eligible job and, if one was found, invokes
// run with the claimed job and a ResultWriter bound to the same transaction
// the claim was made in. Reports claimed=false with a nil error when the
// queue currently has nothing eligible. The transaction commits if run
// returns nil and rolls back otherwise, so a failed write never leaves a
// job claimed without a recorded attempt.
func (s *Store) ClaimAndRun(ctx context.Context, run func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error) (claimed bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				slog.ErrorContext(ctx, "rollback after claim failure failed", "error", rbErr, "rollback_error", rbErr)
			}
		}
	}()

	var retryDelaySeconds float64
	job := &domain.Job{}
	scanErr := tx.QueryRow(ctx, claimQuery).Scan(
		&job.ID, &job.FuncName, &job.QueuedAt, &job.Priority, &job.DelayUntil, &job.ErrorDelayUntil,
		&job.MaxRetries, &retryDelaySeconds, &job.AttemptsSoFar)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return false, tx.Commit(ctx)
		}
		err = fmt.Errorf("claim job: %w", scanErr)
		return false, err
	}
	job.RetryDelay = time.Duration(retryDelaySeconds * float64(time.Second))

	if err = s.loadArgs(ctx, tx, job); err != nil {
		return false, err
	}

	w := &txResultWriter{tx: tx, jobID: job.ID}
	if err = run(ctx, job, w); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit claim transaction: %w", err)
	}
	return true, nil
}

func (s *Store) loadArgs(ctx context.Context, tx pgx.Tx, job *domain.Job) error {
	argRows, err := tx.Query(ctx, `select position, arg from job_args where job_id = $1 order by position`, job.ID)
	if err != nil {
		return fmt.Errorf("load job_args: %w", err)
	}
	defer argRows.Close()
	for argRows.Next() {
		var pos int
		var raw []byte
		if err := argRows.Scan(&pos, &raw); err != nil {
			return fmt.Errorf("scan job_arg: %w", err)
		}
		v, decErr := decodeArg(raw)
		if decErr != nil {
			return fmt.Errorf("decode job_arg at position %d: %w", pos, decErr)
		}
		job.Args = append(job.Args, domain.JobArg{Position: pos, Arg: v})
	}
	if err := argRows.Err(); err != nil {
		return fmt.Errorf("iterate job_args: %w", err)
	}

	kwargRows, err := tx.Query(ctx, `select param_name, arg from job_kwargs where job_id = $1`, job.ID)
	if err != nil {
		return fmt.Errorf("load job_kwargs: %w", err)
	}
	defer kwargRows.Close()
	for kwargRows.Next() {
		var name string
		var raw []byte
		if err := kwargRows.Scan(&name, &raw); err != nil {
			return fmt.Errorf("scan job_kwarg: %w", err)
		}
		v, decErr := decodeArg(raw)
		if decErr != nil {
			return fmt.Errorf("decode job_kwarg %q: %w", name, decErr)
		}
		job.KWArgs = append(job.KWArgs, domain.JobKWArg{ParamName: name, Arg: v})
	}
	if err := kwargRows.Err(); err != nil {
		return fmt.Errorf("iterate job_kwargs: %w", err)
	}
	return nil
}
