package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/dbqueue/internal/domain"
	"github.com/rezkam/dbqueue/internal/ptr"
)

func TestEnqueueAndClaimSuccessFlow(t *testing.T) {
	store, ctx := setupStore(t)

	jobID, err := store.Enqueue(ctx, "echo", []any{"hello"}, nil, domain.DefaultEnqueueOptions())
	require.NoError(t, err)

	var gotArgs []any
	claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		gotArgs = make([]any, len(job.Args))
		for _, a := range job.Args {
			gotArgs[a.Position] = a.Arg
		}
		resultID, err := w.WriteResult(ctx, &domain.JobResult{
			JobID:      job.ID,
			Success:    true,
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
			Result:     job.Args[0].Arg,
		})
		require.NoError(t, err)
		return w.SetFinalResult(ctx, resultID)
	})
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, []any{"hello"}, gotArgs)

	result, err := store.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "hello", result.Value)

	// A second claim finds nothing eligible: final_result is now set.
	claimed, err = store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		t.Fatal("should not claim an already-finalized job")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimSkipsUneligibleJobs(t *testing.T) {
	store, ctx := setupStore(t)

	opts := domain.DefaultEnqueueOptions()
	opts.DelayUntil = ptr.To(time.Now().Add(time.Hour))
	_, err := store.Enqueue(ctx, "noop", nil, nil, opts)
	require.NoError(t, err)

	claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		t.Fatal("a delayed job must not be claimed before delay_until")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, claimed, "no job should be eligible yet")
}

// TestClaimRespectsPriorityOrder enqueues three jobs with priorities 1000,
// 10, and 500 (lower numbers are more urgent) and asserts ClaimAndRun drains
// them in ascending priority order, not enqueue order.
func TestClaimRespectsPriorityOrder(t *testing.T) {
	store, ctx := setupStore(t)

	optsWithPriority := func(priority int16) domain.EnqueueOptions {
		opts := domain.DefaultEnqueueOptions()
		opts.Priority = priority
		return opts
	}

	idA, err := store.Enqueue(ctx, "noop", nil, nil, optsWithPriority(1000))
	require.NoError(t, err)
	idB, err := store.Enqueue(ctx, "noop", nil, nil, optsWithPriority(10))
	require.NoError(t, err)
	idC, err := store.Enqueue(ctx, "noop", nil, nil, optsWithPriority(500))
	require.NoError(t, err)

	var claimOrder []string
	for i := 0; i < 3; i++ {
		claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
			claimOrder = append(claimOrder, job.ID)
			resultID, err := w.WriteResult(ctx, &domain.JobResult{
				JobID: job.ID, Success: true,
				StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
			})
			require.NoError(t, err)
			return w.SetFinalResult(ctx, resultID)
		})
		require.NoError(t, err)
		require.True(t, claimed)
	}

	assert.Equal(t, []string{idB, idC, idA}, claimOrder, "priority 10 claims before 500, which claims before 1000")
}

func TestCancelPreventsClaim(t *testing.T) {
	store, ctx := setupStore(t)

	jobID, err := store.Enqueue(ctx, "noop", nil, nil, domain.DefaultEnqueueOptions())
	require.NoError(t, err)
	require.NoError(t, store.Cancel(ctx, jobID))

	claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		t.Fatal("a canceled job must not be claimed")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCancelAndGetResultRejectMalformedID(t *testing.T) {
	store, ctx := setupStore(t)

	err := store.Cancel(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = store.GetResult(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

// TestConcurrentClaimIsExclusive enqueues N jobs and races M goroutines to
// drain them, asserting every job is claimed exactly once — the property
// SELECT ... FOR UPDATE SKIP LOCKED exists to guarantee.
func TestConcurrentClaimIsExclusive(t *testing.T) {
	store, ctx := setupStore(t)

	const jobCount = 20
	const workerCount = 5

	jobIDs := make(map[string]struct{}, jobCount)
	for i := 0; i < jobCount; i++ {
		id, err := store.Enqueue(ctx, "noop", nil, nil, domain.DefaultEnqueueOptions())
		require.NoError(t, err)
		jobIDs[id] = struct{}{}
	}

	var claims sync.Map
	var claimedTotal int64

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
					if _, dup := claims.LoadOrStore(job.ID, true); dup {
						t.Errorf("job %s claimed more than once", job.ID)
					}
					atomic.AddInt64(&claimedTotal, 1)
					resultID, err := w.WriteResult(ctx, &domain.JobResult{
						JobID: job.ID, Success: true,
						StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
					})
					if err != nil {
						return err
					}
					return w.SetFinalResult(ctx, resultID)
				})
				require.NoError(t, err)
				if !claimed {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, jobCount, claimedTotal)
	for id := range jobIDs {
		_, ok := claims.Load(id)
		assert.True(t, ok, "job %s was never claimed", id)
	}
}

func TestRetryExhaustionSetsPermanentFailure(t *testing.T) {
	store, ctx := setupStore(t)

	opts := domain.DefaultEnqueueOptions()
	opts.MaxRetries = 0 // exactly one attempt
	jobID, err := store.Enqueue(ctx, "noop", nil, nil, opts)
	require.NoError(t, err)

	claimed, err := store.ClaimAndRun(ctx, func(ctx context.Context, job *domain.Job, w domain.ResultWriter) error {
		resultID, err := w.WriteResult(ctx, &domain.JobResult{
			JobID: job.ID, Success: false, Exception: "boom",
			StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		// attempt_count (1) > max_retries (0): permanent failure.
		return w.SetFinalResult(ctx, resultID)
	})
	require.NoError(t, err)
	assert.True(t, claimed)

	result, err := store.GetResult(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePermanentFailure, result.Outcome)
	assert.Equal(t, "boom", result.Exception)
}
