package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/dbqueue/internal/domain"
	"github.com/rezkam/dbqueue/internal/errkind"
	"github.com/rezkam/dbqueue/internal/executor"
	"github.com/rezkam/dbqueue/internal/handlerregistry"
)

// fakeWriter is a hand-rolled mock of domain.ResultWriter, recording every
// call made against it for assertions and failing a call when its matching
// error field is set.
type fakeWriter struct {
	results          []*domain.JobResult
	errorDelayUntil  *time.Time
	finalResultID    *string
	writeResultErr   error
	setFinalErr      error
	setErrorDelayErr error
}

func (f *fakeWriter) WriteResult(_ context.Context, result *domain.JobResult) (string, error) {
	if f.writeResultErr != nil {
		return "", f.writeResultErr
	}
	f.results = append(f.results, result)
	return "result-id", nil
}

func (f *fakeWriter) SetErrorDelayUntil(_ context.Context, t time.Time) error {
	if f.setErrorDelayErr != nil {
		return f.setErrorDelayErr
	}
	f.errorDelayUntil = &t
	return nil
}

func (f *fakeWriter) SetFinalResult(_ context.Context, resultID string) error {
	if f.setFinalErr != nil {
		return f.setFinalErr
	}
	f.finalResultID = &resultID
	return nil
}

func TestExecute_SuccessSetsFinalResult(t *testing.T) {
	registry := handlerregistry.New()
	registry.Register("add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})

	job := &domain.Job{ID: "job-1", FuncName: "add", MaxRetries: 2, RetryDelay: time.Second,
		Args: []domain.JobArg{{Position: 0, Arg: 1.0}, {Position: 1, Arg: 2.0}}}
	w := &fakeWriter{}

	err := executor.Execute(context.Background(), job, w, registry)
	require.NoError(t, err)

	require.Len(t, w.results, 1)
	assert.True(t, w.results[0].Success)
	assert.Equal(t, 3.0, w.results[0].Result)
	require.NotNil(t, w.finalResultID)
	assert.Nil(t, w.errorDelayUntil)
}

func TestExecute_UnresolvedHandlerIsPermanentOnFirstAttempt(t *testing.T) {
	registry := handlerregistry.New()
	job := &domain.Job{ID: "job-1", FuncName: "missing", MaxRetries: 5, RetryDelay: time.Second}
	w := &fakeWriter{}

	err := executor.Execute(context.Background(), job, w, registry)
	require.NoError(t, err)

	require.Len(t, w.results, 1)
	assert.False(t, w.results[0].Success)
	assert.Contains(t, w.results[0].Exception, "missing")
	require.NotNil(t, w.finalResultID, "unresolved handler is terminal even with retries remaining")
}

func TestExecute_FailureWithRetriesRemainingSetsErrorDelay(t *testing.T) {
	registry := handlerregistry.New()
	registry.Register("fail", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errors.New("transient")
	})

	job := &domain.Job{ID: "job-1", FuncName: "fail", MaxRetries: 3, RetryDelay: time.Second, AttemptsSoFar: 0}
	w := &fakeWriter{}

	err := executor.Execute(context.Background(), job, w, registry)
	require.NoError(t, err)

	require.Len(t, w.results, 1)
	assert.False(t, w.results[0].Success)
	assert.Nil(t, w.finalResultID, "retries remain, job stays eligible")
	require.NotNil(t, w.errorDelayUntil)
}

func TestExecute_FailureExhaustsRetriesIsPermanent(t *testing.T) {
	registry := handlerregistry.New()
	registry.Register("fail", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errors.New("transient")
	})

	// AttemptsSoFar=1 means this is the 2nd attempt; MaxRetries=1 means
	// attempt_count (2) > max_retries (1): exhausted.
	job := &domain.Job{ID: "job-1", FuncName: "fail", MaxRetries: 1, RetryDelay: time.Second, AttemptsSoFar: 1}
	w := &fakeWriter{}

	err := executor.Execute(context.Background(), job, w, registry)
	require.NoError(t, err)

	require.NotNil(t, w.finalResultID)
	assert.Nil(t, w.errorDelayUntil)
}

func TestExecute_PanicIsCapturedAsFailure(t *testing.T) {
	registry := handlerregistry.New()
	registry.Register("boom", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		panic("kaboom")
	})

	job := &domain.Job{ID: "job-1", FuncName: "boom", MaxRetries: 0, RetryDelay: time.Second}
	w := &fakeWriter{}

	err := executor.Execute(context.Background(), job, w, registry)
	require.NoError(t, err)

	require.Len(t, w.results, 1)
	assert.False(t, w.results[0].Success)
	assert.Contains(t, w.results[0].Exception, "kaboom")
	require.NotNil(t, w.finalResultID)
}

func TestExecute_StoreFailureIsReportedAsStoreUnavailable(t *testing.T) {
	registry := handlerregistry.New()
	registry.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})

	job := &domain.Job{ID: "job-1", FuncName: "noop"}
	w := &fakeWriter{writeResultErr: errors.New("connection reset")}

	err := executor.Execute(context.Background(), job, w, registry)
	require.Error(t, err)
	assert.True(t, errkind.IsStoreUnavailable(err))
}
