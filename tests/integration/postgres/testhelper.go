// Package integration holds tests that exercise the real postgres.Store
// against a live database, skipped unless DBQUEUE_TEST_DSN is set.
package integration

import (
	"context"
	"os"
	"testing"

	"github.com/rezkam/dbqueue/internal/infrastructure/persistence/postgres"
	"github.com/stretchr/testify/require"
)

const testChannelName = "dbqueue_notifications_test"

// testDSN returns the DSN tests should connect with, skipping the test when
// it is not configured — integration tests require a real Postgres
// instance and are not run as part of the default unit-test pass.
func testDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("DBQUEUE_TEST_DSN")
	if dsn == "" {
		t.Skip("DBQUEUE_TEST_DSN not set, skipping integration test")
	}
	return dsn
}

// setupStore initializes a postgres.Store against the configured test
// database and truncates the queue tables before and after the test.
func setupStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()

	ctx := context.Background()
	store, err := postgres.NewPostgresStore(ctx, testDSN(t), testChannelName)
	require.NoError(t, err)

	truncate := func() {
		_, _ = store.Pool().Exec(ctx, "truncate table job_results, jobs, job_args, job_kwargs cascade")
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		store.Close()
	})

	return store, ctx
}
