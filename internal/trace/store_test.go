package trace_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/answersvc/internal/trace"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if ANSWERSVC_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ANSWERSVC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ANSWERSVC_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestStore_SessionRunSpanLifecycle(t *testing.T) {
	store, err := trace.Open(testDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sessionID := "sess-" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, store.CreateSession(sessionID, "language=en-US"))

	runID := "run-" + sessionID
	require.NoError(t, store.CreateRun(runID, sessionID))
	require.NoError(t, store.UpdateRun(runID, 125.5, "hello", "hi there", "ok"))

	require.NoError(t, store.CreateSpan(trace.Span{
		ID:         "span-" + runID,
		RunID:      runID,
		Name:       "validate",
		StartedAt:  time.Now().UTC(),
		DurationMs: 4.2,
		Input:      "hello",
		Output:     "hello",
		Status:     "ok",
	}))
	require.NoError(t, store.EndSession(sessionID))

	sess, runs, err := store.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, sessionID, sess.ID)
	require.NotNil(t, sess.EndedAt)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].ID)

	run, spans, err := store.GetRun(sessionID, runID)
	require.NoError(t, err)
	require.Equal(t, "ok", run.Status)
	require.Len(t, spans, 1)
	require.Equal(t, "validate", spans[0].Name)
}

func TestStore_ListSessions(t *testing.T) {
	store, err := trace.Open(testDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sessionID := "list-" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, store.CreateSession(sessionID, ""))

	sessions, total, err := store.ListSessions(10, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, total, 1)
	require.NotEmpty(t, sessions)
}
