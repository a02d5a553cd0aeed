package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoforge/internal/compress"
	"todoforge/internal/congress"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSession(seq int) congress.VotingSession {
	return congress.VotingSession{
		Sequence:     seq,
		DecisionType: "code_edit",
		Prompt:       "edit parser.go",
		Response:     "func Parse() {}",
		Context:      "repo summary",
		Decision: congress.Decision{
			Votes: []congress.Vote{
				{Persona: "Cassius", Approve: true, Confidence: 0.9, Reason: "sound"},
				{Persona: "Aurora", Approve: true, Confidence: 0.7, Reason: "forward"},
				{Persona: "Mercy", Approve: false, Confidence: 0.6, Reason: "churn"},
			},
			Approved:  true,
			Yes:       2,
			No:        1,
			Unanimous: false,
		},
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := sampleSession(1)
	require.NoError(t, s.SaveSession("run-1", want))

	got, err := s.ListSessions("run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestListSessionsScopedToRun(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveSession("run-a", sampleSession(1)))
	require.NoError(t, s.SaveSession("run-a", sampleSession(2)))
	require.NoError(t, s.SaveSession("run-b", sampleSession(1)))

	a, err := s.ListSessions("run-a")
	require.NoError(t, err)
	assert.Len(t, a, 2)
	assert.Equal(t, 1, a[0].Sequence)
	assert.Equal(t, 2, a[1].Sequence)

	b, err := s.ListSessions("run-b")
	require.NoError(t, err)
	assert.Len(t, b, 1)
}

func TestSessionSinkTagsRun(t *testing.T) {
	s := openTestStore(t)

	sink := s.SessionSink("run-x")
	require.NoError(t, sink.SaveSession(sampleSession(1)))

	got, err := s.ListSessions("run-x")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveCompressionAttempts(t *testing.T) {
	s := openTestStore(t)

	attempts := []compress.Attempt{
		{Model: "llama3.2", OriginalTokens: 40000, FinalTokens: 9000, Rounds: 2, Success: true, Duration: 3 * time.Second, At: time.Now()},
		{Model: "llama3.2", OriginalTokens: 12000, FinalTokens: 11800, Rounds: 1, Success: false, Duration: time.Second, At: time.Now()},
	}
	require.NoError(t, s.SaveCompressionAttempts("run-1", attempts))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM compression_attempts WHERE run_id = 'run-1'`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSaveWorkflowResult(t *testing.T) {
	s := openTestStore(t)

	rec := WorkflowRecord{
		RunID:         "run-1",
		Branch:        "forge/streaming-parser-1a2b3c4d",
		State:         "aborted_by_test_failure",
		CommitAborted: true,
		TestExitCode:  1,
		Plan:          "EDIT: parser.go",
		FilesJSON:     `[{"path":"parser.go","op":"EDIT"}]`,
	}
	require.NoError(t, s.SaveWorkflowResult(rec))

	var state string
	var aborted int
	require.NoError(t, s.db.QueryRow(
		`SELECT state, commit_aborted FROM workflow_results WHERE run_id = 'run-1'`).Scan(&state, &aborted))
	assert.Equal(t, "aborted_by_test_failure", state)
	assert.Equal(t, 1, aborted)
}
