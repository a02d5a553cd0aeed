// Package store persists voting sessions, compression metrics and workflow
// results to SQLite at .forge/forge.db. Persistence is a mirror for
// post-run reporting; the in-memory logs remain authoritative during a run.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"todoforge/internal/compress"
	"todoforge/internal/congress"
	"todoforge/internal/logging"
)

// Store wraps a single SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	logging.Store("Opening store at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenForWorkspace opens the store at the workspace's .forge/forge.db.
func OpenForWorkspace(workspace string) (*Store, error) {
	return Open(filepath.Join(workspace, ".forge", "forge.db"))
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS voting_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		sequence INTEGER NOT NULL,
		decision_type TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		context TEXT NOT NULL,
		approved INTEGER NOT NULL,
		yes INTEGER NOT NULL,
		no INTEGER NOT NULL,
		unanimous INTEGER NOT NULL,
		votes_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_run ON voting_sessions(run_id, sequence);

	CREATE TABLE IF NOT EXISTS compression_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		original_tokens INTEGER NOT NULL,
		final_tokens INTEGER NOT NULL,
		rounds INTEGER NOT NULL,
		success INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflow_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		state TEXT NOT NULL,
		commit_aborted INTEGER NOT NULL,
		test_exit_code INTEGER NOT NULL,
		plan TEXT NOT NULL,
		files_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runSink binds a run id to the store so it can serve as a
// congress.SessionSink.
type runSink struct {
	store *Store
	runID string
}

// SessionSink returns a congress.SessionSink that tags sessions with runID.
func (s *Store) SessionSink(runID string) congress.SessionSink {
	return &runSink{store: s, runID: runID}
}

func (r *runSink) SaveSession(session congress.VotingSession) error {
	return r.store.SaveSession(r.runID, session)
}

// SaveSession persists one finalized voting session.
func (s *Store) SaveSession(runID string, session congress.VotingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	votes, err := json.Marshal(session.Decision.Votes)
	if err != nil {
		return fmt.Errorf("failed to marshal votes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO voting_sessions
		(run_id, sequence, decision_type, prompt, response, context, approved, yes, no, unanimous, votes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, session.Sequence, session.DecisionType, session.Prompt, session.Response, session.Context,
		boolInt(session.Decision.Approved), session.Decision.Yes, session.Decision.No,
		boolInt(session.Decision.Unanimous), string(votes), session.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	logging.StoreDebug("saved session %d (run=%s)", session.Sequence, runID)
	return nil
}

// ListSessions returns all sessions for a run in sequence order.
func (s *Store) ListSessions(runID string) ([]congress.VotingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT sequence, decision_type, prompt, response, context, approved, yes, no, unanimous, votes_json, created_at
		FROM voting_sessions WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []congress.VotingSession
	for rows.Next() {
		var (
			session             congress.VotingSession
			approved, unanimous int
			votesJSON, created  string
		)
		if err := rows.Scan(&session.Sequence, &session.DecisionType, &session.Prompt, &session.Response,
			&session.Context, &approved, &session.Decision.Yes, &session.Decision.No,
			&unanimous, &votesJSON, &created); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.Decision.Approved = approved != 0
		session.Decision.Unanimous = unanimous != 0
		session.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		if err := json.Unmarshal([]byte(votesJSON), &session.Decision.Votes); err != nil {
			return nil, fmt.Errorf("failed to decode votes: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// SaveCompressionAttempts persists compression metrics for a run.
func (s *Store) SaveCompressionAttempts(runID string, attempts []compress.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, a := range attempts {
		if _, err := tx.Exec(`
			INSERT INTO compression_attempts
			(run_id, model, original_tokens, final_tokens, rounds, success, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, a.Model, a.OriginalTokens, a.FinalTokens, a.Rounds, boolInt(a.Success),
			a.Duration.Milliseconds(), a.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert attempt: %w", err)
		}
	}
	return tx.Commit()
}

// WorkflowRecord is the persisted shape of one coordinator run.
// Kept store-local so the workflow package owns its richer result type.
type WorkflowRecord struct {
	RunID         string
	Branch        string
	State         string
	CommitAborted bool
	TestExitCode  int
	Plan          string
	FilesJSON     string
	CreatedAt     time.Time
}

// SaveWorkflowResult persists the outcome of one coordinator run.
func (s *Store) SaveWorkflowResult(rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO workflow_results
		(run_id, branch, state, commit_aborted, test_exit_code, plan, files_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Branch, rec.State, boolInt(rec.CommitAborted), rec.TestExitCode,
		rec.Plan, rec.FilesJSON, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow result: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
