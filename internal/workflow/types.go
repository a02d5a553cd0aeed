package workflow

import (
	"time"

	"todoforge/internal/compress"
	"todoforge/internal/congress"
)

// State is a coordinator terminal state.
type State string

const (
	StateSuccess              State = "success"
	StateAbortedByTestFailure State = "aborted_by_test_failure"
	StateFailed               State = "failed"
)

// Op is a planned file operation.
type Op string

const (
	OpEdit   Op = "EDIT"
	OpDelete Op = "DELETE"
)

// FileOp is one entry of the minimal file-operation plan.
type FileOp struct {
	Path string `json:"path"`
	Op   Op     `json:"op"`
}

// Plan is the outcome of the planning phase.
type Plan struct {
	Branch string   `json:"branch"`
	Ops    []FileOp `json:"ops"`
	Text   string   `json:"text"` // raw plan response, kept for reporting
}

// FileChange records one touched file, before and after, regardless of
// whether the operation succeeded.
type FileChange struct {
	Path     string `json:"path"`
	Op       Op     `json:"op"`
	Before   string `json:"before"`
	After    string `json:"after"`
	Applied  bool   `json:"applied"`
	Err      string `json:"error,omitempty"`
	Rejected bool   `json:"rejected,omitempty"` // vetoed by the congress
}

// TestOutcome bundles the hard-gate evidence: the generated script, the
// authoritative exit code, and the advisory AI assessment.
type TestOutcome struct {
	Script     string        `json:"script"`
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output"` // combined, truncated for prompts
	Truncated  bool          `json:"truncated"`
	TimedOut   bool          `json:"timed_out"`
	Duration   time.Duration `json:"duration"`
	Passed     bool          `json:"passed"` // ExitCode == 0, nothing else
	Assessment string        `json:"assessment"`
	Verdict    string        `json:"verdict"` // advisory: pass, fail, partial
}

// Result is the workflow record handed to the reporting collaborator.
type Result struct {
	RunID         string                   `json:"run_id"`
	Branch        string                   `json:"branch"`
	Summary       string                   `json:"summary"`
	Plan          Plan                     `json:"plan"`
	Files         []FileChange             `json:"files"`
	Test          TestOutcome              `json:"test"`
	State         State                    `json:"state"`
	CommitAborted bool                     `json:"commit_aborted"`
	Decisions     []congress.VotingSession `json:"decisions,omitempty"`
	Compression   []compress.Attempt       `json:"compression,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
}
