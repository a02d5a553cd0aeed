// Package workflow drives the code-modification pipeline:
// Analyze → Plan → Execute → Test → Report.
//
// Test always runs, even when Execute fell over, and its exit code is the
// one authoritative gate: a non-zero code forces CommitAborted regardless
// of what any model says about the outcome. Every other failure inside a
// phase degrades and continues: one broken file or one unreachable model
// must not take down the run.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"todoforge/internal/compress"
	"todoforge/internal/congress"
	"todoforge/internal/logging"
	"todoforge/internal/store"
)

// CompletionClient is the completion surface the coordinator needs.
type CompletionClient interface {
	Complete(ctx context.Context, model, system, prompt string) string
	ContextSize(ctx context.Context, model string) int
}

// Evaluator validates individual AI actions. Satisfied by
// *congress.Congress; nil disables per-action validation.
type Evaluator interface {
	Evaluate(ctx context.Context, originalPrompt, aiResponse, freeContext, decisionType string) (*congress.Decision, error)
	History() []congress.VotingSession
}

// ResultSink persists run artifacts. Satisfied by *store.Store; nil
// disables persistence.
type ResultSink interface {
	SaveWorkflowResult(rec store.WorkflowRecord) error
	SaveCompressionAttempts(runID string, attempts []compress.Attempt) error
}

// Config holds coordinator settings. Zero values select defaults.
type Config struct {
	Workspace string
	TodoPath  string

	// RunID tags the run's artifacts. Empty means a fresh random id;
	// callers that share a sink with the congress pass one in so both
	// ends of a run land under the same id.
	RunID string

	AnalyzeModel string
	PlanModel    string
	ExecuteModel string
	TestModel    string

	TestTimeout time.Duration

	// ValidateActions submits each generated edit to the congress before
	// it is written. A veto leaves the file untouched; the workflow
	// continues and the test gate still decides the run.
	ValidateActions bool
}

func (c *Config) applyDefaults() {
	if c.TodoPath == "" {
		c.TodoPath = filepath.Join(c.Workspace, "TODO.md")
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = 60 * time.Second
	}
}

// NewRunID mints a run id for callers that need it ahead of Run, so the
// congress sink and the workflow record share one id.
func NewRunID() string {
	return uuid.NewString()
}

// Coordinator owns one workflow run at a time. Concurrent runs get their
// own coordinator, session log and metrics collector.
type Coordinator struct {
	client     CompletionClient
	compressor *compress.Compressor
	evaluator  Evaluator
	metrics    *compress.Collector
	sink       ResultSink
	cfg        Config
}

// New creates a coordinator. evaluator and sink may be nil.
func New(client CompletionClient, compressor *compress.Compressor, evaluator Evaluator, metrics *compress.Collector, sink ResultSink, cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		client:     client,
		compressor: compressor,
		evaluator:  evaluator,
		metrics:    metrics,
		sink:       sink,
		cfg:        cfg,
	}
}

// Run executes the full pipeline and always produces a Result, reaching
// the Report phase on every path that gets past the TODO preflight.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	runID := c.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &Result{RunID: runID, StartedAt: time.Now()}

	todo, err := os.ReadFile(c.cfg.TodoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TODO specification: %w", err)
	}
	spec := string(todo)

	logging.Workflow("Run %s: starting, todo=%s (%d bytes)", runID, c.cfg.TodoPath, len(todo))

	var phaseFailed bool

	// Analyze
	summary, err := c.analyze(ctx, spec)
	if err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("Run %s: analyze degraded: %v", runID, err)
		phaseFailed = true
	}
	result.Summary = summary

	// Plan
	plan, err := c.plan(ctx, spec, summary)
	if err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("Run %s: plan degraded: %v", runID, err)
		phaseFailed = true
	}
	result.Plan = plan
	result.Branch = plan.Branch

	// Execute: partial-failure tolerant, never returns an error.
	result.Files = c.execute(ctx, spec, summary, plan)
	for _, f := range result.Files {
		if f.Err != "" && !f.Rejected {
			phaseFailed = true
		}
	}

	// Test: always runs, even after degraded phases.
	result.Test = c.runTest(ctx, spec, plan, result.Files)

	// Hard gate: the exit code is authoritative, the AI verdict advisory.
	result.CommitAborted = result.Test.ExitCode != 0
	switch {
	case result.CommitAborted:
		result.State = StateAbortedByTestFailure
	case phaseFailed:
		result.State = StateFailed
	default:
		result.State = StateSuccess
	}

	// Report: always produced.
	c.report(result)
	result.FinishedAt = time.Now()

	logging.Workflow("Run %s: finished state=%s branch=%s files=%d test_exit=%d",
		runID, result.State, result.Branch, len(result.Files), result.Test.ExitCode)
	return result, nil
}

// report gathers decision history and metrics and mirrors the run record
// to the sink. Persistence failures are logged, never fatal: the in-memory
// Result is the contract with the reporting collaborator.
func (c *Coordinator) report(result *Result) {
	if c.evaluator != nil {
		result.Decisions = c.evaluator.History()
	}
	if c.metrics != nil {
		attempts, _ := c.metrics.Snapshot()
		result.Compression = attempts
	}

	if c.sink == nil {
		return
	}

	filesJSON, err := json.Marshal(result.Files)
	if err != nil {
		filesJSON = []byte("[]")
	}
	rec := store.WorkflowRecord{
		RunID:         result.RunID,
		Branch:        result.Branch,
		State:         string(result.State),
		CommitAborted: result.CommitAborted,
		TestExitCode:  result.Test.ExitCode,
		Plan:          result.Plan.Text,
		FilesJSON:     string(filesJSON),
	}
	if err := c.sink.SaveWorkflowResult(rec); err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("report: failed to persist result: %v", err)
	}
	if len(result.Compression) > 0 {
		if err := c.sink.SaveCompressionAttempts(result.RunID, result.Compression); err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("report: failed to persist compression metrics: %v", err)
		}
	}
}
