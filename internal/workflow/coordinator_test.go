package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"todoforge/internal/compress"
)

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func happyResponses(editPath string) map[string]string {
	return map[string]string{
		analyzeSystem: "OVERVIEW: small demo repo.\nRELEVANT FILES: " + editPath + "\nREQUIRED CHANGES: add greeting.",
		planSystem:    "BRANCH: add-greeting\nEDIT: " + editPath + "\n",
		executeSystem: "hello, world\n",
		testGenSystem: "#!/bin/sh\nexit 0\n",
		assessSystem:  "ASSESSMENT: PASS\nDETAILS: greeting present.",
	}
}

func TestRunSuccessPath(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md":   "Add a greeting to hello.txt",
		"hello.txt": "old content\n",
	})
	client := &MockClient{Responses: happyResponses("hello.txt")}
	metrics := compress.NewCollector()
	sink := &mockSink{}

	c := New(client, compress.New(client, metrics), nil, metrics, sink, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.State != StateSuccess {
		t.Fatalf("state = %s", result.State)
	}
	if result.CommitAborted {
		t.Error("commit aborted on a passing run")
	}
	if len(result.Files) != 1 || !result.Files[0].Applied {
		t.Fatalf("files = %+v", result.Files)
	}
	if result.Files[0].Before != "old content\n" {
		t.Errorf("before = %q", result.Files[0].Before)
	}
	written, err := os.ReadFile(filepath.Join(workspace, "hello.txt"))
	if err != nil || string(written) != "hello, world\n" {
		t.Errorf("written = %q, err = %v", written, err)
	}
	if !strings.HasPrefix(result.Branch, "forge/add-greeting-") {
		t.Errorf("branch = %q", result.Branch)
	}

	if len(sink.results) != 1 {
		t.Fatalf("persisted %d results", len(sink.results))
	}
	rec := sink.results[0]
	if rec.RunID != result.RunID || rec.CommitAborted || rec.State != string(StateSuccess) {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestRunTestFailureAbortsCommitDespitePassingAssessment(t *testing.T) {
	// The AI insists the run passed; the exit code says otherwise. The exit
	// code wins.
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md":   "Add a greeting",
		"hello.txt": "old\n",
	})
	responses := happyResponses("hello.txt")
	responses[testGenSystem] = "#!/bin/sh\nexit 1\n"
	responses[assessSystem] = "ASSESSMENT: PASS\nDETAILS: looks great, ship it."
	client := &MockClient{Responses: responses}

	c := New(client, nil, nil, nil, nil, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !result.CommitAborted {
		t.Fatal("commit not aborted on test exit 1")
	}
	if result.State != StateAbortedByTestFailure {
		t.Errorf("state = %s", result.State)
	}
	if result.Test.Verdict != "pass" {
		t.Errorf("advisory verdict = %q, want the parsed PASS preserved", result.Test.Verdict)
	}
	if result.Test.Passed {
		t.Error("Passed must follow the exit code, not the assessment")
	}
}

func TestRunTestStillRunsAfterDegradedPhases(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md": "Do something",
	})
	client := &MockClient{Responses: map[string]string{
		analyzeSystem: "[STREAM_ERROR: connection refused]",
		planSystem:    "[STREAM_ERROR: connection refused]",
		testGenSystem: "#!/bin/sh\nexit 0\n",
		assessSystem:  "ASSESSMENT: PARTIAL\nDETAILS: nothing changed.",
	}}

	c := New(client, nil, nil, nil, nil, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if result.Test.ExitCode != 0 {
		t.Fatalf("test did not run: exit = %d", result.Test.ExitCode)
	}
	if result.CommitAborted {
		t.Error("exit 0 must not abort, even on a degraded run")
	}
	if result.State != StateFailed {
		t.Errorf("state = %s, want failed for degraded phases", result.State)
	}
}

func TestRunExecuteFailureDegradesButTestDecides(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md":   "Add a greeting",
		"hello.txt": "old\n",
	})
	responses := happyResponses("hello.txt")
	responses[executeSystem] = "" // generation produces nothing
	client := &MockClient{Responses: responses}

	c := New(client, nil, nil, nil, nil, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Files) != 1 || result.Files[0].Applied {
		t.Fatalf("files = %+v", result.Files)
	}
	if result.Files[0].Err == "" {
		t.Error("failed generation should carry an error")
	}
	// The original file is untouched.
	data, _ := os.ReadFile(filepath.Join(workspace, "hello.txt"))
	if string(data) != "old\n" {
		t.Errorf("file changed to %q", data)
	}
	if result.State != StateFailed {
		t.Errorf("state = %s", result.State)
	}
}

func TestRunCongressVetoLeavesFileUntouched(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md":   "Add a greeting",
		"hello.txt": "old\n",
	})
	client := &MockClient{Responses: happyResponses("hello.txt")}
	evaluator := &mockEvaluator{approve: false}

	c := New(client, nil, evaluator, nil, nil, Config{Workspace: workspace, ValidateActions: true})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Files) != 1 || !result.Files[0].Rejected {
		t.Fatalf("files = %+v", result.Files)
	}
	data, _ := os.ReadFile(filepath.Join(workspace, "hello.txt"))
	if string(data) != "old\n" {
		t.Errorf("vetoed edit reached disk: %q", data)
	}
	// A veto is a decision, not a phase failure: the test gate decides.
	if result.State != StateSuccess {
		t.Errorf("state = %s", result.State)
	}
	if len(result.Decisions) != 1 {
		t.Errorf("decisions = %d, want the veto in the report", len(result.Decisions))
	}
}

func TestRunDeleteOperation(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md":    "Remove the legacy file",
		"legacy.txt": "obsolete\n",
	})
	responses := happyResponses("unused.txt")
	responses[planSystem] = "BRANCH: drop-legacy\nDELETE: legacy.txt\n"
	client := &MockClient{Responses: responses}

	c := New(client, nil, nil, nil, nil, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Files) != 1 || !result.Files[0].Applied || result.Files[0].Op != OpDelete {
		t.Fatalf("files = %+v", result.Files)
	}
	if result.Files[0].Before != "obsolete\n" {
		t.Errorf("before = %q, want prior content captured", result.Files[0].Before)
	}
	if _, err := os.Stat(filepath.Join(workspace, "legacy.txt")); !os.IsNotExist(err) {
		t.Error("legacy.txt still exists")
	}
}

func TestRunMissingTodoFails(t *testing.T) {
	workspace := t.TempDir()
	c := New(&MockClient{}, nil, nil, nil, nil, Config{Workspace: workspace})

	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing TODO file")
	}
}

func TestRunNewFileCreated(t *testing.T) {
	workspace := writeWorkspace(t, map[string]string{
		"TODO.md": "Create a docs page",
	})
	responses := happyResponses("docs/page.md")
	client := &MockClient{Responses: responses}

	c := New(client, nil, nil, nil, nil, Config{Workspace: workspace})
	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Files) != 1 || !result.Files[0].Applied {
		t.Fatalf("files = %+v", result.Files)
	}
	if result.Files[0].Before != "" {
		t.Errorf("before = %q for a new file", result.Files[0].Before)
	}
	data, err := os.ReadFile(filepath.Join(workspace, "docs", "page.md"))
	if err != nil || string(data) != "hello, world\n" {
		t.Errorf("created file = %q, err = %v", data, err)
	}
}
