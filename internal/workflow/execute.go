package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

// maxCurrentContentChars bounds how much of a file's current content is
// embedded in a generation prompt.
const maxCurrentContentChars = 8000

const executeSystem = "You rewrite one source file to satisfy a TODO " +
	"specification. Output the complete new file content and nothing else: " +
	"no explanation, no markdown fences."

// execute applies the plan file by file. A single file's failure is
// recorded and skipped; the remaining operations still run and the
// workflow always proceeds to Test.
func (c *Coordinator) execute(ctx context.Context, spec, summary string, plan Plan) []FileChange {
	changes := make([]FileChange, 0, len(plan.Ops))

	for _, op := range plan.Ops {
		change := FileChange{Path: op.Path, Op: op.Op}
		abs := filepath.Join(c.cfg.Workspace, op.Path)

		if before, err := os.ReadFile(abs); err == nil {
			change.Before = string(before)
		}

		switch op.Op {
		case OpDelete:
			if err := os.Remove(abs); err != nil {
				change.Err = err.Error()
				logging.Get(logging.CategoryWorkflow).Warn("Execute: delete %s failed: %v", op.Path, err)
			} else {
				change.Applied = true
			}

		case OpEdit:
			c.executeEdit(ctx, spec, summary, abs, &change)
		}

		changes = append(changes, change)
	}

	applied := 0
	for _, ch := range changes {
		if ch.Applied {
			applied++
		}
	}
	logging.Workflow("Execute: %d/%d operations applied", applied, len(changes))
	return changes
}

// executeEdit generates and writes one file's new content, optionally
// submitting it to the congress first. Before/after content is captured
// whether or not the write lands.
func (c *Coordinator) executeEdit(ctx context.Context, spec, summary, abs string, change *FileChange) {
	current := change.Before
	if len(current) > maxCurrentContentChars {
		current = current[:maxCurrentContentChars] + "\n[current content truncated]"
	}

	prompt := fmt.Sprintf("TODO SPECIFICATION:\n%s\n\nANALYSIS:\n%s\n\nFILE: %s\nCURRENT CONTENT:\n%s",
		spec, summary, change.Path, current)
	generated := c.client.Complete(ctx, c.cfg.ExecuteModel, executeSystem, prompt)

	if ollama.IsStreamError(generated) || strings.TrimSpace(generated) == "" {
		change.Err = "content generation failed"
		logging.Get(logging.CategoryWorkflow).Warn("Execute: generation for %s failed", change.Path)
		return
	}
	generated = stripFences(generated)
	change.After = generated

	if c.cfg.ValidateActions && c.evaluator != nil {
		decision, err := c.evaluator.Evaluate(ctx, prompt, generated, "workflow file edit", "code_edit")
		if err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("Execute: validation of %s errored: %v", change.Path, err)
		} else if !decision.Approved {
			change.Rejected = true
			change.Err = "rejected by congress"
			logging.Workflow("Execute: congress rejected %s (%d-%d)", change.Path, decision.Yes, decision.No)
			return
		} else if decision.LowConfidence() {
			logging.Get(logging.CategoryWorkflow).Warn("Execute: %s approved on all-default votes, treat with suspicion", change.Path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		change.Err = err.Error()
		return
	}
	if err := os.WriteFile(abs, []byte(generated), 0644); err != nil {
		change.Err = err.Error()
		logging.Get(logging.CategoryWorkflow).Warn("Execute: write %s failed: %v", change.Path, err)
		return
	}
	change.Applied = true
}

// stripFences removes a markdown code fence wrapper if the model added one
// despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:] // opening fence with optional language tag
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
