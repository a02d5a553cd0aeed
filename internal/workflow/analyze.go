package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"todoforge/internal/compress"
	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

// Repository scan limits. Analysis works on a bounded text snapshot; the
// compressor handles whatever still does not fit.
const (
	maxScanFileBytes = 100 * 1024
	maxScanFiles     = 200
)

// textExtensions are the file types included in the repository snapshot.
var textExtensions = map[string]bool{
	".go": true, ".md": true, ".txt": true, ".py": true, ".js": true,
	".ts": true, ".json": true, ".yaml": true, ".yml": true, ".sh": true,
	".mod": true, ".sum": true, ".toml": true, ".sql": true, ".html": true,
	".css": true, ".rs": true, ".java": true, ".c": true, ".h": true,
}

const analyzeSystem = "You analyze a repository against a TODO specification. " +
	"Produce a structured summary with these sections: OVERVIEW (what the " +
	"codebase does), RELEVANT FILES (paths and why they matter to the TODO), " +
	"REQUIRED CHANGES (what must change to satisfy the TODO). Be concrete."

// analyze scans the repository, fits the snapshot through the compressor,
// and asks the model for a structured summary. A failed summary call
// degrades to the compressed snapshot itself so Plan has something to
// work with; the error marks the run as degraded.
func (c *Coordinator) analyze(ctx context.Context, spec string) (string, error) {
	logging.Workflow("Analyze: scanning %s", c.cfg.Workspace)

	snapshot := c.scanRepository()
	question := "Which parts of this repository are relevant to the following TODO, and what must change?\n" + spec

	if c.compressor != nil && c.compressor.NeedsCompression(ctx, c.cfg.AnalyzeModel, snapshot, question) {
		res := c.compressor.Compress(ctx, c.cfg.AnalyzeModel, snapshot, question)
		snapshot = res.Text
		if !res.Success {
			budget := c.compressor.UsableBudget(c.client.ContextSize(ctx, c.cfg.AnalyzeModel))
			snapshot = compress.TruncateToBudget(snapshot, budget-ollama.CountTokens(question))
			logging.Get(logging.CategoryWorkflow).Warn("Analyze: compression failed, hard-truncated snapshot")
		}
	}

	prompt := fmt.Sprintf("TODO SPECIFICATION:\n%s\n\nREPOSITORY SNAPSHOT:\n%s", spec, snapshot)
	summary := c.client.Complete(ctx, c.cfg.AnalyzeModel, analyzeSystem, prompt)

	if ollama.IsStreamError(summary) || strings.TrimSpace(summary) == "" {
		fallback := "ANALYSIS UNAVAILABLE (summary generation failed)\n\n" + snapshot
		return fallback, fmt.Errorf("summary generation failed")
	}

	logging.Workflow("Analyze: summary %d chars from %d-char snapshot", len(summary), len(snapshot))
	return summary, nil
}

// scanRepository builds a bounded plain-text snapshot of the workspace.
func (c *Coordinator) scanRepository() string {
	var sb strings.Builder
	count := 0

	filepath.WalkDir(c.cfg.Workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == ".forge" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if count >= maxScanFiles {
			return filepath.SkipAll
		}
		if !textExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxScanFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(c.cfg.Workspace, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", filepath.ToSlash(rel), data)
		count++
		return nil
	})

	logging.WorkflowDebug("scanRepository: %d files, %d chars", count, sb.Len())
	return sb.String()
}
