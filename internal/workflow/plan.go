package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

const planSystem = "You plan the minimal set of file operations to satisfy a " +
	"TODO specification. Respond with one BRANCH: line carrying a short " +
	"kebab-case branch slug, followed by one line per operation in the form " +
	"\"EDIT: relative/path\" or \"DELETE: relative/path\". List only files " +
	"that must change. No other output."

// plan derives the minimal file-operation list and a branch id from the
// analysis summary. A failed completion yields an empty plan and an error;
// the run continues (Test still fires) but is marked degraded.
func (c *Coordinator) plan(ctx context.Context, spec, summary string) (Plan, error) {
	prompt := fmt.Sprintf("TODO SPECIFICATION:\n%s\n\nANALYSIS:\n%s", spec, summary)
	raw := c.client.Complete(ctx, c.cfg.PlanModel, planSystem, prompt)

	plan := ParsePlan(raw, spec)
	logging.Workflow("Plan: branch=%s ops=%d", plan.Branch, len(plan.Ops))

	if ollama.IsStreamError(raw) {
		return plan, fmt.Errorf("plan generation failed")
	}
	if len(plan.Ops) == 0 {
		return plan, fmt.Errorf("plan contained no recognizable operations")
	}
	return plan, nil
}

// ParsePlan extracts branch and file operations from a plan response.
// Parsing is permissive: list bullets, casing and surrounding chatter are
// tolerated; unrecognized lines are ignored. The branch id always gets a
// random suffix so two runs can never collide.
func ParsePlan(raw, spec string) Plan {
	plan := Plan{Text: raw}

	var slug string
	seen := make(map[string]bool)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-* \t"))
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "BRANCH:"):
			if slug == "" {
				slug = Slugify(line[len("BRANCH:"):])
			}
		case strings.HasPrefix(upper, "EDIT:"):
			if path := cleanPath(line[len("EDIT:"):]); path != "" && !seen[path] {
				seen[path] = true
				plan.Ops = append(plan.Ops, FileOp{Path: path, Op: OpEdit})
			}
		case strings.HasPrefix(upper, "DELETE:"):
			if path := cleanPath(line[len("DELETE:"):]); path != "" && !seen[path] {
				seen[path] = true
				plan.Ops = append(plan.Ops, FileOp{Path: path, Op: OpDelete})
			}
		}
	}

	if slug == "" {
		slug = Slugify(firstLine(spec))
	}
	if slug == "" {
		slug = "todo"
	}
	plan.Branch = fmt.Sprintf("forge/%s-%s", slug, uuid.NewString()[:8])
	return plan
}

// cleanPath normalizes a planned path and rejects escapes above the
// workspace root.
func cleanPath(s string) string {
	path := strings.Trim(strings.TrimSpace(s), "`\"'")
	path = strings.TrimPrefix(path, "./")
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return ""
	}
	return path
}

// Slugify reduces free text to a short kebab-case branch slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		case !lastDash:
			sb.WriteByte('-')
			lastDash = true
		}
		if sb.Len() >= 40 {
			break
		}
	}
	return strings.Trim(sb.String(), "-")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "# ")
		if line != "" {
			return line
		}
	}
	return ""
}
