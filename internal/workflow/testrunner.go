package workflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

// maxTestOutputChars bounds the combined output carried into downstream
// prompts and reports.
const maxTestOutputChars = 5000

const testGenSystem = "You write a POSIX shell test script that verifies a " +
	"set of code changes. The script runs from the repository root, must be " +
	"self-contained, and must exit 0 only if the changes work. Prefer the " +
	"project's own build and test commands. Output only the script."

const assessSystem = "You assess an automated test run. Respond with exactly " +
	"two lines:\nASSESSMENT: PASS, FAIL or PARTIAL\nDETAILS: one sentence."

// runTest generates, executes and assesses the test script. It never
// returns an error: generation and execution failures become a synthetic
// failing outcome so the hard gate and the Report phase always have an
// exit code to work with.
func (c *Coordinator) runTest(ctx context.Context, spec string, plan Plan, changes []FileChange) TestOutcome {
	outcome := TestOutcome{ExitCode: -1}

	script := c.generateScript(ctx, spec, plan, changes)
	outcome.Script = script

	exitCode, output, timedOut, duration := c.executeScript(ctx, script)
	outcome.ExitCode = exitCode
	outcome.TimedOut = timedOut
	outcome.Duration = duration
	outcome.Passed = exitCode == 0

	if len(output) > maxTestOutputChars {
		output = output[:maxTestOutputChars] + "\n[output truncated]"
		outcome.Truncated = true
	}
	if timedOut {
		output += "\n[test run timed out, output may be incomplete]"
	}
	outcome.Output = output

	// Advisory only: the verdict below can never override the exit code.
	outcome.Assessment, outcome.Verdict = c.assess(ctx, spec, outcome)

	logging.Test("runTest: exit=%d timed_out=%v verdict=%s in %v", exitCode, timedOut, outcome.Verdict, duration)
	return outcome
}

// generateScript asks the model for a test script, falling back to a
// deterministic failing script that names the generation failure.
func (c *Coordinator) generateScript(ctx context.Context, spec string, plan Plan, changes []FileChange) string {
	var files []string
	for _, ch := range changes {
		files = append(files, fmt.Sprintf("%s %s (applied=%v)", ch.Op, ch.Path, ch.Applied))
	}
	prompt := fmt.Sprintf("TODO SPECIFICATION:\n%s\n\nPLANNED OPERATIONS:\n%s\n\nMODIFIED FILES:\n%s",
		spec, plan.Text, strings.Join(files, "\n"))

	script := c.client.Complete(ctx, c.cfg.TestModel, testGenSystem, prompt)
	if ollama.IsStreamError(script) || strings.TrimSpace(script) == "" {
		reason := "empty response"
		if ollama.IsStreamError(script) {
			reason = "completion service unreachable"
		}
		logging.Get(logging.CategoryTest).Warn("generateScript: falling back: %s", reason)
		return fmt.Sprintf("#!/bin/sh\necho 'test script generation failed: %s'\nexit 1\n", reason)
	}

	script = stripFences(script)
	if !strings.HasPrefix(script, "#!") {
		script = "#!/bin/sh\n" + script
	}
	return script
}

// executeScript writes the script under .forge and runs it as a child
// process with the repository root as working directory, under the
// configured wall-clock timeout. On timeout the process is killed and the
// partial output preserved.
func (c *Coordinator) executeScript(ctx context.Context, script string) (exitCode int, output string, timedOut bool, duration time.Duration) {
	dir := filepath.Join(c.cfg.Workspace, ".forge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return -1, fmt.Sprintf("failed to create script directory: %v", err), false, 0
	}
	path := filepath.Join(dir, fmt.Sprintf("test_%d.sh", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return -1, fmt.Sprintf("failed to write test script: %v", err), false, 0
	}
	defer os.Remove(path)

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.TestTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "/bin/sh", path)
	cmd.Dir = c.cfg.Workspace
	combined, err := cmd.CombinedOutput()
	duration = time.Since(start)
	output = string(combined)

	timedOut = runCtx.Err() == context.DeadlineExceeded
	switch {
	case timedOut:
		exitCode = -1
	case err == nil:
		exitCode = 0
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			output += fmt.Sprintf("\n[failed to execute test script: %v]", err)
		}
	}

	logging.TestDebug("executeScript: exit=%d bytes=%d timed_out=%v", exitCode, len(output), timedOut)
	return exitCode, output, timedOut, duration
}

// assess requests the advisory AI reading of the test output.
func (c *Coordinator) assess(ctx context.Context, spec string, outcome TestOutcome) (assessment, verdict string) {
	prompt := fmt.Sprintf("TODO SPECIFICATION:\n%s\n\nTEST EXIT CODE: %d\nTEST OUTPUT:\n%s",
		spec, outcome.ExitCode, outcome.Output)
	raw := c.client.Complete(ctx, c.cfg.TestModel, assessSystem, prompt)

	if ollama.IsStreamError(raw) || strings.TrimSpace(raw) == "" {
		return "assessment unavailable", "fail"
	}

	verdict = "fail"
	for _, line := range strings.Split(raw, "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if strings.HasPrefix(upper, "ASSESSMENT:") {
			value := strings.TrimSpace(upper[len("ASSESSMENT:"):])
			switch {
			case strings.HasPrefix(value, "PASS"):
				verdict = "pass"
			case strings.HasPrefix(value, "PARTIAL"):
				verdict = "partial"
			}
			break
		}
	}
	return raw, verdict
}
