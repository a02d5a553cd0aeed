// Package compress fits oversized prompt contexts into a model's context
// window before submission.
//
// Single-shot summarization of arbitrarily large text risks exceeding the
// summarizing model's own window. Instead the compressor splits the context
// at its line-count midpoint, summarizes each half independently, and
// repeats for a bounded number of rounds. Each call's input is capped by
// the split and the total shrinks geometrically; a round that yields under
// 5% reduction aborts the loop as diminishing returns.
package compress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"todoforge/internal/logging"
	"todoforge/internal/ollama"
)

// minRoundReduction is the fractional shrink a round must achieve for the
// loop to continue.
const minRoundReduction = 0.05

// TruncationMarker is appended when a caller hard-truncates to budget.
const TruncationMarker = "\n[TRUNCATED TO CONTEXT BUDGET]"

const summarizeSystem = "You compress context for a later question. " +
	"Extract only information relevant to the question. Preserve concrete " +
	"facts, identifiers, file paths and numbers exactly. Drop redundancy " +
	"and filler. Output the compressed text only, no preamble."

// CompletionClient is the completion surface the compressor needs.
// Satisfied by *ollama.Client.
type CompletionClient interface {
	Complete(ctx context.Context, model, system, prompt string) string
	ContextSize(ctx context.Context, model string) int
}

// Result describes one compression call.
type Result struct {
	Text           string
	Rounds         int
	OriginalTokens int
	FinalTokens    int
	Success        bool
}

// Compressor shrinks (context, question) pairs to fit a usable budget.
type Compressor struct {
	client        CompletionClient
	metrics       *Collector
	maxRounds     int
	usablePercent int
}

// New creates a compressor. A nil collector disables metrics recording.
func New(client CompletionClient, metrics *Collector) *Compressor {
	return &Compressor{
		client:        client,
		metrics:       metrics,
		maxRounds:     3,
		usablePercent: 70,
	}
}

// SetMaxRounds overrides the default round cap of 3.
func (c *Compressor) SetMaxRounds(n int) {
	if n > 0 {
		c.maxRounds = n
	}
}

// SetUsablePercent overrides the default 70% usable-budget fraction.
func (c *Compressor) SetUsablePercent(p int) {
	if p > 0 && p <= 100 {
		c.usablePercent = p
	}
}

// UsableBudget returns the token budget reserved for compressed content
// within a context window, leaving headroom for instructions and output.
func (c *Compressor) UsableBudget(window int) int {
	return window * c.usablePercent / 100
}

// NeedsCompression reports whether context+question exceed the model's
// usable budget.
func (c *Compressor) NeedsCompression(ctx context.Context, model, contextText, question string) bool {
	budget := c.UsableBudget(c.client.ContextSize(ctx, model))
	return ollama.CountTokens(contextText+question) > budget
}

// Compress shrinks contextText until context+question fit the model's
// usable budget, or until rounds are exhausted or a round stops paying off.
// Already-fitting input is returned unchanged with Rounds=0, Success=true.
// On Success=false the partially shrunk text is still returned; the caller
// decides whether to hard-truncate (see TruncateToBudget).
func (c *Compressor) Compress(ctx context.Context, model, contextText, question string) *Result {
	start := time.Now()
	window := c.client.ContextSize(ctx, model)
	budget := c.UsableBudget(window)
	questionTokens := ollama.CountTokens(question)
	originalTokens := ollama.CountTokens(contextText)

	result := &Result{
		Text:           contextText,
		OriginalTokens: originalTokens,
		FinalTokens:    originalTokens,
	}

	if originalTokens+questionTokens <= budget {
		result.Success = true
		c.record(model, result, start)
		return result
	}

	logging.Compress("Compress: model=%s window=%d budget=%d original=%d tokens over budget",
		model, window, budget, originalTokens+questionTokens)

	current := contextText
	currentTokens := originalTokens

	for round := 1; round <= c.maxRounds; round++ {
		compressed, ok := c.compressRound(ctx, model, current, question)
		if !ok {
			logging.Get(logging.CategoryCompress).Warn("Compress: round %d could not split further", round)
			break
		}
		result.Rounds = round

		newTokens := ollama.CountTokens(compressed)
		if newTokens >= currentTokens {
			// A round must never grow the context; keep the previous text.
			logging.Get(logging.CategoryCompress).Warn(
				"Compress: round %d grew context (%d -> %d tokens), keeping previous", round, currentTokens, newTokens)
			break
		}

		reduction := float64(currentTokens-newTokens) / float64(currentTokens)
		current = compressed
		currentTokens = newTokens
		logging.CompressDebug("Compress: round %d: %d tokens (%.1f%% reduction)", round, newTokens, reduction*100)

		if currentTokens+questionTokens <= budget {
			result.Success = true
			break
		}
		if reduction < minRoundReduction {
			logging.Get(logging.CategoryCompress).Warn(
				"Compress: round %d reduced only %.1f%%, aborting early", round, reduction*100)
			break
		}
	}

	result.Text = current
	result.FinalTokens = currentTokens
	c.record(model, result, start)

	logging.Compress("Compress: done rounds=%d %d -> %d tokens success=%v",
		result.Rounds, result.OriginalTokens, result.FinalTokens, result.Success)
	return result
}

// compressRound splits the context at its line midpoint and summarizes the
// halves independently and concurrently. A half whose summarize call fails
// in-band is kept verbatim, which shows up as diminishing returns in the
// caller's shrink check.
func (c *Compressor) compressRound(ctx context.Context, model, contextText, question string) (string, bool) {
	lines := strings.Split(contextText, "\n")
	if len(lines) < 2 {
		return "", false
	}
	mid := len(lines) / 2
	halves := []string{
		strings.Join(lines[:mid], "\n"),
		strings.Join(lines[mid:], "\n"),
	}

	summaries := make([]string, len(halves))
	g, gctx := errgroup.WithContext(ctx)
	for i, half := range halves {
		i, half := i, half
		g.Go(func() error {
			callStart := time.Now()
			prompt := fmt.Sprintf("QUESTION:\n%s\n\nTEXT TO COMPRESS:\n%s", question, half)
			summary := c.client.Complete(gctx, model, summarizeSystem, prompt)
			failed := ollama.IsStreamError(summary) || strings.TrimSpace(summary) == ""
			if c.metrics != nil {
				c.metrics.RecordAICall(AICall{
					Model:    model,
					Purpose:  "compress_half",
					Duration: time.Since(callStart),
					Failed:   failed,
				})
			}
			if failed {
				summaries[i] = half
			} else {
				summaries[i] = summary
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines only report via summaries

	var sb strings.Builder
	for i, summary := range summaries {
		fmt.Fprintf(&sb, "=== Part %d/%d (compressed) ===\n", i+1, len(summaries))
		sb.WriteString(strings.TrimSpace(summary))
		if i < len(summaries)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String(), true
}

func (c *Compressor) record(model string, r *Result, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCompression(Attempt{
		Model:          model,
		OriginalTokens: r.OriginalTokens,
		FinalTokens:    r.FinalTokens,
		Rounds:         r.Rounds,
		Success:        r.Success,
		Duration:       time.Since(start),
		At:             time.Now(),
	})
}

// TruncateToBudget hard-truncates text to a token budget's byte equivalent,
// appending a visible marker. The last resort when all rounds fail.
func TruncateToBudget(text string, budgetTokens int) string {
	maxBytes := budgetTokens * 4
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes - len(TruncationMarker)
	if cut < 0 {
		cut = 0
	}
	return text[:cut] + TruncationMarker
}
