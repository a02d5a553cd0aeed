package compress

import (
	"context"
	"strings"
	"testing"
)

// makeContext builds a context of roughly the given token count spread
// across many lines, so the midpoint split has material to work with.
func makeContext(tokens int) string {
	lineChars := 100 // 99 chars + newline
	lines := tokens * 4 / lineChars
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		sb.WriteString(strings.Repeat("x", 99))
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestCompressFittingContextUnchanged(t *testing.T) {
	mock := &MockCompletionClient{Window: 16000}
	comp := New(mock, NewCollector())

	small := "just a few lines\nof context\n"
	res := comp.Compress(context.Background(), "llama3.2", small, "what?")

	if !res.Success {
		t.Error("fitting context should report success")
	}
	if res.Rounds != 0 {
		t.Errorf("fitting context should take 0 rounds, got %d", res.Rounds)
	}
	if res.Text != small {
		t.Error("fitting context must be returned unchanged")
	}
	if mock.CallCount() != 0 {
		t.Errorf("no completion calls expected, got %d", mock.CallCount())
	}
}

func TestNeedsCompression(t *testing.T) {
	mock := &MockCompletionClient{Window: 16000} // usable 11200
	comp := New(mock, nil)

	if comp.NeedsCompression(context.Background(), "llama3.2", "short", "q") {
		t.Error("short context should not need compression")
	}
	if !comp.NeedsCompression(context.Background(), "llama3.2", makeContext(40000), "q") {
		t.Error("40k-token context vs 16k window must need compression")
	}
}

func TestCompressOversizedContextConverges(t *testing.T) {
	// Scenario: 40,000-token context against a 16,000-token window
	// (usable 11,200). Each summarize call keeps 40% of its input, so the
	// loop should converge within the 3-round cap.
	mock := &MockCompletionClient{Window: 16000, SummaryRatio: 0.4}
	collector := NewCollector()
	comp := New(mock, collector)

	res := comp.Compress(context.Background(), "llama3.2", makeContext(40000), "what changed?")

	if !res.Success {
		t.Fatalf("expected convergence, got rounds=%d final=%d", res.Rounds, res.FinalTokens)
	}
	if res.Rounds < 1 || res.Rounds > 3 {
		t.Errorf("rounds out of range: %d", res.Rounds)
	}
	budget := comp.UsableBudget(16000)
	if res.FinalTokens > budget {
		t.Errorf("final %d tokens exceeds usable budget %d", res.FinalTokens, budget)
	}
	if res.FinalTokens > res.OriginalTokens {
		t.Errorf("compression grew the context: %d -> %d", res.OriginalTokens, res.FinalTokens)
	}
	if !strings.Contains(res.Text, "Part 1/2 (compressed)") {
		t.Error("compressed output missing part headers")
	}

	attempts, calls := collector.Snapshot()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", len(attempts))
	}
	if attempts[0].Rounds != res.Rounds || !attempts[0].Success {
		t.Errorf("recorded attempt mismatch: %+v", attempts[0])
	}
	if len(calls) != res.Rounds*2 {
		t.Errorf("expected %d summarize calls recorded, got %d", res.Rounds*2, len(calls))
	}
}

func TestCompressNeverGrowsRoundOverRound(t *testing.T) {
	// A summarizer that returns its input unchanged would grow the text by
	// the part headers; the loop must keep the previous text instead.
	mock := &MockCompletionClient{Window: 16000, SummaryRatio: 1.0}
	comp := New(mock, nil)

	original := makeContext(20000)
	res := comp.Compress(context.Background(), "llama3.2", original, "q")

	if res.Success {
		t.Error("non-shrinking summarizer cannot succeed")
	}
	if res.FinalTokens > res.OriginalTokens {
		t.Errorf("token count increased: %d -> %d", res.OriginalTokens, res.FinalTokens)
	}
	if res.Text != original {
		t.Error("previous text should be kept when a round grows the context")
	}
}

func TestCompressAbortsOnDiminishingReturns(t *testing.T) {
	// 98% kept per round is under the 5% reduction floor: one round, abort.
	mock := &MockCompletionClient{Window: 16000, SummaryRatio: 0.98}
	comp := New(mock, nil)

	res := comp.Compress(context.Background(), "llama3.2", makeContext(40000), "q")

	if res.Success {
		t.Error("diminishing returns must flag success=false")
	}
	if res.Rounds != 1 {
		t.Errorf("expected early abort after round 1, got %d rounds", res.Rounds)
	}
	if res.FinalTokens >= res.OriginalTokens {
		t.Error("partial shrink should still be kept")
	}
}

func TestCompressKeepsHalvesOnStreamError(t *testing.T) {
	mock := &MockCompletionClient{Window: 16000, Response: "[STREAM_ERROR: connection refused]"}
	comp := New(mock, nil)

	original := makeContext(20000)
	res := comp.Compress(context.Background(), "llama3.2", original, "q")

	if res.Success {
		t.Error("failed summarize calls cannot produce success")
	}
	if res.Text != original {
		t.Error("original context should survive a fully failed round")
	}
}

func TestTruncateToBudget(t *testing.T) {
	text := strings.Repeat("a", 1000)

	if got := TruncateToBudget(text, 1000); got != text {
		t.Error("text within budget must be unchanged")
	}

	got := TruncateToBudget(text, 100) // 400-byte budget
	if len(got) != 400 {
		t.Errorf("truncated length = %d, want 400", len(got))
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Error("truncation marker missing")
	}
}

func TestUsableBudgetFraction(t *testing.T) {
	comp := New(&MockCompletionClient{}, nil)
	if got := comp.UsableBudget(16000); got != 11200 {
		t.Errorf("UsableBudget(16000) = %d, want 11200", got)
	}
}
