package compress

import (
	"sync"
	"time"
)

// Attempt records one compression attempt for later reporting.
type Attempt struct {
	Model          string        `json:"model"`
	OriginalTokens int           `json:"original_tokens"`
	FinalTokens    int           `json:"final_tokens"`
	Rounds         int           `json:"rounds"`
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration"`
	At             time.Time     `json:"at"`
}

// AICall records one completion call issued during compression.
type AICall struct {
	Model    string        `json:"model"`
	Purpose  string        `json:"purpose"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed"`
}

// Collector is an explicitly injected, append-only metrics sink.
// Each workflow run owns its own collector; there is no process-wide
// singleton, so concurrent runs cannot observe each other's numbers.
type Collector struct {
	mu       sync.Mutex
	attempts []Attempt
	aiCalls  []AICall
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCompression appends one compression attempt.
func (c *Collector) RecordCompression(a Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, a)
}

// RecordAICall appends one completion-call record.
func (c *Collector) RecordAICall(call AICall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aiCalls = append(c.aiCalls, call)
}

// Snapshot returns copies of the recorded attempts and calls.
// The log is append-only, so a copy is a consistent view.
func (c *Collector) Snapshot() ([]Attempt, []AICall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attempts := make([]Attempt, len(c.attempts))
	copy(attempts, c.attempts)
	calls := make([]AICall, len(c.aiCalls))
	copy(calls, c.aiCalls)
	return attempts, calls
}
