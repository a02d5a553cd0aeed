package workflow

import (
	"context"
	"sync"

	"todoforge/internal/compress"
	"todoforge/internal/congress"
	"todoforge/internal/store"
)

// MockClient returns canned responses keyed by the system prompt, so each
// coordinator phase can be scripted independently.
type MockClient struct {
	mu sync.Mutex

	// Responses maps a system prompt to its canned response.
	Responses map[string]string

	// Window is the reported context size.
	Window int

	// Prompts records every user prompt, keyed by system prompt.
	Prompts map[string][]string
}

func (m *MockClient) Complete(_ context.Context, _, system, prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Prompts == nil {
		m.Prompts = make(map[string][]string)
	}
	m.Prompts[system] = append(m.Prompts[system], prompt)
	return m.Responses[system]
}

func (m *MockClient) ContextSize(context.Context, string) int {
	if m.Window > 0 {
		return m.Window
	}
	return 16000
}

// mockEvaluator approves or rejects every action uniformly.
type mockEvaluator struct {
	mu       sync.Mutex
	approve  bool
	sessions []congress.VotingSession
}

func (m *mockEvaluator) Evaluate(_ context.Context, prompt, response, freeContext, decisionType string) (*congress.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	yes, no := 0, 3
	if m.approve {
		yes, no = 3, 0
	}
	d := congress.Decision{Approved: m.approve, Yes: yes, No: no, Unanimous: true}
	m.sessions = append(m.sessions, congress.VotingSession{
		Sequence:     len(m.sessions) + 1,
		DecisionType: decisionType,
		Prompt:       prompt,
		Response:     response,
		Context:      freeContext,
		Decision:     d,
	})
	return &d, nil
}

func (m *mockEvaluator) History() []congress.VotingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]congress.VotingSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// mockSink records persisted run artifacts.
type mockSink struct {
	mu       sync.Mutex
	results  []store.WorkflowRecord
	attempts map[string][]compress.Attempt
}

func (m *mockSink) SaveWorkflowResult(rec store.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, rec)
	return nil
}

func (m *mockSink) SaveCompressionAttempts(runID string, attempts []compress.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts == nil {
		m.attempts = make(map[string][]compress.Attempt)
	}
	m.attempts[runID] = append(m.attempts[runID], attempts...)
	return nil
}
