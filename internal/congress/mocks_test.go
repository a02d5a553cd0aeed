package congress

import (
	"context"
	"sync"
)

// MockCompletionClient returns canned ballots, keyed by the persona's
// assigned model when Responses is set, else a single Response.
type MockCompletionClient struct {
	mu sync.Mutex

	Response  string
	Responses map[string]string // model -> response

	// LastBallots records the user prompt each model received.
	LastBallots map[string]string
}

func (m *MockCompletionClient) Complete(_ context.Context, model, _ string, prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LastBallots == nil {
		m.LastBallots = make(map[string]string)
	}
	m.LastBallots[model] = prompt

	if m.Responses != nil {
		if r, ok := m.Responses[model]; ok {
			return r
		}
	}
	return m.Response
}

// recordingSink captures saved sessions.
type recordingSink struct {
	mu    sync.Mutex
	saved []VotingSession
}

func (r *recordingSink) SaveSession(s VotingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return nil
}
