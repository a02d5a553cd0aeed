package compress

import (
	"context"
	"strings"
	"sync"
)

// MockCompletionClient is a configurable fake completion client.
type MockCompletionClient struct {
	mu sync.Mutex

	// Window is the context size reported for every model.
	Window int

	// SummaryRatio controls how much of each input survives a summarize
	// call. 0.4 means the summary is 40% of the input length.
	SummaryRatio float64

	// Response, when set, is returned verbatim for every call.
	Response string

	// Calls counts Complete invocations.
	Calls int
}

func (m *MockCompletionClient) Complete(_ context.Context, _, _, prompt string) string {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.Response != "" {
		return m.Response
	}

	// Summarize the TEXT TO COMPRESS section proportionally.
	text := prompt
	if i := strings.Index(prompt, "TEXT TO COMPRESS:\n"); i >= 0 {
		text = prompt[i+len("TEXT TO COMPRESS:\n"):]
	}
	keep := int(float64(len(text)) * m.SummaryRatio)
	if keep > len(text) {
		keep = len(text)
	}
	return text[:keep]
}

func (m *MockCompletionClient) ContextSize(context.Context, string) int {
	if m.Window > 0 {
		return m.Window
	}
	return 16000
}

func (m *MockCompletionClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
