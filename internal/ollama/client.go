// Package ollama is the completion-service client for todoforge.
// It speaks the local Ollama HTTP contract: streaming chat over
// newline-delimited JSON, model listing, metadata lookup and pulls.
//
// Transport failures never surface as errors from the streaming path.
// They are converted into a single terminal fragment carrying an error
// marker (see IsStreamError), so one unreachable model cannot abort a
// multi-step workflow run. Callers that need the distinction must check
// the sentinel.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"todoforge/internal/logging"
)

// DefaultEndpoint is the standard local Ollama address.
const DefaultEndpoint = "http://localhost:11434"

// DefaultContextSize is assumed when a model is unknown and metadata
// lookup fails.
const DefaultContextSize = 16000

// streamErrorPrefix marks an in-band terminal error fragment.
const streamErrorPrefix = "[STREAM_ERROR:"

// contextSizes maps known model families to their context windows.
// Keyed by the model name before any ":tag" suffix.
var contextSizes = map[string]int{
	"llama3":         8192,
	"llama3.1":       131072,
	"llama3.2":       131072,
	"mistral":        32768,
	"mixtral":        32768,
	"phi3":           4096,
	"qwen2.5":        32768,
	"qwen2.5-coder":  32768,
	"codellama":      16384,
	"gemma2":         8192,
	"deepseek-coder": 16384,
}

// Client talks to one Ollama-compatible completion endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client

	mu        sync.Mutex
	sizeCache map[string]int
}

// NewClient creates a client for the given endpoint. An empty endpoint
// selects the local default.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			// No overall timeout: streamed generations can legitimately
			// run long. Callers bound calls via context.
			Timeout: 0,
		},
		sizeCache: make(map[string]int),
	}
}

// CountTokens estimates the token count of text using the 4-chars-per-token
// heuristic. Cheap and model-independent, not exact tokenization.
func CountTokens(text string) int {
	return len(text) / 4
}

// ChatStream starts a streaming chat completion and returns the stream.
// The optional system prompt is prepended as a system-role message.
// The returned stream is lazy, finite and non-restartable; it never fails
// with a transport error, degrading to an error-marker fragment instead.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, system string) *Stream {
	logging.APIDebug("ChatStream: model=%s messages=%d system_len=%d", model, len(messages), len(system))

	all := messages
	if system != "" {
		all = append([]Message{{Role: "system", Content: system}}, messages...)
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: all, Stream: true})
	if err != nil {
		return errorStream(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return errorStream(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("ChatStream: request failed: %v", err)
		return errorStream(fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		logging.Get(logging.CategoryAPI).Warn("ChatStream: status %d: %s", resp.StatusCode, msg)
		return errorStream(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	return newStream(resp.Body)
}

// Chat runs a streaming completion to the end and returns the concatenated
// text. An in-band error marker, if any, is part of the returned text.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, system string) string {
	start := time.Now()
	stream := c.ChatStream(ctx, model, messages, system)
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if err != nil {
			break
		}
		sb.WriteString(fragment)
	}

	text := sb.String()
	logging.API("Chat: model=%s completed in %v response_len=%d", model, time.Since(start), len(text))
	return text
}

// Complete sends a single user prompt with an optional system prompt.
// Convenience wrapper used by the compressor and the congress.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) string {
	return c.Chat(ctx, model, []Message{{Role: "user", Content: prompt}}, system)
}

// IsStreamError reports whether text carries (or contains) the in-band
// transport error marker.
func IsStreamError(text string) bool {
	return strings.Contains(text, streamErrorPrefix)
}

// ContextSize returns the context window for a model. Known families come
// from a static table; unknown models get a best-effort metadata query and
// fall back to DefaultContextSize. Results are cached per client.
func (c *Client) ContextSize(ctx context.Context, model string) int {
	c.mu.Lock()
	if size, ok := c.sizeCache[model]; ok {
		c.mu.Unlock()
		return size
	}
	c.mu.Unlock()

	size := lookupStaticSize(model)
	if size == 0 {
		size = c.queryContextSize(ctx, model)
	}
	if size == 0 {
		size = DefaultContextSize
	}

	c.mu.Lock()
	c.sizeCache[model] = size
	c.mu.Unlock()

	logging.APIDebug("ContextSize: model=%s window=%d", model, size)
	return size
}

func lookupStaticSize(model string) int {
	family := model
	if i := strings.IndexByte(family, ':'); i >= 0 {
		family = family[:i]
	}
	return contextSizes[family]
}

// queryContextSize asks /api/show for the model's context length.
// All failures are ignored; this is a refinement, not a requirement.
func (c *Client) queryContextSize(ctx context.Context, model string) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(showRequest{Model: model})
	if err != nil {
		return 0
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var show showResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return 0
	}

	// model_info keys vary by architecture, e.g. "llama.context_length".
	for key, val := range show.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if f, ok := val.(float64); ok && f > 0 {
				return int(f)
			}
		}
	}
	return 0
}

// ListModels returns the models available on the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags request failed with status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags.Models, nil
}

// Pull downloads a model, reporting each progress line to fn (may be nil).
func (c *Client) Pull(ctx context.Context, model string, fn func(PullProgress)) error {
	body, err := json.Marshal(pullRequest{Model: model, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var progress PullProgress
		if err := dec.Decode(&progress); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode pull progress: %w", err)
		}
		if fn != nil {
			fn(progress)
		}
		if progress.Status == "success" {
			return nil
		}
	}
}
