package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockClient is a mock implementation of Completer for testing and local runs.
type MockClient struct {
	mu      sync.Mutex
	prompts []string
	options []GenerateOptions

	// Reply, when set, produces the completion content. Err, when set, fails every call.
	Reply func(prompt string) string
	Err   error
	// Delay simulates backend latency; it honours context cancellation.
	Delay time.Duration
}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Generate returns a canned reply derived from the last contact line of the prompt.
func (m *MockClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Completion, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, opts)
	reply, failure, delay := m.Reply, m.Err, m.Delay
	m.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failure != nil {
		return nil, failure
	}

	content := m.generateMockResponse(prompt)
	if reply != nil {
		content = reply(prompt)
	}
	model := opts.Model
	if model == "" {
		model = "mock"
	}
	return &Completion{
		Content:        content,
		Model:          model,
		Tokens:         len(prompt)/4 + len(content)/4,
		ProcessingTime: time.Since(start),
	}, nil
}

// Prompts returns every prompt received so far.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Options returns the generation options of every call so far.
func (m *MockClient) Options() []GenerateOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateOptions(nil), m.options...)
}

// Calls returns the number of Generate calls.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// generateMockResponse echoes the newest contact line.
func (m *MockClient) generateMockResponse(prompt string) string {
	var last string
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Contact: ") {
			last = strings.TrimPrefix(line, "Contact: ")
		}
	}
	if last == "" {
		return "[MOCK] This is a mock reply."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock reply.", truncate(last, 100))
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
