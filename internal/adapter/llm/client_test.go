package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3" || req.MaxTokens == nil || *req.MaxTokens != 50 || len(req.Messages) != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"llama3","choices":[{"index":0,"message":{"role":"assistant","content":"  hi there \n"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", time.Second)
	completion, err := client.Generate(context.Background(), "Contact: hello\nYou:", GenerateOptions{
		Model:       "llama3",
		Temperature: 0.7,
		MaxTokens:   50,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completion.Content != "hi there" || completion.Model != "llama3" || completion.Tokens != 6 {
		t.Fatalf("unexpected completion: %+v", completion)
	}
}

func TestClientGenerateSendsZeroTemperature(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	if _, err := client.Generate(context.Background(), "Contact: hi", GenerateOptions{Model: "m", MaxTokens: 10}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	temperature, ok := body["temperature"]
	if !ok {
		t.Fatalf("temperature missing from request: %v", body)
	}
	if temperature != float64(0) {
		t.Fatalf("expected temperature 0, got %v", temperature)
	}
}

func TestClientGenerateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.Generate(context.Background(), "hello", GenerateOptions{Model: "llama3"})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestClientGenerateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c1","model":"llama3","choices":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	if _, err := client.Generate(context.Background(), "hello", GenerateOptions{}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestClientGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Generate(ctx, "hello", GenerateOptions{}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	completion, err := m.Generate(context.Background(), "Persona\nContact: first\nYou: ok\nContact: second\nYou:", GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(completion.Content, `"second"`) {
		t.Fatalf("unexpected content: %s", completion.Content)
	}

	m.Err = errors.New("backend down")
	if _, err := m.Generate(context.Background(), "x", GenerateOptions{}); err == nil {
		t.Fatalf("expected configured error")
	}
	if m.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", m.Calls())
	}
}

func TestNewCompleter(t *testing.T) {
	logger := zap.NewNop()
	c, err := NewCompleter(context.Background(), Options{Provider: ProviderMock}, logger)
	if err != nil {
		t.Fatalf("NewCompleter failed: %v", err)
	}
	if _, ok := c.(*MockClient); !ok {
		t.Fatalf("expected mock client, got %T", c)
	}

	c, err = NewCompleter(context.Background(), Options{Provider: ProviderOpenAI, BaseURL: "http://localhost:11434"}, logger)
	if err != nil {
		t.Fatalf("NewCompleter failed: %v", err)
	}
	if _, ok := c.(*Client); !ok {
		t.Fatalf("expected OpenAI client, got %T", c)
	}

	if _, err := NewCompleter(context.Background(), Options{Provider: ProviderGenAI}, logger); err == nil {
		t.Fatalf("expected error without GenAI key")
	}
	if _, err := NewCompleter(context.Background(), Options{Provider: "bogus"}, logger); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
