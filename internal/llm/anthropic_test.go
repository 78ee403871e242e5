package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func sseEvent(w io.Writer, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func textDelta(text string) string {
	b, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	return string(b)
}

// wireRequest is the part of the Messages API body the tests inspect.
type wireRequest struct {
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature"`
	Thinking    *struct {
		Type         string `json:"type"`
		BudgetTokens int    `json:"budget_tokens"`
	} `json:"thinking"`
	Tools []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		MaxUses int    `json:"max_uses"`
	} `json:"tools"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewAnthropicClient("test-key", srv.URL, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v; want nil", err)
	}
	return c
}

func drain(events <-chan StreamEvent) ([]string, error) {
	var parts []string
	for ev := range events {
		if ev.Err != nil {
			return parts, ev.Err
		}
		parts = append(parts, ev.Text)
	}
	return parts, nil
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewAnthropicClient("", "", zap.NewNop()); err == nil {
		t.Fatal("NewAnthropicClient(\"\") error = nil; want error")
	}
}

func TestAnthropicStreamFragments(t *testing.T) {
	t.Parallel()

	var got wireRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") != "2023-06-01" {
			http.Error(w, "bad headers", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`)
		sseEvent(w, "ping", `{"type":"ping"}`)
		sseEvent(w, "content_block_delta", textDelta("Hel"))
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}`)
		sseEvent(w, "content_block_delta", textDelta("lo"))
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	events, err := c.Stream(context.Background(), CompletionRequest{
		Model:       ModelClaudeSonnet4,
		Messages:    []Message{{Role: "user", Content: "Hi"}, {Role: "assistant", Content: "Hello!"}, {Role: "user", Content: "Again"}},
		MaxTokens:   64000,
		Temperature: 0.1,
		WebSearch:   true,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v; want nil", err)
	}
	parts, err := drain(events)
	if err != nil {
		t.Fatalf("stream error = %v; want nil", err)
	}
	if strings.Join(parts, "|") != "Hel|lo" {
		t.Fatalf("fragments = %q; want [Hel lo]", parts)
	}

	if !got.Stream || got.Model != ModelClaudeSonnet4 || got.MaxTokens != 64000 {
		t.Fatalf("request = %+v; want stream/model/max_tokens set", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 {
		t.Fatalf("temperature = %v; want 0.1", got.Temperature)
	}
	if got.Thinking != nil {
		t.Fatalf("thinking = %+v; want nil", got.Thinking)
	}
	if len(got.Tools) != 1 || got.Tools[0].Type != "web_search_20250305" || got.Tools[0].Name != "web_search" || got.Tools[0].MaxUses != 5 {
		t.Fatalf("tools = %+v; want web search tool", got.Tools)
	}
	if len(got.Messages) != 3 || got.Messages[1].Role != "assistant" || got.Messages[2].Content[0].Text != "Again" {
		t.Fatalf("messages = %+v; want history in order", got.Messages)
	}
}

// encodeRequest renders the params the way the SDK sends them.
func encodeRequest(t *testing.T, req CompletionRequest) wireRequest {
	t.Helper()
	b, err := json.Marshal(buildAnthropicRequest(req))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var out wireRequest
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return out
}

func TestAnthropicThinkingOmitsTemperature(t *testing.T) {
	t.Parallel()
	req := encodeRequest(t, CompletionRequest{
		Model:       ModelClaudeOpus4,
		MaxTokens:   32000,
		Temperature: 0.7,
		Thinking:    true,
	})
	if req.Thinking == nil || req.Thinking.Type != "enabled" {
		t.Fatalf("thinking = %+v; want enabled", req.Thinking)
	}
	if req.Thinking.BudgetTokens >= 32000 || req.Thinking.BudgetTokens < minThinkingBudget {
		t.Fatalf("budget_tokens = %d; want within [%d, 32000)", req.Thinking.BudgetTokens, minThinkingBudget)
	}
	if req.Temperature != nil {
		t.Fatalf("temperature = %v; want omitted", *req.Temperature)
	}

	small := encodeRequest(t, CompletionRequest{MaxTokens: 20, Thinking: true, Temperature: 0.3})
	if small.Thinking != nil {
		t.Fatalf("thinking with max_tokens 20 = %+v; want nil", small.Thinking)
	}
	if small.Temperature == nil || *small.Temperature != 0.3 {
		t.Fatalf("temperature with max_tokens 20 = %v; want 0.3", small.Temperature)
	}
}

func TestAnthropicHTTPErrorCarriesUpstreamMessage(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`) //nolint:errcheck
	})

	// Rejections may surface from Stream itself or as the first event.
	events, err := c.Stream(context.Background(), CompletionRequest{Model: ModelClaudeSonnet4, MaxTokens: 10})
	if err == nil {
		_, err = drain(events)
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Stream() error = %v; want *UpstreamError", err)
	}
	if upErr.Status != 529 || upErr.Type != "overloaded_error" || upErr.Message != "Overloaded" {
		t.Fatalf("UpstreamError = %+v; want 529 overloaded_error Overloaded", upErr)
	}
}

func TestAnthropicMidStreamError(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "content_block_delta", textDelta("partial"))
		sseEvent(w, "error", `{"type":"error","error":{"type":"api_error","message":"Internal server error"}}`)
	})

	events, err := c.Stream(context.Background(), CompletionRequest{Model: ModelClaudeSonnet4, MaxTokens: 10})
	if err != nil {
		t.Fatalf("Stream() error = %v; want nil", err)
	}
	parts, err := drain(events)
	if len(parts) != 1 || parts[0] != "partial" {
		t.Fatalf("fragments = %q; want [partial]", parts)
	}
	if err == nil || !strings.Contains(err.Error(), "Internal server error") {
		t.Fatalf("stream error = %v; want upstream message", err)
	}
}

func TestAnthropicTruncatedStream(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "content_block_delta", textDelta("cut"))
	})

	events, err := c.Stream(context.Background(), CompletionRequest{Model: ModelClaudeSonnet4, MaxTokens: 10})
	if err != nil {
		t.Fatalf("Stream() error = %v; want nil", err)
	}
	if _, err := drain(events); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("stream error = %v; want io.ErrUnexpectedEOF", err)
	}
}

func TestAnthropicCancelStopsProducer(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "content_block_delta", textDelta("one"))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Stream(ctx, CompletionRequest{Model: ModelClaudeSonnet4, MaxTokens: 10})
	if err != nil {
		t.Fatalf("Stream() error = %v; want nil", err)
	}
	if ev := <-events; ev.Text != "one" {
		t.Fatalf("first event = %+v; want text one", ev)
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, s := range []string{"Quantum ", "computing ", "basics"} {
			sseEvent(w, "content_block_delta", textDelta(s))
		}
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	got, err := Collect(context.Background(), c, CompletionRequest{Model: ModelClaudeSonnet4, MaxTokens: 20})
	if err != nil {
		t.Fatalf("Collect() error = %v; want nil", err)
	}
	if got != "Quantum computing basics" {
		t.Fatalf("Collect() = %q; want %q", got, "Quantum computing basics")
	}
}

func TestUpstreamNotReady(t *testing.T) {
	t.Parallel()
	u := NewUpstream()
	if u.Ready() {
		t.Fatal("Ready() = true before Set")
	}
	if _, err := u.Stream(context.Background(), CompletionRequest{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Stream() error = %v; want ErrNotReady", err)
	}
}
