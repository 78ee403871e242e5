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

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

func TestToMessageContentMapsRoles(t *testing.T) {
	t.Parallel()
	got := toMessageContent([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	if got[0].Role != schema.ChatMessageTypeHuman || got[1].Role != schema.ChatMessageTypeAI {
		t.Fatalf("roles = %s, %s; want human, ai", got[0].Role, got[1].Role)
	}
	part, ok := got[1].Parts[0].(llms.TextContent)
	if !ok || part.Text != "hello" {
		t.Fatalf("parts[0] = %#v; want TextContent hello", got[1].Parts[0])
	}
}

func TestNewOpenAIClient(t *testing.T) {
	t.Parallel()
	c, err := NewOpenAIClient("http://localhost:11434/v1/", "fake", "llama3.1:8b", zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v; want nil", err)
	}
	var _ Completer = c
}

func openAIChunk(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "llama3.1:8b",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": text}}},
	})
	return string(b)
}

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(srv.URL+"/v1", "fake", "llama3.1:8b", zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v; want nil", err)
	}
	return c
}

func TestOpenAIStreamFragments(t *testing.T) {
	t.Parallel()

	var got struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, s := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: %s\n\n", openAIChunk(s))
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	events, err := c.Stream(context.Background(), CompletionRequest{
		Model:       "qwen2.5:7b",
		Messages:    []Message{{Role: "user", Content: "Hi"}},
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v; want nil", err)
	}
	parts, err := drain(events)
	if err != nil {
		t.Fatalf("stream error = %v; want nil", err)
	}
	if strings.Join(parts, "") != "Hello" || len(parts) < 2 {
		t.Fatalf("fragments = %q; want Hel then lo", parts)
	}
	if got.Model != "qwen2.5:7b" || !got.Stream {
		t.Fatalf("request model/stream = %q/%v; want qwen2.5:7b/true", got.Model, got.Stream)
	}
}

func TestOpenAIStreamErrorCarriesUpstreamMessage(t *testing.T) {
	t.Parallel()
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`) //nolint:errcheck
	})

	_, err := Collect(context.Background(), c, CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "Hi"}}})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Collect() error = %v; want *UpstreamError", err)
	}
	if !strings.Contains(upErr.Message, "slow down") {
		t.Fatalf("UpstreamError.Message = %q; want upstream message", upErr.Message)
	}
}

func TestOpenAICancelStopsProducer(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	c := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", openAIChunk("one"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Stream(ctx, CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "Hi"}}})
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
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				t.Fatalf("event after cancel = %v; want channel closed", ev.Err)
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}
