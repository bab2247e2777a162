package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linkforge/linkforge/config"
)

func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body struct {
			Stream bool `json:"stream"`
			Tools  []struct {
				Type string `json:"type"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !body.Stream {
			t.Error("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamAccumulatesFragmentedToolCalls(t *testing.T) {
	frames := []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"insert_internal_link","arguments":"{\"anchor\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"great tools\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"add_client_mention","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"content":"done"}}]}`,
	}
	srv := sseServer(t, frames)
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMProvider{Type: "openai", APIKey: "test-key", BaseURL: srv.URL})
	var events []StreamEvent
	err := p.Stream(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "go"}},
		Tools:    []ToolDef{{Name: "insert_internal_link"}, {Name: "add_client_mention"}},
	}, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	first, ok := events[0].(ToolCallEvent)
	if !ok || first.Name != "insert_internal_link" {
		t.Fatalf("events[0] = %#v", events[0])
	}
	var args struct {
		Anchor string `json:"anchor"`
	}
	if err := json.Unmarshal(first.Arguments, &args); err != nil || args.Anchor != "great tools" {
		t.Fatalf("fragmented arguments not reassembled: %s", first.Arguments)
	}
	second, ok := events[1].(ToolCallEvent)
	if !ok || second.Name != "add_client_mention" {
		t.Fatalf("events[1] = %#v", events[1])
	}
	msg, ok := events[2].(MessageEvent)
	if !ok || msg.Text != "done" {
		t.Fatalf("events[2] = %#v", events[2])
	}
}

func TestStreamToleratesMalformedFrames(t *testing.T) {
	frames := []string{
		`not json at all`,
		`{"choices":[{"delta":{"content":"hello"}}]}`,
	}
	srv := sseServer(t, frames)
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMProvider{Type: "openai", APIKey: "k", BaseURL: srv.URL})
	var texts []string
	err := p.Stream(context.Background(), Request{Model: "m"}, func(ev StreamEvent) error {
		if m, ok := ev.(MessageEvent); ok {
			texts = append(texts, m.Text)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 || texts[0] != "hello" {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.LLMProvider{Type: "openai", APIKey: "k", BaseURL: srv.URL})
	err := p.Stream(context.Background(), Request{Model: "m"}, func(StreamEvent) error { return nil })
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestNewProviderRejectsUnknownType(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"other": {Type: "anthropic"},
	}})
	if err == nil {
		t.Fatal("expected an error for unsupported provider type")
	}
}
