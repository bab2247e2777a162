package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linkforge/linkforge/config"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef describes a function tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// Request is a single model invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// StreamEvent is one classified event from a streamed model run.
// The concrete types below are the only kinds the orchestration layer
// reacts to; everything else in the wire stream is dropped at this boundary.
type StreamEvent interface {
	streamEvent()
}

// ToolCallEvent carries one completed tool invocation from the model.
type ToolCallEvent struct {
	Name      string
	Arguments json.RawMessage
}

// MessageEvent carries a plain assistant message.
type MessageEvent struct {
	Text string
}

func (ToolCallEvent) streamEvent() {}
func (MessageEvent) streamEvent()  {}

// Provider is the contract for chat-completion model providers.
type Provider interface {
	// Complete runs a non-streaming completion and returns the assistant text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream runs a streaming completion, invoking emit for each classified
	// event in the order the model produced it. A non-nil error from emit
	// aborts the stream.
	Stream(ctx context.Context, req Request, emit func(StreamEvent) error) error
}

// NewProvider builds a provider from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
