package agent

import (
	"encoding/json"

	"github.com/linkforge/linkforge/internal/llm"
)

// Definition is the stateless configuration of one agent: a model, an
// instruction prompt, the tools it may call and the agents it may hand off
// to. Definitions carry no mutable state and are built fresh per invocation.
type Definition struct {
	Name         string
	Model        string
	Instructions string
	Tools        []llm.ToolDef
	Handoffs     []string
}

// DecisionKind discriminates the outcome of a decision agent run.
type DecisionKind string

const (
	// DecisionHandoff routes control to another agent.
	DecisionHandoff DecisionKind = "handoff"
	// DecisionOutput terminates the decision with a structured value.
	DecisionOutput DecisionKind = "output"
)

// Decision is the tagged-union result of a decision agent: either a handoff
// to a named agent or a structured output.
type Decision struct {
	Kind   DecisionKind
	Target string
	Output json.RawMessage
}

// Conversation is an ordered role-tagged message history threaded through
// multi-turn agents.
type Conversation []llm.Message

// Append returns a new conversation extended with one message. The receiver
// is never modified; callers on different branches of a run can extend the
// same base history safely.
func (c Conversation) Append(role, content string) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, llm.Message{Role: role, Content: content})
}

// NewConversation starts a conversation with the agent's instructions as the
// system message.
func NewConversation(def Definition, user string) Conversation {
	conv := Conversation{{Role: "system", Content: def.Instructions}}
	if user != "" {
		conv = append(conv, llm.Message{Role: "user", Content: user})
	}
	return conv
}
