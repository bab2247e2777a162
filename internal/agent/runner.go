package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/linkforge/linkforge/internal/jsonx"
	"github.com/linkforge/linkforge/internal/llm"
)

// Runner executes agent definitions against a model provider. It is safe for
// concurrent use; each run builds its own request state.
type Runner struct {
	provider llm.Provider
	logger   *log.Logger
	timeout  time.Duration
}

// NewRunner creates a runner. timeout bounds each individual agent
// invocation; zero disables the bound.
func NewRunner(provider llm.Provider, logger *log.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return &Runner{provider: provider, logger: logger, timeout: timeout}
}

func (r *Runner) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// RunText runs an agent expecting plain text output.
func (r *Runner) RunText(ctx context.Context, def Definition, conv Conversation) (string, error) {
	ctx, cancel := r.runCtx(ctx)
	defer cancel()

	out, err := r.provider.Complete(ctx, llm.Request{
		Model:    def.Model,
		Messages: conv,
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", def.Name, err)
	}
	return out, nil
}

// RunDecision runs a decision agent. The agent is instructed to answer with a
// JSON object; a non-empty "handoff" field naming one of the definition's
// handoff targets routes control, anything else is treated as the agent's
// structured output.
func (r *Runner) RunDecision(ctx context.Context, def Definition, conv Conversation) (Decision, error) {
	raw, err := r.RunText(ctx, def, conv)
	if err != nil {
		return Decision{}, err
	}
	extracted, err := jsonx.Extract(raw)
	if err != nil {
		return Decision{}, fmt.Errorf("agent %s returned no parseable decision: %w", def.Name, err)
	}

	var probe struct {
		Handoff string `json:"handoff"`
	}
	if err := json.Unmarshal([]byte(extracted), &probe); err != nil {
		return Decision{}, fmt.Errorf("agent %s decision malformed: %w", def.Name, err)
	}
	if target := strings.TrimSpace(probe.Handoff); target != "" {
		for _, allowed := range def.Handoffs {
			if allowed == target {
				return Decision{Kind: DecisionHandoff, Target: target}, nil
			}
		}
		return Decision{}, fmt.Errorf("agent %s handed off to unknown target %q", def.Name, target)
	}
	return Decision{Kind: DecisionOutput, Output: json.RawMessage(extracted)}, nil
}

// Extraction is the collected result of a streamed tool-using run: all
// recognised tool calls grouped by tool name in emission order, plus any
// plain assistant messages.
type Extraction struct {
	Calls    map[string][]json.RawMessage
	Messages []string
}

// ArgumentsFor returns the accumulated argument list for a tool, which may
// be empty; an agent deciding no edit is warranted is not an error.
func (e Extraction) ArgumentsFor(tool string) []json.RawMessage {
	return e.Calls[tool]
}

// RunTools runs a tool-using agent and extracts its tool calls from the
// event stream. Tool names outside the definition's tool set are dropped,
// not errors; new tools must not crash the pipeline.
func (r *Runner) RunTools(ctx context.Context, def Definition, conv Conversation) (Extraction, error) {
	ctx, cancel := r.runCtx(ctx)
	defer cancel()

	known := make(map[string]bool, len(def.Tools))
	for _, t := range def.Tools {
		known[t.Name] = true
	}

	ex := Extraction{Calls: make(map[string][]json.RawMessage)}
	err := r.provider.Stream(ctx, llm.Request{
		Model:    def.Model,
		Messages: conv,
		Tools:    def.Tools,
	}, func(ev llm.StreamEvent) error {
		switch e := ev.(type) {
		case llm.ToolCallEvent:
			if !known[e.Name] {
				r.logger.Printf("agent %s emitted unknown tool %q, dropping", def.Name, e.Name)
				return nil
			}
			args := make(json.RawMessage, len(e.Arguments))
			copy(args, e.Arguments)
			ex.Calls[e.Name] = append(ex.Calls[e.Name], args)
		case llm.MessageEvent:
			ex.Messages = append(ex.Messages, e.Text)
		}
		return nil
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("agent %s: %w", def.Name, err)
	}
	return ex, nil
}

// RunJSON runs an agent expecting a single JSON object output and unmarshals
// it into out.
func (r *Runner) RunJSON(ctx context.Context, def Definition, conv Conversation, out interface{}) error {
	raw, err := r.RunText(ctx, def, conv)
	if err != nil {
		return err
	}
	extracted, err := jsonx.Extract(raw)
	if err != nil {
		return fmt.Errorf("agent %s returned no parseable JSON: %w", def.Name, err)
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("agent %s output malformed: %w", def.Name, err)
	}
	return nil
}
