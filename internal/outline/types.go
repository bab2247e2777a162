package outline

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Outline session statuses. Forward-only except for the explicit
// clarification pause, which parks the session at "clarifying" until a
// caller supplies answers.
const (
	StatusTriaging    = "triaging"
	StatusClarifying  = "clarifying"
	StatusResearching = "researching"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

var (
	// ErrSessionNotFound is returned for lookups of unknown sessions.
	ErrSessionNotFound = errors.New("outline session not found")
	// ErrSessionNotResumable is returned when continue-with-answers is
	// called on a session with no persisted continuation state.
	ErrSessionNotResumable = errors.New("session not found or invalid state")
)

// Input is everything the outline pipeline needs for one run.
type Input struct {
	WorkflowID    string `json:"workflow_id"`
	Prompt        string `json:"prompt"`
	ClientName    string `json:"client_name,omitempty"`
	TargetKeyword string `json:"target_keyword,omitempty"`
}

// StartResult is what starting a run returns: either a paused session
// carrying clarification questions, or a completed outline.
type StartResult struct {
	SessionID          string   `json:"session_id"`
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"questions,omitempty"`
	Outline            string   `json:"outline,omitempty"`
	Citations          []string `json:"citations,omitempty"`
}

// ContinueResult is what resuming a paused session returns.
type ContinueResult struct {
	SessionID string   `json:"session_id"`
	Outline   string   `json:"outline"`
	Citations []string `json:"citations"`
}

// Session is the durable record of one outline generation run. Version
// scopes repeated attempts against the same workflow; each new run takes
// max(version)+1.
type Session struct {
	ID           string
	WorkflowID   string
	Version      int
	Status       string
	Prompt       string
	Questions    []string
	Answers      []string
	AgentState   json.RawMessage
	Outline      string
	Citations    []string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the narrow persistence contract of the outline pipeline.
type Store interface {
	CreateOutlineSession(ctx context.Context, rec Session) error
	GetOutlineSession(ctx context.Context, id string) (Session, bool, error)
	LatestOutlineVersion(ctx context.Context, workflowID string) (int, error)
	SetOutlineStatus(ctx context.Context, id, status string) error
	PauseOutlineSession(ctx context.Context, id string, questions []string, agentState json.RawMessage) error
	CompleteOutlineSession(ctx context.Context, id, outline string, citations []string) error
	FailOutlineSession(ctx context.Context, id, message string) error
}

// continuation is the versioned resumable state persisted when the
// pipeline pauses for clarification. It is deliberately a plain value
// object so resumption does not depend on any provider runtime.
type continuation struct {
	Version   int      `json:"version"`
	Phase     string   `json:"phase"`
	Questions []string `json:"questions"`
	Input     Input    `json:"input"`
}

const continuationVersion = 1
