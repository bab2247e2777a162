package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/agent"
	"github.com/linkforge/linkforge/internal/llm"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	complete func(req llm.Request) (string, error)
}

func (p *stubProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.complete(req)
}

func (p *stubProvider) Stream(_ context.Context, _ llm.Request, _ func(llm.StreamEvent) error) error {
	return fmt.Errorf("outline agents do not stream")
}

func sysPrompt(req llm.Request) string {
	if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
		return req.Messages[0].Content
	}
	return ""
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore { return &memStore{sessions: map[string]*Session{}} }

func (m *memStore) CreateOutlineSession(_ context.Context, rec Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.WorkflowID == rec.WorkflowID && s.Version == rec.Version {
			return fmt.Errorf("duplicate version %d for workflow %s", rec.Version, rec.WorkflowID)
		}
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	cp := rec
	m.sessions[rec.ID] = &cp
	return nil
}

func (m *memStore) GetOutlineSession(_ context.Context, id string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false, nil
	}
	return *s, true, nil
}

func (m *memStore) LatestOutlineVersion(_ context.Context, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, s := range m.sessions {
		if s.WorkflowID == workflowID && s.Version > max {
			max = s.Version
		}
	}
	return max, nil
}

func (m *memStore) SetOutlineStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) PauseOutlineSession(_ context.Context, id string, questions []string, agentState json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = StatusClarifying
	s.Questions = append([]string(nil), questions...)
	s.AgentState = append(json.RawMessage(nil), agentState...)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CompleteOutlineSession(_ context.Context, id, outlineText string, citations []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = StatusCompleted
	s.Outline = outlineText
	s.Citations = append([]string(nil), citations...)
	s.AgentState = nil
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) FailOutlineSession(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = StatusError
	s.ErrorMessage = message
	s.UpdatedAt = time.Now()
	return nil
}

type stubSearcher struct {
	results []SearchResult
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	return s.results, s.err
}

func directResearchComplete(req llm.Request) (string, error) {
	sys := sysPrompt(req)
	switch {
	case strings.Contains(sys, "triage outline-generation requests"):
		return `{"handoff": "research"}`, nil
	case strings.Contains(sys, "You turn an outline request"):
		return "Brief: a practical guide to guest-post outreach for SEO leads.", nil
	case strings.Contains(sys, "research agent producing article outlines"):
		return "## Why outreach matters\n- editors are busy\n\n## Process\n- prospecting\n- pitching", nil
	default:
		return "", fmt.Errorf("unexpected agent: %s", sys)
	}
}

func newTestService(t *testing.T, st Store, provider llm.Provider, searcher Searcher) *Service {
	t.Helper()
	logger := log.New(testWriter{t}, "[OUTLINE] ", 0)
	runner := agent.NewRunner(provider, logger, 0)
	return NewService(st, runner, searcher, nil, config.LLMRoutingConfig{Fallback: "test-model"}, config.SearchConfig{MaxResults: 3}, logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func TestStartWithoutClarification(t *testing.T) {
	st := newMemStore()
	provider := &stubProvider{complete: directResearchComplete}
	searcher := &stubSearcher{results: []SearchResult{
		{Title: "Outreach study", URL: "https://example.com/study", Snippet: "data on reply rates"},
	}}
	svc := newTestService(t, st, provider, searcher)

	res, err := svc.Start(context.Background(), Input{
		WorkflowID: "wf-1",
		Prompt:     "Write a comprehensive guide to guest-post outreach for technical readers",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NeedsClarification {
		t.Fatal("clear prompt should not pause for clarification")
	}
	if res.Outline == "" {
		t.Fatal("outline should be non-empty")
	}
	if len(res.Citations) != 1 || res.Citations[0] != "https://example.com/study" {
		t.Fatalf("citations = %v", res.Citations)
	}

	sess, _, _ := st.GetOutlineSession(context.Background(), res.SessionID)
	if sess.Status != StatusCompleted {
		t.Fatalf("status = %q", sess.Status)
	}
	if sess.Version != 1 {
		t.Fatalf("version = %d, want 1", sess.Version)
	}
}

func TestClarificationPauseAndResume(t *testing.T) {
	st := newMemStore()
	provider := &stubProvider{}
	provider.complete = func(req llm.Request) (string, error) {
		sys := sysPrompt(req)
		switch {
		case strings.Contains(sys, "triage outline-generation requests"):
			return `{"handoff": "clarifying"}`, nil
		case strings.Contains(sys, "clarification questions"):
			return `{"questions": ["What audience?", "Which angle?"]}`, nil
		case strings.Contains(sys, "You turn an outline request"):
			// answers must reach the instruction agent
			if user := req.Messages[1].Content; !strings.Contains(user, "CTOs at startups") {
				return "", fmt.Errorf("clarification answers missing from brief input: %q", user)
			}
			return "Brief: guide for CTOs.", nil
		case strings.Contains(sys, "research agent producing article outlines"):
			return "## Section\n- point", nil
		default:
			return "", fmt.Errorf("unexpected agent: %s", sys)
		}
	}
	svc := newTestService(t, st, provider, nil)

	start, err := svc.Start(context.Background(), Input{WorkflowID: "wf-2", Prompt: "Write something about outreach"})
	if err != nil {
		t.Fatal(err)
	}
	if !start.NeedsClarification {
		t.Fatal("vague prompt should pause for clarification")
	}
	if len(start.Questions) != 2 {
		t.Fatalf("questions = %v", start.Questions)
	}

	sess, _, _ := st.GetOutlineSession(context.Background(), start.SessionID)
	if sess.Status != StatusClarifying {
		t.Fatalf("status = %q", sess.Status)
	}
	if len(sess.AgentState) == 0 {
		t.Fatal("continuation state should be persisted on pause")
	}

	cont, err := svc.ContinueWithAnswers(context.Background(), start.SessionID, []string{"CTOs at startups", "practical"})
	if err != nil {
		t.Fatal(err)
	}
	if cont.Outline == "" {
		t.Fatal("resumed run should produce an outline")
	}
	sess, _, _ = st.GetOutlineSession(context.Background(), start.SessionID)
	if sess.Status != StatusCompleted {
		t.Fatalf("status after resume = %q", sess.Status)
	}
	if len(sess.AgentState) != 0 {
		t.Fatal("continuation state should be cleared on completion")
	}
}

func TestContinueWithAnswersInvalidSession(t *testing.T) {
	st := newMemStore()
	provider := &stubProvider{complete: directResearchComplete}
	svc := newTestService(t, st, provider, nil)

	if _, err := svc.ContinueWithAnswers(context.Background(), "missing", []string{"a"}); err != ErrSessionNotResumable {
		t.Fatalf("err = %v, want ErrSessionNotResumable", err)
	}

	// Completed sessions carry no continuation state and are not resumable.
	res, err := svc.Start(context.Background(), Input{WorkflowID: "wf-3", Prompt: "Write a comprehensive guide to X for technical readers"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ContinueWithAnswers(context.Background(), res.SessionID, []string{"a"}); err != ErrSessionNotResumable {
		t.Fatalf("err = %v, want ErrSessionNotResumable", err)
	}
}

func TestStartFailureMarksSessionError(t *testing.T) {
	st := newMemStore()
	provider := &stubProvider{}
	provider.complete = func(req llm.Request) (string, error) {
		if strings.Contains(sysPrompt(req), "triage") {
			return `{"handoff": "research"}`, nil
		}
		return "", fmt.Errorf("model unavailable")
	}
	svc := newTestService(t, st, provider, nil)

	_, err := svc.Start(context.Background(), Input{WorkflowID: "wf-4", Prompt: "Write a clear guide to Y"})
	if err == nil {
		t.Fatal("outline pipeline failures must surface as errors")
	}
	var errored *Session
	for _, s := range st.sessions {
		if s.WorkflowID == "wf-4" {
			errored = s
		}
	}
	if errored == nil || errored.Status != StatusError || errored.ErrorMessage == "" {
		t.Fatalf("session should be marked errored, got %+v", errored)
	}
}

func TestVersionsIncrementPerWorkflow(t *testing.T) {
	st := newMemStore()
	provider := &stubProvider{complete: directResearchComplete}
	svc := newTestService(t, st, provider, nil)

	first, err := svc.Start(context.Background(), Input{WorkflowID: "wf-5", Prompt: "Write a comprehensive guide to A for engineers"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Start(context.Background(), Input{WorkflowID: "wf-5", Prompt: "Write a comprehensive guide to B for engineers"})
	if err != nil {
		t.Fatal(err)
	}
	s1, _, _ := st.GetOutlineSession(context.Background(), first.SessionID)
	s2, _, _ := st.GetOutlineSession(context.Background(), second.SessionID)
	if s1.Version != 1 || s2.Version != 2 {
		t.Fatalf("versions = %d, %d; want 1, 2", s1.Version, s2.Version)
	}
}
