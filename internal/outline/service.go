package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/agent"
)

// SearchResult is one web search hit handed to the research agent.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher finds web sources for the research agent.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]SearchResult, error)
}

// PageFetcher supplies extracted text for a URL.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Service drives the outline generation pipeline: triage, an optional
// clarification pause, instruction building, and deep research. Unlike the
// link pipeline, failures here surface as returned errors after the session
// is marked, not as a success flag.
type Service struct {
	store      Store
	runner     *agent.Runner
	searcher   Searcher
	fetcher    PageFetcher
	logger     *log.Logger
	routing    config.LLMRoutingConfig
	maxSources int
}

// NewService wires an outline service. searcher and fetcher may be nil;
// research then proceeds on the brief alone.
func NewService(store Store, runner *agent.Runner, searcher Searcher, fetcher PageFetcher, routing config.LLMRoutingConfig, searchCfg config.SearchConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[OUTLINE] ", log.LstdFlags)
	}
	maxSources := searchCfg.MaxResults
	if maxSources <= 0 {
		maxSources = 5
	}
	return &Service{
		store:      store,
		runner:     runner,
		searcher:   searcher,
		fetcher:    fetcher,
		logger:     logger,
		routing:    routing,
		maxSources: maxSources,
	}
}

// Start creates a session and drives it to either a paused clarification
// state or full completion in one call.
func (s *Service) Start(ctx context.Context, in Input) (StartResult, error) {
	latest, err := s.store.LatestOutlineVersion(ctx, in.WorkflowID)
	if err != nil {
		return StartResult{}, fmt.Errorf("allocating version: %w", err)
	}
	sess := Session{
		ID:         uuid.NewString(),
		WorkflowID: in.WorkflowID,
		Version:    latest + 1,
		Status:     StatusTriaging,
		Prompt:     in.Prompt,
	}
	if err := s.store.CreateOutlineSession(ctx, sess); err != nil {
		return StartResult{}, fmt.Errorf("creating session: %w", err)
	}

	triage := triageAgent(s.routing.Model("decision"))
	conv := agent.NewConversation(triage, buildPrompt(in))
	decision, err := s.runner.RunDecision(ctx, triage, conv)
	if err != nil {
		return StartResult{}, s.fail(ctx, sess.ID, err)
	}

	if decision.Kind == agent.DecisionHandoff && decision.Target == AgentClarifying {
		return s.pause(ctx, sess.ID, in)
	}

	// A direct handoff to research, or a structured output, both mean the
	// prompt was specific enough to proceed.
	outline, citations, err := s.research(ctx, sess.ID, in, nil, nil)
	if err != nil {
		return StartResult{}, s.fail(ctx, sess.ID, err)
	}
	if err := s.store.CompleteOutlineSession(ctx, sess.ID, outline, citations); err != nil {
		return StartResult{}, s.fail(ctx, sess.ID, err)
	}
	return StartResult{SessionID: sess.ID, Outline: outline, Citations: citations}, nil
}

// ContinueWithAnswers resumes a session paused for clarification. It fails
// with ErrSessionNotResumable when the session is missing or carries no
// continuation state.
func (s *Service) ContinueWithAnswers(ctx context.Context, sessionID string, answers []string) (ContinueResult, error) {
	sess, ok, err := s.store.GetOutlineSession(ctx, sessionID)
	if err != nil {
		return ContinueResult{}, fmt.Errorf("loading session: %w", err)
	}
	if !ok || sess.Status != StatusClarifying || len(sess.AgentState) == 0 {
		return ContinueResult{}, ErrSessionNotResumable
	}

	var cont continuation
	if err := json.Unmarshal(sess.AgentState, &cont); err != nil {
		return ContinueResult{}, ErrSessionNotResumable
	}
	if cont.Version != continuationVersion {
		return ContinueResult{}, fmt.Errorf("unsupported continuation version %d", cont.Version)
	}

	outline, citations, err := s.research(ctx, sess.ID, cont.Input, cont.Questions, answers)
	if err != nil {
		return ContinueResult{}, s.fail(ctx, sess.ID, err)
	}
	if err := s.store.CompleteOutlineSession(ctx, sess.ID, outline, citations); err != nil {
		return ContinueResult{}, s.fail(ctx, sess.ID, err)
	}
	return ContinueResult{SessionID: sess.ID, Outline: outline, Citations: citations}, nil
}

// Get returns the stored session for read-only callers.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	sess, ok, err := s.store.GetOutlineSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// pause runs the clarifying agent, persists the continuation and parks the
// session until a caller supplies answers.
func (s *Service) pause(ctx context.Context, sessionID string, in Input) (StartResult, error) {
	clarify := clarifyingAgent(s.routing.Model("decision"))
	conv := agent.NewConversation(clarify, buildPrompt(in))

	var out struct {
		Questions []string `json:"questions"`
	}
	if err := s.runner.RunJSON(ctx, clarify, conv, &out); err != nil {
		return StartResult{}, s.fail(ctx, sessionID, err)
	}
	if len(out.Questions) == 0 {
		return StartResult{}, s.fail(ctx, sessionID, fmt.Errorf("clarifying agent produced no questions"))
	}

	state, err := json.Marshal(continuation{
		Version:   continuationVersion,
		Phase:     "awaiting_answers",
		Questions: out.Questions,
		Input:     in,
	})
	if err != nil {
		return StartResult{}, s.fail(ctx, sessionID, fmt.Errorf("encoding continuation: %w", err))
	}
	if err := s.store.PauseOutlineSession(ctx, sessionID, out.Questions, state); err != nil {
		return StartResult{}, s.fail(ctx, sessionID, err)
	}
	return StartResult{
		SessionID:          sessionID,
		NeedsClarification: true,
		Questions:          out.Questions,
	}, nil
}

// research builds the brief, gathers web sources and runs the research
// agent. questions/answers are nil when no clarification happened.
func (s *Service) research(ctx context.Context, sessionID string, in Input, questions, answers []string) (string, []string, error) {
	if err := s.store.SetOutlineStatus(ctx, sessionID, StatusResearching); err != nil {
		return "", nil, fmt.Errorf("advancing status: %w", err)
	}

	prompt := buildPrompt(in)
	if len(answers) > 0 {
		var sb strings.Builder
		sb.WriteString(prompt + "\nCLARIFICATION ANSWERS:\n")
		for i, a := range answers {
			if i < len(questions) {
				fmt.Fprintf(&sb, "Q: %s\nA: %s\n", questions[i], a)
			} else {
				fmt.Fprintf(&sb, "A: %s\n", a)
			}
		}
		prompt = sb.String()
	}

	instruct := instructionAgent(s.routing.Model("decision"))
	brief, err := s.runner.RunText(ctx, instruct, agent.NewConversation(instruct, prompt))
	if err != nil {
		return "", nil, err
	}

	sources, citations := s.gatherSources(ctx, in)

	var sb strings.Builder
	sb.WriteString("RESEARCH BRIEF:\n" + brief + "\n")
	if sources != "" {
		sb.WriteString("\nSOURCES:\n" + sources)
	}

	research := researchAgent(s.routing.Model("research"))
	outline, err := s.runner.RunText(ctx, research, agent.NewConversation(research, sb.String()))
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(outline) == "" {
		return "", nil, fmt.Errorf("research agent produced an empty outline")
	}
	return outline, citations, nil
}

// gatherSources searches the web for the prompt's topic and fetches short
// extracts of the top hits. Any failure degrades to fewer sources.
func (s *Service) gatherSources(ctx context.Context, in Input) (string, []string) {
	if s.searcher == nil {
		return "", nil
	}
	query := in.Prompt
	if in.TargetKeyword != "" {
		query = in.TargetKeyword
	}
	results, err := s.searcher.Search(ctx, query, s.maxSources)
	if err != nil {
		s.logger.Printf("web search failed, researching without sources: %v", err)
		return "", nil
	}

	const maxExtract = 2000
	var sb strings.Builder
	var citations []string
	for _, r := range results {
		citations = append(citations, r.URL)
		fmt.Fprintf(&sb, "--- %s (%s)\n", r.Title, r.URL)
		body := r.Snippet
		if s.fetcher != nil {
			if text, err := s.fetcher.FetchText(ctx, r.URL); err == nil && text != "" {
				body = text
			}
		}
		if len(body) > maxExtract {
			body = body[:maxExtract]
		}
		sb.WriteString(body + "\n")
	}
	return sb.String(), citations
}

func (s *Service) fail(ctx context.Context, sessionID string, cause error) error {
	if err := s.store.FailOutlineSession(ctx, sessionID, cause.Error()); err != nil {
		s.logger.Printf("session %s: recording failure also failed: %v", sessionID, err)
	}
	return cause
}
