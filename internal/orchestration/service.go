package orchestration

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/agent"
	"github.com/linkforge/linkforge/internal/progress"
)

// PageFetcher supplies extracted text for a URL, used to give placement
// agents real context about the client's target page. Optional; a nil
// fetcher or a fetch failure degrades to empty context.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Service drives the three-phase link orchestration pipeline.
type Service struct {
	store   SessionStore
	runner  *agent.Runner
	broker  progress.Broker
	fetcher PageFetcher
	logger  *log.Logger
	routing config.LLMRoutingConfig
	topK    int
	script  refinementScript
}

// NewService wires a pipeline service. broker and fetcher may be nil.
func NewService(store SessionStore, runner *agent.Runner, broker progress.Broker, fetcher PageFetcher, routing config.LLMRoutingConfig, agentsCfg config.AgentsConfig, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	script, err := loadRefinementScript()
	if err != nil {
		return nil, err
	}
	topK := agentsCfg.RelevantParagraphs
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		store:   store,
		runner:  runner,
		broker:  broker,
		fetcher: fetcher,
		logger:  logger,
		routing: routing,
		topK:    topK,
		script:  script,
	}, nil
}

// Orchestrate runs all three phases to completion. It never returns an
// error for expected failure modes: the result carries a success flag, and
// on failure the caller gets the original article back unmodified.
func (s *Service) Orchestrate(ctx context.Context, in Input) Result {
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	sess := LinkSession{
		ID:              in.SessionID,
		WorkflowID:      in.WorkflowID,
		Status:          StatusInitializing,
		Input:           in,
		OriginalArticle: in.Article,
	}
	if err := s.store.CreateLinkSession(ctx, sess); err != nil {
		s.logger.Printf("session %s: create failed: %v", in.SessionID, err)
		return s.failResult(in.SessionID, in.Article, "creating session: "+err.Error())
	}
	sessionsStarted.Inc()
	s.publish(ctx, in.SessionID, StatusInitializing, "session created")

	return s.run(ctx, sess)
}

// ResumeSession re-enters a session at its first incomplete phase, reusing
// persisted snapshots for everything already committed. Resuming an already
// completed session returns the stored artifacts without re-running any
// phase.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) Result {
	sess, ok, err := s.store.GetLinkSession(ctx, sessionID)
	if err != nil {
		return s.failResult(sessionID, "", "loading session: "+err.Error())
	}
	if !ok {
		return Result{Success: false, SessionID: sessionID, Error: "session not found or invalid state"}
	}
	if sess.Status == StatusCompleted {
		return s.resultFromSession(sess)
	}
	s.publish(ctx, sessionID, sess.Status, "resuming session")
	return s.run(ctx, sess)
}

// SessionProgress is the read-only status projection for polling callers.
func (s *Service) SessionProgress(ctx context.Context, sessionID string) (Progress, error) {
	sess, ok, err := s.store.GetLinkSession(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	if !ok {
		return Progress{}, ErrSessionNotFound
	}
	return Progress{
		SessionID:      sess.ID,
		Status:         sess.Status,
		Phase1Complete: sess.Phase1CompletedAt != nil,
		Phase2Complete: sess.Phase2CompletedAt != nil,
		Phase3Complete: sess.Phase3CompletedAt != nil,
		Error:          sess.ErrorMessage,
		UpdatedAt:      sess.UpdatedAt,
	}, nil
}

// run drives the pipeline from the first phase lacking a completion
// timestamp. Completed phases contribute their persisted snapshots and
// results; they are never re-run.
func (s *Service) run(ctx context.Context, sess LinkSession) Result {
	in := sess.Input
	article := sess.OriginalArticle

	var p1 Phase1Result
	var p2 Phase2Result
	var p3 Phase3Result

	if sess.Phase1CompletedAt == nil {
		next, res, err := s.runPhase1(ctx, sess.ID, in, article)
		if err != nil {
			return s.fail(ctx, sess.ID, in, "phase1: "+err.Error())
		}
		article, p1 = next, res
	} else {
		article = sess.ArticleAfterPhase1
		decodeResult(sess.Phase1Result, &p1)
	}

	if sess.Phase2CompletedAt == nil {
		next, res, err := s.runPhase2(ctx, sess.ID, in, article)
		if err != nil {
			return s.fail(ctx, sess.ID, in, "phase2: "+err.Error())
		}
		article, p2 = next, res
	} else {
		article = sess.ArticleAfterPhase2
		decodeResult(sess.Phase2Result, &p2)
	}

	if sess.Phase3CompletedAt == nil {
		next, res, err := s.runPhase3(ctx, sess.ID, in, article)
		if err != nil {
			return s.fail(ctx, sess.ID, in, "phase3: "+err.Error())
		}
		article, p3 = next, res
	} else {
		article = sess.FinalArticle
		decodeResult(sess.Phase3Result, &p3)
	}

	if err := s.store.CompleteLinkSession(ctx, sess.ID); err != nil {
		return s.fail(ctx, sess.ID, in, "completing session: "+err.Error())
	}
	sessionsCompleted.Inc()
	s.publish(ctx, sess.ID, StatusCompleted, "pipeline completed")

	return Result{
		Success:        true,
		SessionID:      sess.ID,
		FinalArticle:   article,
		InternalLinks:  p1.InternalLinks,
		ClientMentions: p1.ClientMentions,
		ClientLink:     p2.ClientLink,
		ImageStrategy:  p3.ImageStrategy,
		LinkRequests:   p3.LinkRequests,
		URLSuggestion:  p3.URLSuggestion,
	}
}

// resultFromSession rebuilds the terminal result of a completed session
// from its stored snapshots.
func (s *Service) resultFromSession(sess LinkSession) Result {
	var p1 Phase1Result
	var p2 Phase2Result
	var p3 Phase3Result
	decodeResult(sess.Phase1Result, &p1)
	decodeResult(sess.Phase2Result, &p2)
	decodeResult(sess.Phase3Result, &p3)
	return Result{
		Success:        true,
		SessionID:      sess.ID,
		FinalArticle:   sess.FinalArticle,
		InternalLinks:  p1.InternalLinks,
		ClientMentions: p1.ClientMentions,
		ClientLink:     p2.ClientLink,
		ImageStrategy:  p3.ImageStrategy,
		LinkRequests:   p3.LinkRequests,
		URLSuggestion:  p3.URLSuggestion,
	}
}

func (s *Service) fail(ctx context.Context, sessionID string, in Input, msg string) Result {
	if err := s.store.FailLinkSession(ctx, sessionID, msg); err != nil {
		s.logger.Printf("session %s: recording failure also failed: %v", sessionID, err)
	}
	sessionsFailed.Inc()
	s.publish(ctx, sessionID, StatusFailed, msg)
	return s.failResult(sessionID, in.Article, msg)
}

func (s *Service) failResult(sessionID, article, msg string) Result {
	return Result{Success: false, SessionID: sessionID, FinalArticle: article, Error: msg}
}

func (s *Service) publish(ctx context.Context, sessionID, phase, message string) {
	if s.broker == nil {
		return
	}
	ev := progress.Event{SessionID: sessionID, Phase: phase, Message: message, At: time.Now().UTC()}
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.logger.Printf("session %s: progress publish failed: %v", sessionID, err)
	}
}

func decodeResult(raw json.RawMessage, out interface{}) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, out)
}
