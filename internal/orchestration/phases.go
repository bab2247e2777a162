package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linkforge/linkforge/internal/agent"
)

// fetchClientPage pulls an extract of the client's target page for agent
// context. Failures degrade to an empty extract; placement quality suffers
// but the pipeline does not stop.
func (s *Service) fetchClientPage(ctx context.Context, url string) string {
	if s.fetcher == nil || url == "" {
		return ""
	}
	text, err := s.fetcher.FetchText(ctx, url)
	if err != nil {
		s.logger.Printf("client page fetch failed for %s: %v", url, err)
		return ""
	}
	const maxExtract = 4000
	if len(text) > maxExtract {
		text = text[:maxExtract]
	}
	return text
}

func userPrompt(taskContext, article string) string {
	return taskContext + "\nARTICLE:\n" + article
}

// relevantParagraphs ranks placement candidates; a ranking failure only
// costs context, never the phase.
func (s *Service) relevantParagraphs(article, keyword string) []string {
	paras, err := TopParagraphs(article, keyword, s.topK)
	if err != nil {
		s.logger.Printf("paragraph ranking failed, agents get no ranked context: %v", err)
		return nil
	}
	return paras
}

// runPhase1 runs the internal-links and client-mention agents in parallel
// and merges both contributions in declaration order, independent of which
// agent finished first. One agent failing is isolated: its contribution is
// empty, its error is recorded, and the phase still completes.
func (s *Service) runPhase1(ctx context.Context, sessionID string, in Input, article string) (string, Phase1Result, error) {
	if err := s.store.StartLinkPhase(ctx, sessionID, 1); err != nil {
		return "", Phase1Result{}, fmt.Errorf("starting phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase1, "running internal links and client mention agents")

	relevant := s.relevantParagraphs(article, in.TargetKeyword)
	taskContext := buildContext(in, relevant, "")

	defs := []agent.Definition{
		internalLinksAgent(s.routing.Model("placement")),
		clientMentionAgent(s.routing.Model("placement")),
	}

	outcomes := make([]agent.Extraction, len(defs))
	errs := make([]error, len(defs))
	var wg sync.WaitGroup
	for i, def := range defs {
		wg.Add(1)
		go func(i int, def agent.Definition) {
			defer wg.Done()
			conv := agent.NewConversation(def, userPrompt(taskContext, article))
			outcomes[i], errs[i] = s.runner.RunTools(ctx, def, conv)
		}(i, def)
	}
	wg.Wait()

	var res Phase1Result
	var mods []Modification

	if errs[0] != nil {
		s.logger.Printf("session %s: %s failed, continuing without it: %v", sessionID, AgentInternalLinks, errs[0])
		agentFailures.WithLabelValues(AgentInternalLinks).Inc()
		res.InternalLinksError = errs[0].Error()
	} else {
		for _, raw := range outcomes[0].ArgumentsFor(ToolInsertInternalLink) {
			var link InternalLink
			if err := json.Unmarshal(raw, &link); err != nil || link.Anchor == "" || link.TargetURL == "" {
				s.logger.Printf("session %s: dropping malformed internal link call", sessionID)
				continue
			}
			res.InternalLinks = append(res.InternalLinks, link)
			mods = append(mods, Modification{
				Agent:  AgentInternalLinks,
				Anchor: link.Anchor,
				Text:   fmt.Sprintf("[%s](%s)", link.Anchor, link.TargetURL),
				Mode:   ModReplace,
			})
		}
	}

	if errs[1] != nil {
		s.logger.Printf("session %s: %s failed, continuing without it: %v", sessionID, AgentClientMention, errs[1])
		agentFailures.WithLabelValues(AgentClientMention).Inc()
		res.ClientMentionsError = errs[1].Error()
	} else {
		for _, raw := range outcomes[1].ArgumentsFor(ToolAddClientMention) {
			var mention ClientMention
			if err := json.Unmarshal(raw, &mention); err != nil || mention.ParagraphAnchor == "" || mention.Sentence == "" {
				s.logger.Printf("session %s: dropping malformed client mention call", sessionID)
				continue
			}
			res.ClientMentions = append(res.ClientMentions, mention)
			mods = append(mods, Modification{
				Agent:  AgentClientMention,
				Anchor: mention.ParagraphAnchor,
				Text:   " " + mention.Sentence,
				Mode:   ModInsertAfter,
			})
		}
	}

	next, applied := Apply(article, mods)
	s.logger.Printf("session %s: phase 1 applied %d/%d modifications", sessionID, applied, len(mods))

	payload, err := json.Marshal(res)
	if err != nil {
		return "", Phase1Result{}, fmt.Errorf("encoding result: %w", err)
	}
	if err := s.store.CompleteLinkPhase(ctx, sessionID, 1, next, payload); err != nil {
		return "", Phase1Result{}, fmt.Errorf("completing phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase1, "phase 1 complete")
	return next, res, nil
}

// runPhase2 runs the scripted client-link refinement: one initial placement
// proposal, then each scripted critique turn in order on the same
// conversation. The last turn's parseable candidate wins. Unlike phase 1
// this phase has no fallback; a turn failing fails the session.
func (s *Service) runPhase2(ctx context.Context, sessionID string, in Input, article string) (string, Phase2Result, error) {
	if err := s.store.StartLinkPhase(ctx, sessionID, 2); err != nil {
		return "", Phase2Result{}, fmt.Errorf("starting phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase2, "refining client link placement")

	clientPage := s.fetchClientPage(ctx, in.ClientURL)
	relevant := s.relevantParagraphs(article, in.TargetKeyword)
	taskContext := buildContext(in, relevant, clientPage)

	def := clientLinkAgent(s.routing.Model("conversation"))
	conv := agent.NewConversation(def, userPrompt(taskContext, article))

	var candidate ClientLink
	if err := s.runner.RunJSON(ctx, def, conv, &candidate); err != nil {
		return "", Phase2Result{}, err
	}
	conv = conv.Append("assistant", mustJSON(candidate))

	turns := 1
	for _, turn := range s.script.Turns {
		conv = conv.Append("user", turn)
		var refined ClientLink
		if err := s.runner.RunJSON(ctx, def, conv, &refined); err != nil {
			return "", Phase2Result{}, fmt.Errorf("refinement turn %d: %w", turns, err)
		}
		conv = conv.Append("assistant", mustJSON(refined))
		candidate = refined
		turns++
	}

	if candidate.PlacementAnchor == "" || candidate.Sentence == "" {
		return "", Phase2Result{}, fmt.Errorf("refinement produced no usable placement")
	}

	next, applied := Apply(article, []Modification{{
		Agent:  AgentClientLink,
		Anchor: candidate.PlacementAnchor,
		Text:   " " + candidate.Sentence,
		Mode:   ModInsertAfter,
	}})
	if applied == 0 {
		return "", Phase2Result{}, fmt.Errorf("placement anchor not found in article")
	}

	res := Phase2Result{ClientLink: &candidate, Turns: turns}
	payload, err := json.Marshal(res)
	if err != nil {
		return "", Phase2Result{}, fmt.Errorf("encoding result: %w", err)
	}
	if err := s.store.CompleteLinkPhase(ctx, sessionID, 2, next, payload); err != nil {
		return "", Phase2Result{}, fmt.Errorf("completing phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase2, "phase 2 complete")
	return next, res, nil
}

// runPhase3 runs the three finishing agents in parallel. Like phase 1, a
// single agent failing leaves its artifact empty without stopping the
// phase; the article is only touched by image placeholders.
func (s *Service) runPhase3(ctx context.Context, sessionID string, in Input, article string) (string, Phase3Result, error) {
	if err := s.store.StartLinkPhase(ctx, sessionID, 3); err != nil {
		return "", Phase3Result{}, fmt.Errorf("starting phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase3, "running images, link requests and url suggestion agents")

	relevant := s.relevantParagraphs(article, in.TargetKeyword)
	taskContext := buildContext(in, relevant, "")

	imagesDef := imagesAgent(s.routing.Model("placement"))
	requestsDef := linkRequestsAgent(s.routing.Model("conversation"))
	urlDef := urlSuggestionAgent(s.routing.Model("decision"))

	var (
		wg          sync.WaitGroup
		imagesOut   agent.Extraction
		imagesErr   error
		requestsOut string
		requestsErr error
		urlOut      URLSuggestion
		urlErr      error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		conv := agent.NewConversation(imagesDef, userPrompt(taskContext, article))
		imagesOut, imagesErr = s.runner.RunTools(ctx, imagesDef, conv)
	}()
	go func() {
		defer wg.Done()
		conv := agent.NewConversation(requestsDef, userPrompt(taskContext, article))
		requestsOut, requestsErr = s.runner.RunText(ctx, requestsDef, conv)
	}()
	go func() {
		defer wg.Done()
		conv := agent.NewConversation(urlDef, userPrompt(taskContext, article))
		urlErr = s.runner.RunJSON(ctx, urlDef, conv, &urlOut)
	}()
	wg.Wait()

	var res Phase3Result
	var mods []Modification

	if imagesErr != nil {
		s.logger.Printf("session %s: %s failed, continuing without it: %v", sessionID, AgentImages, imagesErr)
		agentFailures.WithLabelValues(AgentImages).Inc()
		res.ImagesError = imagesErr.Error()
	} else {
		strategy := ImageStrategy{}
		if raws := imagesOut.ArgumentsFor(ToolSetImageStrategy); len(raws) > 0 {
			// The agent is told to call this once; last call wins if it repeats.
			_ = json.Unmarshal(raws[len(raws)-1], &strategy)
		}
		for _, raw := range imagesOut.ArgumentsFor(ToolInsertImagePlaceholder) {
			var p ImagePlacement
			if err := json.Unmarshal(raw, &p); err != nil || p.Anchor == "" || p.Description == "" {
				s.logger.Printf("session %s: dropping malformed image placeholder call", sessionID)
				continue
			}
			strategy.Placements = append(strategy.Placements, p)
			mods = append(mods, Modification{
				Agent:  AgentImages,
				Anchor: p.Anchor,
				Text:   fmt.Sprintf("\n\n![%s](placeholder)", p.Description),
				Mode:   ModInsertAfter,
			})
		}
		if strategy.HeroImage != "" || len(strategy.Placements) > 0 {
			res.ImageStrategy = &strategy
		}
	}

	if requestsErr != nil {
		s.logger.Printf("session %s: %s failed, continuing without it: %v", sessionID, AgentLinkRequests, requestsErr)
		agentFailures.WithLabelValues(AgentLinkRequests).Inc()
		res.LinkRequestsError = requestsErr.Error()
	} else {
		res.LinkRequests = requestsOut
	}

	if urlErr != nil {
		s.logger.Printf("session %s: %s failed, continuing without it: %v", sessionID, AgentURLSuggestion, urlErr)
		agentFailures.WithLabelValues(AgentURLSuggestion).Inc()
		res.URLSuggestionError = urlErr.Error()
	} else if urlOut.URL != "" {
		res.URLSuggestion = &urlOut
	}

	next, applied := Apply(article, mods)
	s.logger.Printf("session %s: phase 3 applied %d/%d modifications", sessionID, applied, len(mods))

	payload, err := json.Marshal(res)
	if err != nil {
		return "", Phase3Result{}, fmt.Errorf("encoding result: %w", err)
	}
	if err := s.store.CompleteLinkPhase(ctx, sessionID, 3, next, payload); err != nil {
		return "", Phase3Result{}, fmt.Errorf("completing phase: %w", err)
	}
	s.publish(ctx, sessionID, StatusPhase3, "phase 3 complete")
	return next, res, nil
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
