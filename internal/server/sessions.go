package server

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/orchestration"
	"github.com/linkforge/linkforge/internal/progress"
)

// LinkService is the slice of the orchestration service the handlers use.
type LinkService interface {
	Orchestrate(ctx context.Context, in orchestration.Input) orchestration.Result
	ResumeSession(ctx context.Context, sessionID string) orchestration.Result
	SessionProgress(ctx context.Context, sessionID string) (orchestration.Progress, error)
}

// SessionReader is the read-only store access the handlers need.
type SessionReader interface {
	GetLinkSession(ctx context.Context, id string) (orchestration.LinkSession, bool, error)
}

type LinkSessionsHandler struct {
	Svc      LinkService
	Sessions SessionReader
	Broker   progress.Broker
	Cfg      config.ServerConfig
	Logger   *log.Logger
}

type startLinkSessionRequest struct {
	WorkflowID    string `json:"workflow_id"`
	Article       string `json:"article"`
	ClientName    string `json:"client_name"`
	ClientURL     string `json:"client_url"`
	AnchorText    string `json:"anchor_text"`
	GuestPostSite string `json:"guest_post_site"`
	TargetKeyword string `json:"target_keyword"`
}

func (h *LinkSessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("", h.start)
	g.POST("/:id/resume", h.resume)
	g.GET("/:id", h.get)
	g.GET("/:id/progress", h.streamProgress)
	g.GET("/:id/preview", h.preview)
}

// start kicks off a pipeline run in the background and answers immediately
// with the session id; callers follow along via the progress stream or by
// polling the session resource.
func (h *LinkSessionsHandler) start(c echo.Context) error {
	var req startLinkSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Article) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "article required")
	}
	if strings.TrimSpace(req.ClientURL) == "" || strings.TrimSpace(req.GuestPostSite) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_url and guest_post_site required")
	}

	in := orchestration.Input{
		SessionID:     uuid.NewString(),
		WorkflowID:    req.WorkflowID,
		Article:       req.Article,
		ClientName:    req.ClientName,
		ClientURL:     req.ClientURL,
		AnchorText:    req.AnchorText,
		GuestPostSite: req.GuestPostSite,
		TargetKeyword: req.TargetKeyword,
	}
	go func() {
		res := h.Svc.Orchestrate(context.Background(), in)
		if !res.Success {
			h.Logger.Printf("session %s failed: %s", res.SessionID, res.Error)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": in.SessionID})
}

func (h *LinkSessionsHandler) resume(c echo.Context) error {
	id := c.Param("id")
	sess, ok, err := h.Sessions.GetLinkSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if sess.Status == orchestration.StatusCompleted {
		return c.JSON(http.StatusOK, h.Svc.ResumeSession(c.Request().Context(), id))
	}
	go func() {
		res := h.Svc.ResumeSession(context.Background(), id)
		if !res.Success {
			h.Logger.Printf("session %s resume failed: %s", id, res.Error)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": id})
}

func (h *LinkSessionsHandler) get(c echo.Context) error {
	id := c.Param("id")
	sess, ok, err := h.Sessions.GetLinkSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	resp := map[string]interface{}{
		"session_id":  sess.ID,
		"workflow_id": sess.WorkflowID,
		"status":      sess.Status,
		"created_at":  sess.CreatedAt,
		"updated_at":  sess.UpdatedAt,
	}
	if sess.ErrorMessage != "" {
		resp["error"] = sess.ErrorMessage
	}
	if sess.Phase1CompletedAt != nil {
		resp["phase1_result"] = sess.Phase1Result
	}
	if sess.Phase2CompletedAt != nil {
		resp["phase2_result"] = sess.Phase2Result
	}
	if sess.Phase3CompletedAt != nil {
		resp["phase3_result"] = sess.Phase3Result
	}
	if sess.Status == orchestration.StatusCompleted {
		resp["final_article"] = sess.FinalArticle
	}
	return c.JSON(http.StatusOK, resp)
}

// streamProgress pushes live pipeline updates over Server-Sent Events. The
// stream closes when the session reaches a terminal state or the client
// disconnects.
func (h *LinkSessionsHandler) streamProgress(c echo.Context) error {
	if !h.Cfg.ProgressStream {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "progress stream disabled")
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	snapshot, err := h.Svc.SessionProgress(ctx, id)
	if err != nil {
		if err == orchestration.ErrSessionNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	events, cancel, err := h.Broker.Subscribe(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	writeEvent := func(phase, message string) {
		fmt.Fprintf(resp, "event: progress\ndata: {\"phase\":%q,\"message\":%q}\n\n", phase, message)
		flusher.Flush()
	}
	writeEvent(snapshot.Status, "connected")
	if terminalStatus(snapshot.Status) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-events:
			if !open {
				return nil
			}
			writeEvent(ev.Phase, ev.Message)
			if terminalStatus(ev.Phase) {
				return nil
			}
		}
	}
}

// preview renders the session's best available article version as HTML.
func (h *LinkSessionsHandler) preview(c echo.Context) error {
	if !h.Cfg.ArticlePreview {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "article preview disabled")
	}
	id := c.Param("id")
	sess, ok, err := h.Sessions.GetLinkSession(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	article := sess.OriginalArticle
	switch {
	case sess.FinalArticle != "":
		article = sess.FinalArticle
	case sess.ArticleAfterPhase2 != "":
		article = sess.ArticleAfterPhase2
	case sess.ArticleAfterPhase1 != "":
		article = sess.ArticleAfterPhase1
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(article), &buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTML(http.StatusOK, buf.String())
}

func terminalStatus(status string) bool {
	return status == orchestration.StatusCompleted || status == orchestration.StatusFailed
}
