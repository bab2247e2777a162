package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/linkforge/linkforge/internal/outline"
)

// OutlineService is the slice of the outline service the handlers use.
type OutlineService interface {
	Start(ctx context.Context, in outline.Input) (outline.StartResult, error)
	ContinueWithAnswers(ctx context.Context, sessionID string, answers []string) (outline.ContinueResult, error)
	Get(ctx context.Context, sessionID string) (outline.Session, error)
}

type OutlinesHandler struct {
	Svc OutlineService
}

type startOutlineRequest struct {
	WorkflowID    string `json:"workflow_id"`
	Prompt        string `json:"prompt"`
	ClientName    string `json:"client_name"`
	TargetKeyword string `json:"target_keyword"`
}

type outlineAnswersRequest struct {
	Answers []string `json:"answers"`
}

func (h *OutlinesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("", h.start)
	g.POST("/:id/answers", h.continueWithAnswers)
	g.GET("/:id", h.get)
}

// start runs the pipeline synchronously: it either completes in one call or
// pauses and returns clarification questions.
func (h *OutlinesHandler) start(c echo.Context) error {
	var req startOutlineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt required")
	}
	res, err := h.Svc.Start(c.Request().Context(), outline.Input{
		WorkflowID:    req.WorkflowID,
		Prompt:        req.Prompt,
		ClientName:    req.ClientName,
		TargetKeyword: req.TargetKeyword,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *OutlinesHandler) continueWithAnswers(c echo.Context) error {
	var req outlineAnswersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers required")
	}
	res, err := h.Svc.ContinueWithAnswers(c.Request().Context(), c.Param("id"), req.Answers)
	if err != nil {
		if errors.Is(err, outline.ErrSessionNotResumable) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *OutlinesHandler) get(c echo.Context) error {
	sess, err := h.Svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, outline.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := map[string]interface{}{
		"session_id":  sess.ID,
		"workflow_id": sess.WorkflowID,
		"version":     sess.Version,
		"status":      sess.Status,
		"created_at":  sess.CreatedAt,
		"updated_at":  sess.UpdatedAt,
	}
	if len(sess.Questions) > 0 {
		resp["questions"] = sess.Questions
	}
	if sess.Status == outline.StatusCompleted {
		resp["outline"] = sess.Outline
		resp["citations"] = sess.Citations
	}
	if sess.ErrorMessage != "" {
		resp["error"] = sess.ErrorMessage
	}
	return c.JSON(http.StatusOK, resp)
}
