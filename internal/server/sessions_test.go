package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linkforge/linkforge/config"
	"github.com/linkforge/linkforge/internal/orchestration"
	"github.com/linkforge/linkforge/internal/progress"
	"github.com/linkforge/linkforge/internal/runtime"
)

var testSecret = []byte("test-secret-for-handlers")

type stubLinkService struct {
	mu           sync.Mutex
	orchestrated []orchestration.Input
	resumed      []string
	result       orchestration.Result
	progressOut  orchestration.Progress
	progressErr  error
}

func (s *stubLinkService) Orchestrate(_ context.Context, in orchestration.Input) orchestration.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orchestrated = append(s.orchestrated, in)
	res := s.result
	res.SessionID = in.SessionID
	return res
}

func (s *stubLinkService) ResumeSession(_ context.Context, id string) orchestration.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = append(s.resumed, id)
	res := s.result
	res.SessionID = id
	return res
}

func (s *stubLinkService) SessionProgress(_ context.Context, id string) (orchestration.Progress, error) {
	if s.progressErr != nil {
		return orchestration.Progress{}, s.progressErr
	}
	out := s.progressOut
	out.SessionID = id
	return out, nil
}

type stubSessionReader struct {
	sessions map[string]orchestration.LinkSession
}

func (r *stubSessionReader) GetLinkSession(_ context.Context, id string) (orchestration.LinkSession, bool, error) {
	sess, ok := r.sessions[id]
	return sess, ok, nil
}

func newLinkHandler(t *testing.T, svc *stubLinkService, reader *stubSessionReader, cfg config.ServerConfig) http.Handler {
	t.Helper()
	logger := log.New(handlerLogWriter{t}, "[HTTP] ", 0)
	e := newEcho(logger)
	h := &LinkSessionsHandler{
		Svc:      svc,
		Sessions: reader,
		Broker:   progress.NewMemory(),
		Cfg:      cfg,
		Logger:   logger,
	}
	h.Register(e.Group("/api/link-sessions"), testSecret)
	return e
}

type handlerLogWriter struct{ t *testing.T }

func (w handlerLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	tok, err := runtime.SignJWT("user-1", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestStartSessionAccepted(t *testing.T) {
	svc := &stubLinkService{result: orchestration.Result{Success: true}}
	h := newLinkHandler(t, svc, &stubSessionReader{}, config.ServerConfig{})

	body := `{"article":"Some article body.","client_url":"https://client.example","guest_post_site":"https://blog.example"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/link-sessions", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["session_id"] == "" {
		t.Fatal("session_id missing from response")
	}

	// the pipeline runs in the background; wait for the stub to see it
	deadline := time.After(2 * time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.orchestrated)
		svc.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("orchestrate never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartSessionValidation(t *testing.T) {
	h := newLinkHandler(t, &stubLinkService{}, &stubSessionReader{}, config.ServerConfig{})

	cases := []struct {
		name string
		body string
	}{
		{"missing article", `{"client_url":"https://c.example","guest_post_site":"https://b.example"}`},
		{"missing client url", `{"article":"body","guest_post_site":"https://b.example"}`},
		{"missing guest post site", `{"article":"body","client_url":"https://c.example"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/link-sessions", tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStartSessionRequiresAuth(t *testing.T) {
	h := newLinkHandler(t, &stubLinkService{}, &stubSessionReader{}, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/link-sessions", strings.NewReader(`{"article":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/link-sessions", strings.NewReader(`{"article":"x"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestGetSessionProjection(t *testing.T) {
	now := time.Now()
	reader := &stubSessionReader{sessions: map[string]orchestration.LinkSession{
		"ls-1": {
			ID:                "ls-1",
			WorkflowID:        "wf-1",
			Status:            orchestration.StatusPhase2,
			Phase1Result:      json.RawMessage(`{"internal_links":[]}`),
			Phase1CompletedAt: &now,
			Phase2Result:      json.RawMessage(`{"turns":1}`),
			FinalArticle:      "should not leak yet",
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}}
	h := newLinkHandler(t, &stubLinkService{}, reader, config.ServerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != orchestration.StatusPhase2 {
		t.Fatalf("status = %v", resp["status"])
	}
	if _, ok := resp["phase1_result"]; !ok {
		t.Fatal("completed phase 1 result should be exposed")
	}
	if _, ok := resp["phase2_result"]; ok {
		t.Fatal("incomplete phase 2 result must not be exposed")
	}
	if _, ok := resp["final_article"]; ok {
		t.Fatal("final article must not be exposed before completion")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h := newLinkHandler(t, &stubLinkService{}, &stubSessionReader{}, config.ServerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/missing", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResumeCompletedSessionIsSynchronous(t *testing.T) {
	reader := &stubSessionReader{sessions: map[string]orchestration.LinkSession{
		"ls-done": {ID: "ls-done", Status: orchestration.StatusCompleted},
	}}
	svc := &stubLinkService{result: orchestration.Result{Success: true, FinalArticle: "final"}}
	h := newLinkHandler(t, svc, reader, config.ServerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/link-sessions/ls-done/resume", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for completed session", rec.Code)
	}
	var res orchestration.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.FinalArticle != "final" {
		t.Fatalf("result = %+v", res)
	}
}

func TestResumeInProgressSessionIsAccepted(t *testing.T) {
	reader := &stubSessionReader{sessions: map[string]orchestration.LinkSession{
		"ls-mid": {ID: "ls-mid", Status: orchestration.StatusPhase2},
	}}
	svc := &stubLinkService{result: orchestration.Result{Success: true}}
	h := newLinkHandler(t, svc, reader, config.ServerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/link-sessions/ls-mid/resume", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestProgressStreamDisabled(t *testing.T) {
	h := newLinkHandler(t, &stubLinkService{}, &stubSessionReader{}, config.ServerConfig{ProgressStream: false})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1/progress", ""))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestProgressStreamUnknownSession(t *testing.T) {
	svc := &stubLinkService{progressErr: orchestration.ErrSessionNotFound}
	h := newLinkHandler(t, svc, &stubSessionReader{}, config.ServerConfig{ProgressStream: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/missing/progress", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProgressStreamTerminalSessionClosesAfterSnapshot(t *testing.T) {
	svc := &stubLinkService{progressOut: orchestration.Progress{Status: orchestration.StatusCompleted}}
	h := newLinkHandler(t, svc, &stubSessionReader{}, config.ServerConfig{ProgressStream: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1/progress", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: progress") || !strings.Contains(body, `"message":"connected"`) {
		t.Fatalf("body = %q", body)
	}
}

func TestPreviewRendersMarkdown(t *testing.T) {
	reader := &stubSessionReader{sessions: map[string]orchestration.LinkSession{
		"ls-1": {
			ID:              "ls-1",
			Status:          orchestration.StatusCompleted,
			OriginalArticle: "plain original",
			FinalArticle:    "# Heading\n\nA [link](https://x.example).",
		},
	}}
	h := newLinkHandler(t, &stubLinkService{}, reader, config.ServerConfig{ArticlePreview: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1/preview", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1") || !strings.Contains(body, `<a href="https://x.example"`) {
		t.Fatalf("rendered html = %q", body)
	}
}

func TestPreviewFallsBackToLatestSnapshot(t *testing.T) {
	reader := &stubSessionReader{sessions: map[string]orchestration.LinkSession{
		"ls-1": {
			ID:                 "ls-1",
			Status:             orchestration.StatusPhase3,
			OriginalArticle:    "original",
			ArticleAfterPhase1: "after phase one",
			ArticleAfterPhase2: "after phase two",
		},
	}}
	h := newLinkHandler(t, &stubLinkService{}, reader, config.ServerConfig{ArticlePreview: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1/preview", ""))
	if !strings.Contains(rec.Body.String(), "after phase two") {
		t.Fatalf("expected phase-2 snapshot, got %q", rec.Body.String())
	}
}

func TestPreviewDisabled(t *testing.T) {
	h := newLinkHandler(t, &stubLinkService{}, &stubSessionReader{}, config.ServerConfig{ArticlePreview: false})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/link-sessions/ls-1/preview", ""))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
