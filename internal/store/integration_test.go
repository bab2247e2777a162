package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/linkforge/linkforge/internal/orchestration"
	"github.com/linkforge/linkforge/internal/outline"
	"github.com/linkforge/linkforge/internal/server"
	"github.com/linkforge/linkforge/internal/store"
)

// TestStoreAgainstPostgres runs both session lifecycles against a real
// Postgres with the actual migrations applied.
func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("linkforge"),
		tcPostgres.WithUsername("linkforge"),
		tcPostgres.WithPassword("linkforge"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://linkforge:linkforge@%s:%s/linkforge?sslmode=disable", host, port.Port())

	if err := server.Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	t.Run("link session lifecycle", func(t *testing.T) {
		in := orchestration.Input{
			SessionID:     "11111111-1111-1111-1111-111111111111",
			WorkflowID:    "wf-int-1",
			Article:       "Original body.",
			ClientURL:     "https://client.example",
			GuestPostSite: "https://blog.example",
		}
		err := st.CreateLinkSession(ctx, orchestration.LinkSession{
			ID:              in.SessionID,
			WorkflowID:      in.WorkflowID,
			Status:          orchestration.StatusInitializing,
			Input:           in,
			OriginalArticle: in.Article,
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := st.StartLinkPhase(ctx, in.SessionID, 1); err != nil {
			t.Fatal(err)
		}
		p1, _ := json.Marshal(orchestration.Phase1Result{})
		if err := st.CompleteLinkPhase(ctx, in.SessionID, 1, "body after p1", p1); err != nil {
			t.Fatal(err)
		}

		sess, ok, err := st.GetLinkSession(ctx, in.SessionID)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if sess.Status != orchestration.StatusPhase1 {
			t.Fatalf("status = %q", sess.Status)
		}
		if sess.ArticleAfterPhase1 != "body after p1" {
			t.Fatalf("snapshot = %q", sess.ArticleAfterPhase1)
		}
		if sess.Phase1CompletedAt == nil || sess.Phase2StartedAt != nil {
			t.Fatalf("timestamps: %+v / %+v", sess.Phase1CompletedAt, sess.Phase2StartedAt)
		}
		if sess.Input.ClientURL != in.ClientURL {
			t.Fatalf("input round trip: %+v", sess.Input)
		}

		if err := st.StartLinkPhase(ctx, in.SessionID, 3); err != nil {
			t.Fatal(err)
		}
		if err := st.CompleteLinkPhase(ctx, in.SessionID, 3, "final body", json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
		if err := st.CompleteLinkSession(ctx, in.SessionID); err != nil {
			t.Fatal(err)
		}
		sess, _, _ = st.GetLinkSession(ctx, in.SessionID)
		if sess.Status != orchestration.StatusCompleted || sess.FinalArticle != "final body" {
			t.Fatalf("final: %q %q", sess.Status, sess.FinalArticle)
		}
	})

	t.Run("outline session lifecycle", func(t *testing.T) {
		id := "22222222-2222-2222-2222-222222222222"
		err := st.CreateOutlineSession(ctx, outline.Session{
			ID:         id,
			WorkflowID: "wf-int-2",
			Version:    1,
			Status:     outline.StatusTriaging,
			Prompt:     "write about outreach",
		})
		if err != nil {
			t.Fatal(err)
		}

		v, err := st.LatestOutlineVersion(ctx, "wf-int-2")
		if err != nil || v != 1 {
			t.Fatalf("version = %d err = %v", v, err)
		}

		state := json.RawMessage(`{"version":1,"phase":"clarifying"}`)
		if err := st.PauseOutlineSession(ctx, id, []string{"What audience?", "Which angle?"}, state); err != nil {
			t.Fatal(err)
		}
		sess, ok, err := st.GetOutlineSession(ctx, id)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if sess.Status != outline.StatusClarifying || len(sess.Questions) != 2 {
			t.Fatalf("paused: %+v", sess)
		}
		if string(sess.AgentState) != string(state) {
			t.Fatalf("agent_state = %s", sess.AgentState)
		}

		if err := st.CompleteOutlineSession(ctx, id, "## Outline", []string{"https://a.example"}); err != nil {
			t.Fatal(err)
		}
		sess, _, _ = st.GetOutlineSession(ctx, id)
		if sess.Status != outline.StatusCompleted || sess.Outline != "## Outline" {
			t.Fatalf("completed: %+v", sess)
		}
		if len(sess.AgentState) != 0 {
			t.Fatal("agent_state should be cleared on completion")
		}
	})

	t.Run("retention prunes terminal rows", func(t *testing.T) {
		n, err := st.DeleteStaleSessions(ctx, -time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("deleted = %d, want 2", n)
		}
	})

	t.Run("users", func(t *testing.T) {
		id, err := st.CreateUser(ctx, "int@b.example", "$2a$10$hash")
		if err != nil || id == "" {
			t.Fatalf("create user: id=%q err=%v", id, err)
		}
		u, ok, err := st.GetUserByEmail(ctx, "int@b.example")
		if err != nil || !ok || u.ID != id {
			t.Fatalf("get user: %+v ok=%v err=%v", u, ok, err)
		}
	})
}
