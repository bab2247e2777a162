package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/linkforge/linkforge/internal/orchestration"
	"github.com/linkforge/linkforge/internal/outline"
)

// Store is the Postgres-backed persistence layer. It implements the
// session store contracts of both pipelines plus user auth lookups.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// --- link orchestration sessions ---

// CreateLinkSession inserts a new link session row.
func (s *Store) CreateLinkSession(ctx context.Context, rec orchestration.LinkSession) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id required")
	}
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("encoding input: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO link_sessions (id, workflow_id, status, input, original_article)
VALUES ($1,$2,$3,$4,$5)
`, rec.ID, rec.WorkflowID, rec.Status, input, rec.OriginalArticle)
	return err
}

// GetLinkSession fetches a link session by id. The boolean reports whether
// the row exists.
func (s *Store) GetLinkSession(ctx context.Context, id string) (orchestration.LinkSession, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, workflow_id, status, input, original_article,
       article_after_phase1, article_after_phase2, final_article,
       phase1_result, phase2_result, phase3_result,
       phase1_started_at, phase1_completed_at,
       phase2_started_at, phase2_completed_at,
       phase3_started_at, phase3_completed_at,
       error_message, created_at, updated_at
FROM link_sessions WHERE id = $1
`, id)

	var rec orchestration.LinkSession
	var input []byte
	var afterP1, afterP2, final, errMsg sql.NullString
	var p1res, p2res, p3res []byte
	err := row.Scan(
		&rec.ID, &rec.WorkflowID, &rec.Status, &input, &rec.OriginalArticle,
		&afterP1, &afterP2, &final,
		&p1res, &p2res, &p3res,
		&rec.Phase1StartedAt, &rec.Phase1CompletedAt,
		&rec.Phase2StartedAt, &rec.Phase2CompletedAt,
		&rec.Phase3StartedAt, &rec.Phase3CompletedAt,
		&errMsg, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orchestration.LinkSession{}, false, nil
		}
		return orchestration.LinkSession{}, false, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &rec.Input); err != nil {
			return orchestration.LinkSession{}, false, fmt.Errorf("decoding input: %w", err)
		}
	}
	rec.ArticleAfterPhase1 = afterP1.String
	rec.ArticleAfterPhase2 = afterP2.String
	rec.FinalArticle = final.String
	rec.ErrorMessage = errMsg.String
	rec.Phase1Result = json.RawMessage(p1res)
	rec.Phase2Result = json.RawMessage(p2res)
	rec.Phase3Result = json.RawMessage(p3res)
	return rec, true, nil
}

// StartLinkPhase marks a phase as started and advances the session status.
func (s *Store) StartLinkPhase(ctx context.Context, id string, phase int) error {
	col, status, err := phaseColumns(phase)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
UPDATE link_sessions
SET status = $2, %s_started_at = now(), updated_at = now()
WHERE id = $1
`, col), id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CompleteLinkPhase persists a phase's article snapshot and result. Phase 3
// writes final_article; earlier phases write their intermediate snapshots.
func (s *Store) CompleteLinkPhase(ctx context.Context, id string, phase int, article string, result json.RawMessage) error {
	col, _, err := phaseColumns(phase)
	if err != nil {
		return err
	}
	articleCol := fmt.Sprintf("article_after_%s", col)
	if phase == 3 {
		articleCol = "final_article"
	}
	res, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
UPDATE link_sessions
SET %s = $2, %s_result = $3, %s_completed_at = now(), updated_at = now()
WHERE id = $1
`, articleCol, col, col), id, article, []byte(result))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CompleteLinkSession marks the session completed.
func (s *Store) CompleteLinkSession(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE link_sessions SET status = $2, updated_at = now() WHERE id = $1
`, id, orchestration.StatusCompleted)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailLinkSession marks the session failed with its error message.
func (s *Store) FailLinkSession(ctx context.Context, id string, message string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE link_sessions SET status = $2, error_message = $3, updated_at = now() WHERE id = $1
`, id, orchestration.StatusFailed, message)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteStaleSessions removes terminal sessions older than maxAge and
// returns how many rows went away. The retention sweeper calls this.
func (s *Store) DeleteStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM link_sessions
WHERE status IN ($1,$2) AND updated_at < $3
`, orchestration.StatusCompleted, orchestration.StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()

	res, err = s.DB.ExecContext(ctx, `
DELETE FROM outline_sessions
WHERE status IN ($1,$2) AND updated_at < $3
`, outline.StatusCompleted, outline.StatusError, cutoff)
	if err != nil {
		return n, err
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}

// FailStuckSessions marks link sessions stranded mid-phase for longer than
// maxAge as failed. Outline sessions are exempt: a clarifying pause waits on
// a human and has no deadline.
func (s *Store) FailStuckSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.DB.ExecContext(ctx, `
UPDATE link_sessions
SET status = $1, error_message = 'session abandoned before completion', updated_at = now()
WHERE status NOT IN ($1,$2) AND updated_at < $3
`, orchestration.StatusFailed, orchestration.StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func phaseColumns(phase int) (string, string, error) {
	switch phase {
	case 1:
		return "phase1", orchestration.StatusPhase1, nil
	case 2:
		return "phase2", orchestration.StatusPhase2, nil
	case 3:
		return "phase3", orchestration.StatusPhase3, nil
	default:
		return "", "", fmt.Errorf("unknown phase %d", phase)
	}
}

// --- outline sessions ---

// CreateOutlineSession inserts a new outline session row.
func (s *Store) CreateOutlineSession(ctx context.Context, rec outline.Session) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO outline_sessions (id, workflow_id, version, status, prompt)
VALUES ($1,$2,$3,$4,$5)
`, rec.ID, rec.WorkflowID, rec.Version, rec.Status, rec.Prompt)
	return err
}

// GetOutlineSession fetches an outline session by id.
func (s *Store) GetOutlineSession(ctx context.Context, id string) (outline.Session, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, workflow_id, version, status, prompt,
       questions, answers, agent_state, outline, citations,
       error_message, created_at, updated_at
FROM outline_sessions WHERE id = $1
`, id)

	var rec outline.Session
	var agentState []byte
	var outlineText, errMsg sql.NullString
	err := row.Scan(
		&rec.ID, &rec.WorkflowID, &rec.Version, &rec.Status, &rec.Prompt,
		pq.Array(&rec.Questions), pq.Array(&rec.Answers), &agentState, &outlineText, pq.Array(&rec.Citations),
		&errMsg, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return outline.Session{}, false, nil
		}
		return outline.Session{}, false, err
	}
	rec.AgentState = json.RawMessage(agentState)
	rec.Outline = outlineText.String
	rec.ErrorMessage = errMsg.String
	return rec, true, nil
}

// LatestOutlineVersion returns the highest version recorded for a workflow,
// zero when none exists.
func (s *Store) LatestOutlineVersion(ctx context.Context, workflowID string) (int, error) {
	var version int
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(MAX(version), 0) FROM outline_sessions WHERE workflow_id = $1
`, workflowID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SetOutlineStatus advances the session status.
func (s *Store) SetOutlineStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE outline_sessions SET status = $2, updated_at = now() WHERE id = $1
`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PauseOutlineSession parks a session awaiting clarification answers.
func (s *Store) PauseOutlineSession(ctx context.Context, id string, questions []string, agentState json.RawMessage) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE outline_sessions
SET status = $2, questions = $3, agent_state = $4, updated_at = now()
WHERE id = $1
`, id, outline.StatusClarifying, pq.Array(questions), []byte(agentState))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CompleteOutlineSession stores the final outline and citations. The
// continuation state is cleared; the session is no longer resumable.
func (s *Store) CompleteOutlineSession(ctx context.Context, id, outlineText string, citations []string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE outline_sessions
SET status = $2, outline = $3, citations = $4, agent_state = NULL, updated_at = now()
WHERE id = $1
`, id, outline.StatusCompleted, outlineText, pq.Array(citations))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailOutlineSession marks the session errored with its message.
func (s *Store) FailOutlineSession(ctx context.Context, id, message string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE outline_sessions SET status = $2, error_message = $3, updated_at = now() WHERE id = $1
`, id, outline.StatusError, message)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- users ---

// User is an account row for API auth.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a user and returns the generated id.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id
`, email, passwordHash).Scan(&id)
	return id, err
}

// GetUserByEmail fetches a user for credential checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash, created_at FROM users WHERE email = $1
`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
