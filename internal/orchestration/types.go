package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by read-only lookups for unknown sessions.
var ErrSessionNotFound = errors.New("link session not found")

// Session statuses for the link orchestration pipeline. Progress is
// monotonic: a status is only ever advanced, never rolled back.
const (
	StatusInitializing = "initializing"
	StatusPhase1       = "phase1"
	StatusPhase2       = "phase2"
	StatusPhase3       = "phase3"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Input carries everything the pipeline needs for one run. No transport
// concerns belong here; callers map their own request shapes onto it.
type Input struct {
	SessionID     string `json:"session_id,omitempty"`
	WorkflowID    string `json:"workflow_id"`
	Article       string `json:"article"`
	ClientName    string `json:"client_name"`
	ClientURL     string `json:"client_url"`
	AnchorText    string `json:"anchor_text,omitempty"`
	GuestPostSite string `json:"guest_post_site"`
	TargetKeyword string `json:"target_keyword,omitempty"`
}

// ModMode discriminates how a modification lands in the document.
type ModMode string

const (
	// ModReplace replaces the first occurrence of the anchor with Text.
	ModReplace ModMode = "replace"
	// ModInsertAfter inserts Text immediately after the first occurrence
	// of the anchor.
	ModInsertAfter ModMode = "insert_after"
)

// Modification is one unit of change against a base document, tagged with
// the agent that produced it.
type Modification struct {
	Agent  string  `json:"agent"`
	Anchor string  `json:"anchor"`
	Text   string  `json:"text"`
	Mode   ModMode `json:"mode"`
}

// InternalLink is an internal-links agent edit: wrap anchor text in a link
// to another page on the guest-post site.
type InternalLink struct {
	Anchor    string `json:"anchor"`
	TargetURL string `json:"target_url"`
	Reason    string `json:"reason,omitempty"`
}

// ClientMention is an unlinked brand mention inserted after a paragraph.
type ClientMention struct {
	ParagraphAnchor string `json:"paragraph_anchor"`
	Sentence        string `json:"sentence"`
}

// ClientLink is the single client link placement refined during phase 2.
// Only the last turn's candidate survives; earlier candidates are
// superseded, not merged.
type ClientLink struct {
	PlacementAnchor string `json:"placement_anchor"`
	Sentence        string `json:"sentence"`
	Rationale       string `json:"rationale,omitempty"`
}

// ImagePlacement marks where an illustrative image belongs.
type ImagePlacement struct {
	Anchor      string `json:"anchor"`
	Description string `json:"description"`
}

// ImageStrategy is the phase-3 image plan for the article.
type ImageStrategy struct {
	HeroImage  string           `json:"hero_image"`
	Style      string           `json:"style,omitempty"`
	Placements []ImagePlacement `json:"placements,omitempty"`
}

// URLSuggestion is the suggested permalink for the published guest post.
type URLSuggestion struct {
	URL       string `json:"url"`
	Rationale string `json:"rationale,omitempty"`
}

// Phase1Result captures both parallel phase-1 contributions. A failed agent
// leaves an empty contribution and records its error; the phase itself
// still completes.
type Phase1Result struct {
	InternalLinks       []InternalLink  `json:"internal_links"`
	ClientMentions      []ClientMention `json:"client_mentions"`
	InternalLinksError  string          `json:"internal_links_error,omitempty"`
	ClientMentionsError string          `json:"client_mentions_error,omitempty"`
}

// Phase2Result captures the refined client link placement.
type Phase2Result struct {
	ClientLink *ClientLink `json:"client_link"`
	Turns      int         `json:"turns"`
}

// Phase3Result captures the parallel phase-3 artifacts.
type Phase3Result struct {
	ImageStrategy      *ImageStrategy `json:"image_strategy,omitempty"`
	LinkRequests       string         `json:"link_requests,omitempty"`
	URLSuggestion      *URLSuggestion `json:"url_suggestion,omitempty"`
	ImagesError        string         `json:"images_error,omitempty"`
	LinkRequestsError  string         `json:"link_requests_error,omitempty"`
	URLSuggestionError string         `json:"url_suggestion_error,omitempty"`
}

// Result is what every Orchestrate/ResumeSession call returns. Expected
// failures surface as Success=false with the original article returned
// unmodified; callers always get a document back.
type Result struct {
	Success        bool            `json:"success"`
	SessionID      string          `json:"session_id"`
	FinalArticle   string          `json:"final_article"`
	InternalLinks  []InternalLink  `json:"internal_links"`
	ClientMentions []ClientMention `json:"client_mentions"`
	ClientLink     *ClientLink     `json:"client_link,omitempty"`
	ImageStrategy  *ImageStrategy  `json:"image_strategy,omitempty"`
	LinkRequests   string          `json:"link_requests,omitempty"`
	URLSuggestion  *URLSuggestion  `json:"url_suggestion,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Progress is the read-only status projection for polling callers.
type Progress struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	Phase1Complete bool      `json:"phase1_complete"`
	Phase2Complete bool      `json:"phase2_complete"`
	Phase3Complete bool      `json:"phase3_complete"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LinkSession is the durable record of one pipeline run.
type LinkSession struct {
	ID                 string
	WorkflowID         string
	Status             string
	Input              Input
	OriginalArticle    string
	ArticleAfterPhase1 string
	ArticleAfterPhase2 string
	FinalArticle       string
	Phase1Result       json.RawMessage
	Phase2Result       json.RawMessage
	Phase3Result       json.RawMessage
	Phase1StartedAt    *time.Time
	Phase1CompletedAt  *time.Time
	Phase2StartedAt    *time.Time
	Phase2CompletedAt  *time.Time
	Phase3StartedAt    *time.Time
	Phase3CompletedAt  *time.Time
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SessionStore is the narrow persistence contract the pipeline depends on.
// Field writes are forward-only; completed phase data is never rewritten.
type SessionStore interface {
	CreateLinkSession(ctx context.Context, rec LinkSession) error
	GetLinkSession(ctx context.Context, id string) (LinkSession, bool, error)
	StartLinkPhase(ctx context.Context, id string, phase int) error
	CompleteLinkPhase(ctx context.Context, id string, phase int, article string, result json.RawMessage) error
	CompleteLinkSession(ctx context.Context, id string) error
	FailLinkSession(ctx context.Context, id string, message string) error
}
