// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar-day key used by quota counters, fingerprints and results
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day of t
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// RunStatus represents the lifecycle state of one profile's run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsActive reports whether the run still owns the profile (a new run must wait)
func (s RunStatus) IsActive() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the run has finished for good
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s RunStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// Outcome is the terminal result of processing one ticker
type Outcome string

const (
	OutcomePublished        Outcome = "published"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedQuota     Outcome = "skipped_quota"
	OutcomeSkippedInvalid   Outcome = "skipped_invalid"
	OutcomeFailed           Outcome = "failed"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePublished, OutcomeSkippedDuplicate, OutcomeSkippedQuota, OutcomeSkippedInvalid, OutcomeFailed:
		return true
	}
	return false
}

// Author is a WordPress user that posts are attributed to
type Author struct {
	ID   int64  `json:"id" toml:"id" validate:"gt=0"`
	Name string `json:"name" toml:"name" validate:"required,max=100"`
}

// Post statuses accepted by the publisher
const (
	PostStatusPublish = "publish"
	PostStatusDraft   = "draft"
)

// Profile is a configured publishing destination
type Profile struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	SiteURL     string    `json:"site_url"`
	Username    string    `json:"username"`
	AppPassword string    `json:"-"`
	PostStatus  string    `json:"post_status"`
	Authors     []Author  `json:"authors"`
	DailyCap    int       `json:"daily_cap"`
	CategoryID  int64     `json:"category_id,omitempty"`
}

// Credentials returns what the publisher needs to reach the site
func (p *Profile) Credentials() SiteCredentials {
	status := p.PostStatus
	if status == "" {
		status = PostStatusPublish
	}
	return SiteCredentials{
		SiteURL:     strings.TrimRight(p.SiteURL, "/"),
		Username:    p.Username,
		AppPassword: p.AppPassword,
		PostStatus:  status,
		CategoryID:  p.CategoryID,
	}
}

// CheckPublishable returns a ConfigurationError when the profile cannot publish at all
func (p *Profile) CheckPublishable() error {
	switch {
	case len(p.Authors) == 0:
		return &ConfigurationError{ProfileID: p.ID, Reason: "author list is empty"}
	case p.SiteURL == "":
		return &ConfigurationError{ProfileID: p.ID, Reason: "site url is missing"}
	case p.Username == "" || p.AppPassword == "":
		return &ConfigurationError{ProfileID: p.ID, Reason: "site credentials are missing"}
	}
	return nil
}

// SiteCredentials identifies and authenticates against a WordPress site
type SiteCredentials struct {
	SiteURL     string
	Username    string
	AppPassword string
	PostStatus  string
	CategoryID  int64
}

// ProfileRunRequest is one profile's share of a run request
type ProfileRunRequest struct {
	ProfileID          string   `json:"profile_id" validate:"required,max=64"`
	Tickers            []string `json:"tickers" validate:"required,min=1,max=500"`
	RequestedPostCount int      `json:"requested_post_count" validate:"gte=0"`
}

// RunRequest spans several profiles and is immutable once submitted
type RunRequest struct {
	UserID   string              `json:"-" validate:"required"`
	Profiles []ProfileRunRequest `json:"profiles" validate:"required,min=1,max=50,dive"`
}

// ProfileRunState is the persisted state of a profile's latest run
type ProfileRunState struct {
	CreatedAt          time.Time `json:"created_at"`
	LastUpdated        time.Time `json:"last_updated"`
	ProfileID          string    `json:"profile_id"`
	RunID              string    `json:"run_id"`
	UserID             string    `json:"user_id"`
	Status             RunStatus `json:"status"`
	Message            string    `json:"message,omitempty"`
	Tickers            []string  `json:"tickers"`
	RemainingTickers   []string  `json:"remaining_tickers"`
	ProcessedCount     int       `json:"processed_count"`
	PublishedCount     int       `json:"published_count"`
	RequestedPostCount int       `json:"requested_post_count"`
}

// QuotaCounter is the published-post counter of one profile on one day
type QuotaCounter struct {
	UpdatedAt      time.Time `json:"updated_at"`
	ProfileID      string    `json:"profile_id"`
	Day            string    `json:"day"`
	PublishedCount int       `json:"published_count"`
	Cap            int       `json:"cap"`
}

// Remaining returns how many posts may still be published
func (q QuotaCounter) Remaining() int {
	if q.PublishedCount >= q.Cap {
		return 0
	}
	return q.Cap - q.PublishedCount
}

// TickerJobResult is an append-only record of one ticker attempt
type TickerJobResult struct {
	CreatedAt          time.Time `json:"created_at"`
	ID                 string    `json:"id"`
	RunID              string    `json:"run_id"`
	ProfileID          string    `json:"profile_id"`
	UserID             string    `json:"user_id"`
	Ticker             string    `json:"ticker"`
	Outcome            Outcome   `json:"outcome"`
	AuthorName         string    `json:"author_name,omitempty"`
	ContentFingerprint string    `json:"content_fingerprint,omitempty"`
	ErrorDetail        string    `json:"error_detail,omitempty"`
	Day                string    `json:"day"`
	AuthorID           int64     `json:"author_id,omitempty"`
	PostID             int64     `json:"post_id,omitempty"`
	Attempts           int       `json:"attempts"`
}

// UserMessage is the end-user text of a result. ErrorDetail holds raw
// collaborator output for operators and is never part of it.
func (r *TickerJobResult) UserMessage() string {
	switch r.Outcome {
	case OutcomePublished:
		return fmt.Sprintf("%s published by %s", r.Ticker, r.AuthorName)
	case OutcomeSkippedDuplicate:
		return fmt.Sprintf("%s skipped: unchanged since last post today", r.Ticker)
	case OutcomeSkippedQuota:
		return fmt.Sprintf("%s skipped: daily quota reached", r.Ticker)
	case OutcomeSkippedInvalid:
		return fmt.Sprintf("%s skipped: not a valid ticker", r.Ticker)
	}
	if r.Attempts > 0 {
		return fmt.Sprintf("%s failed: the post could not be published", r.Ticker)
	}
	return fmt.Sprintf("%s failed: the report could not be generated", r.Ticker)
}

// Report is the generated content for one ticker
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Ticker      string            `json:"ticker"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
}
