// Package events provides progress event types and per-user delivery.
package events

import "time"

// Phase identifies what a progress event reports
type Phase string

const (
	PhaseRunStarted     Phase = "run_started"
	PhaseProfileStarted Phase = "profile_started"

	// Ticker phases, in causal order
	PhaseStart      Phase = "start"
	PhaseGenerating Phase = "generating"
	PhasePublishing Phase = "publishing"
	PhaseRetrying   Phase = "retrying"
	PhaseHeartbeat  Phase = "heartbeat"

	// Ticker terminals (mirror domain outcomes)
	PhasePublished        Phase = "published"
	PhaseSkippedDuplicate Phase = "skipped_duplicate"
	PhaseSkippedQuota     Phase = "skipped_quota"
	PhaseSkippedInvalid   Phase = "skipped_invalid"
	PhaseFailed           Phase = "failed"

	// Profile terminals
	PhaseCompleted     Phase = "completed"
	PhasePaused        Phase = "paused"
	PhaseCancelled     Phase = "cancelled"
	PhaseProfileFailed Phase = "profile_failed"

	PhaseRunCompleted Phase = "run_completed"
)

// IsTerminal reports whether the phase ends a ticker, a profile run or a whole run
func (p Phase) IsTerminal() bool {
	switch p {
	case PhasePublished, PhaseSkippedDuplicate, PhaseSkippedQuota, PhaseSkippedInvalid, PhaseFailed,
		PhaseCompleted, PhasePaused, PhaseCancelled, PhaseProfileFailed, PhaseRunCompleted:
		return true
	}
	return false
}

// IsCritical reports whether the phase must bypass throttling
func (p Phase) IsCritical() bool {
	switch p {
	case PhaseRunStarted, PhaseProfileStarted, PhaseStart, PhaseHeartbeat:
		return true
	}
	return p.IsTerminal()
}

// Stage is the scope an event describes
type Stage string

const (
	StageRun     Stage = "run"
	StageProfile Stage = "profile"
	StageTicker  Stage = "ticker"
)

// ProgressEvent is a transient progress notification for one user
type ProgressEvent struct {
	Timestamp time.Time      `json:"timestamp" msgpack:"timestamp"`
	Percent   *float64       `json:"percent,omitempty" msgpack:"percent,omitempty"`
	Counts    map[string]int `json:"counts,omitempty" msgpack:"counts,omitempty"`
	UserID    string         `json:"user_id" msgpack:"user_id"`
	RunID     string         `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	ProfileID string         `json:"profile_id,omitempty" msgpack:"profile_id,omitempty"`
	Ticker    string         `json:"ticker,omitempty" msgpack:"ticker,omitempty"`
	Phase     Phase          `json:"phase" msgpack:"phase"`
	Stage     Stage          `json:"stage" msgpack:"stage"`
	Message   string         `json:"message" msgpack:"message"`
}

// Percent is a helper for optional completion percentages
func Percent(done, total int) *float64 {
	if total <= 0 {
		return nil
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return &p
}

// Emitter is what workers publish progress through
type Emitter interface {
	Publish(userID string, event ProgressEvent)
}
