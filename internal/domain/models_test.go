package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus(t *testing.T) {
	for _, s := range []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusPaused} {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled} {
		assert.False(t, s.IsActive(), s)
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, RunStatus("exploded").Valid())
}

func TestDayOf_UsesUTC(t *testing.T) {
	athens := time.FixedZone("EET", 2*60*60)
	ts := time.Date(2026, 3, 10, 1, 0, 0, 0, athens)
	assert.Equal(t, "2026-03-09", DayOf(ts))
}

func TestProfileCredentials(t *testing.T) {
	p := &Profile{SiteURL: "https://example.com/", Username: "bot", AppPassword: "pw"}
	creds := p.Credentials()
	assert.Equal(t, "https://example.com", creds.SiteURL)
	assert.Equal(t, PostStatusPublish, creds.PostStatus)

	p.PostStatus = PostStatusDraft
	assert.Equal(t, PostStatusDraft, p.Credentials().PostStatus)
}

func TestProfileCheckPublishable(t *testing.T) {
	p := &Profile{ID: "p1", SiteURL: "https://example.com", Username: "u", AppPassword: "pw"}

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, p.CheckPublishable(), &cfgErr)
	assert.Contains(t, cfgErr.Reason, "author")

	p.Authors = []Author{{ID: 1, Name: "X"}}
	assert.NoError(t, p.CheckPublishable())

	p.AppPassword = ""
	assert.ErrorAs(t, p.CheckPublishable(), &cfgErr)
}

func TestQuotaCounterRemaining(t *testing.T) {
	assert.Equal(t, 2, QuotaCounter{Cap: 3, PublishedCount: 1}.Remaining())
	assert.Equal(t, 0, QuotaCounter{Cap: 0, PublishedCount: 0}.Remaining())
}

func TestErrors(t *testing.T) {
	storeErr := NewStoreError("save run state", errors.New("disk full"))
	assert.ErrorIs(t, storeErr, ErrStoreUnavailable)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", storeErr), ErrStoreUnavailable)
	assert.Nil(t, NewStoreError("noop", nil))

	permanent := &PublisherFailure{StatusCode: 401, Permanent: true, Err: errors.New("unauthorized")}
	assert.True(t, IsPermanent(fmt.Errorf("attempt 1: %w", permanent)))
	assert.False(t, IsPermanent(&PublisherFailure{StatusCode: 503, Err: errors.New("busy")}))
	assert.False(t, IsPermanent(errors.New("plain")))

	v := NewValidationError("profiles[0].profile_id", "unknown profile")
	v.Add("profiles[1].tickers", "required")
	assert.True(t, v.HasProblems())
	assert.Contains(t, v.Error(), "unknown profile")
	assert.Contains(t, v.Error(), "profiles[1].tickers")
}

func TestTickerJobResult_UserMessage(t *testing.T) {
	res := &TickerJobResult{Ticker: "AAA", AuthorName: "X", ErrorDetail: "wordpress returned 500: <html>upstream</html>"}

	res.Outcome = OutcomePublished
	assert.Equal(t, "AAA published by X", res.UserMessage())
	res.Outcome = OutcomeSkippedQuota
	assert.Contains(t, res.UserMessage(), "quota")

	res.Outcome = OutcomeFailed
	assert.Equal(t, "AAA failed: the report could not be generated", res.UserMessage())
	res.Attempts = 3
	assert.Equal(t, "AAA failed: the post could not be published", res.UserMessage())
	assert.NotContains(t, res.UserMessage(), "upstream")
}
