package work

import (
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/modules/authors"
)

// QuotaGuard gates publishing against the daily cap
type QuotaGuard interface {
	HasCapacity(profileID, day string) (bool, error)
	TryReserve(profileID, day string) (bool, error)
}

// AuthorRotator selects authors round-robin; the cursor only moves on Commit
type AuthorRotator interface {
	Select(profileID string) (*authors.Selection, error)
	Commit(profileID string, sel *authors.Selection) error
}

// DuplicateDetector remembers fingerprints of published content
type DuplicateDetector interface {
	IsDuplicate(profileID, ticker, fingerprint, day string) (bool, error)
	Record(profileID, ticker, fingerprint, day string, postID int64) error
}

// RunStateStore persists the state machine of profile runs
type RunStateStore interface {
	CreateQueued(states []*domain.ProfileRunState) error
	Get(profileID string) (*domain.ProfileRunState, error)
	Transition(profileID, runID string, from []domain.RunStatus, to domain.RunStatus, message string) (*domain.ProfileRunState, error)
	SaveProgress(st *domain.ProfileRunState) error
	ListInterrupted() ([]*domain.ProfileRunState, error)
}

// ResultLog is the append-only ticker result log
type ResultLog interface {
	Append(res *domain.TickerJobResult) error
	PublishedPost(profileID, ticker, fingerprint, day string) (int64, bool, error)
}

// ProfileSource resolves profiles for workers and ownership checks
type ProfileSource interface {
	Get(id string) (*domain.Profile, error)
	GetOwned(id, ownerID string) (*domain.Profile, error)
}
