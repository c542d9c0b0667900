// Package runstate persists the state machine of each profile's run.
package runstate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// runStateColumns is the column list for run_states. Order must match scanState().
const runStateColumns = `profile_id, run_id, user_id, status, tickers, remaining_tickers,
processed_count, published_count, requested_post_count, message, created_at, last_updated`

// Transition sources used by callers
var (
	FromActive  = []domain.RunStatus{domain.RunStatusQueued, domain.RunStatusRunning, domain.RunStatusPaused}
	FromLive    = []domain.RunStatus{domain.RunStatusQueued, domain.RunStatusRunning}
	FromPaused  = []domain.RunStatus{domain.RunStatusPaused}
	FromQueued  = []domain.RunStatus{domain.RunStatusQueued}
	FromRunning = []domain.RunStatus{domain.RunStatusRunning}
	// FromResumable are the stopped runs whose remaining queue can be picked up again
	FromResumable = []domain.RunStatus{domain.RunStatusPaused, domain.RunStatusFailed}
)

// Store keeps the latest run of every profile in run_states (one row per profile)
type Store struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewStore creates a run state store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "run_states").Logger(),
	}
}

// CreateQueued stores queued states for a whole run request atomically.
// Fails with domain.ErrRunActive, writing nothing, if any profile still has an active run.
func (s *Store) CreateQueued(states []*domain.ProfileRunState) error {
	now := s.now().UTC().Truncate(time.Second)

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		for _, st := range states {
			st.Status = domain.RunStatusQueued
			st.CreatedAt = now
			st.LastUpdated = now
			if st.RemainingTickers == nil {
				st.RemainingTickers = append([]string(nil), st.Tickers...)
			}

			tickers, err := json.Marshal(nonNil(st.Tickers))
			if err != nil {
				return fmt.Errorf("failed to marshal tickers: %w", err)
			}
			remaining, err := json.Marshal(st.RemainingTickers)
			if err != nil {
				return fmt.Errorf("failed to marshal remaining tickers: %w", err)
			}

			result, err := tx.Exec(`
				INSERT INTO run_states (`+runStateColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, '', ?, ?)
				ON CONFLICT(profile_id) DO UPDATE SET
					run_id = excluded.run_id,
					user_id = excluded.user_id,
					status = excluded.status,
					tickers = excluded.tickers,
					remaining_tickers = excluded.remaining_tickers,
					processed_count = 0,
					published_count = 0,
					requested_post_count = excluded.requested_post_count,
					message = '',
					created_at = excluded.created_at,
					last_updated = excluded.last_updated
				WHERE run_states.status NOT IN ('queued', 'running', 'paused')
			`,
				st.ProfileID, st.RunID, st.UserID, string(st.Status), string(tickers), string(remaining),
				st.RequestedPostCount, now.Unix(), now.Unix(),
			)
			if err != nil {
				return domain.NewStoreError("create run state", err)
			}

			affected, err := result.RowsAffected()
			if err != nil {
				return domain.NewStoreError("create run state", err)
			}
			if affected == 0 {
				return fmt.Errorf("profile %s: %w", st.ProfileID, domain.ErrRunActive)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("profiles", len(states)).Msg("Run states queued")
	return nil
}

// Get returns the latest run state of a profile
func (s *Store) Get(profileID string) (*domain.ProfileRunState, error) {
	row := s.db.QueryRow("SELECT "+runStateColumns+" FROM run_states WHERE profile_id = ?", profileID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run state of %s: %w", profileID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStoreError("read run state", err)
	}
	return st, nil
}

// Transition moves a run from one of the given statuses to `to`.
// Returns domain.ErrInvalidTransition if the run is in any other status,
// and domain.ErrNotFound if runID is not the profile's latest run.
func (s *Store) Transition(profileID, runID string, from []domain.RunStatus, to domain.RunStatus, message string) (*domain.ProfileRunState, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("no source statuses for transition to %s", to)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), message, s.now().Unix(), profileID}
	query := `UPDATE run_states SET status = ?, message = ?, last_updated = ? WHERE profile_id = ?`
	if runID != "" {
		query += " AND run_id = ?"
		args = append(args, runID)
	}
	query += " AND status IN (" + placeholders + ")"
	for _, f := range from {
		args = append(args, string(f))
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, domain.NewStoreError("transition run state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, domain.NewStoreError("transition run state", err)
	}

	current, err := s.Get(profileID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if runID != "" && current.RunID != runID {
			return nil, fmt.Errorf("run %s of %s: %w", runID, profileID, domain.ErrNotFound)
		}
		return current, fmt.Errorf("%s -> %s: %w", current.Status, to, domain.ErrInvalidTransition)
	}

	s.log.Info().
		Str("profile_id", profileID).
		Str("run_id", current.RunID).
		Str("status", string(to)).
		Msg("Run state transitioned")
	return current, nil
}

// SaveProgress persists the queue and counters of a run without touching its status,
// so a concurrent pause or cancel is never overwritten
func (s *Store) SaveProgress(st *domain.ProfileRunState) error {
	remaining, err := json.Marshal(nonNil(st.RemainingTickers))
	if err != nil {
		return fmt.Errorf("failed to marshal remaining tickers: %w", err)
	}
	st.LastUpdated = s.now().UTC().Truncate(time.Second)

	result, err := s.db.Exec(`
		UPDATE run_states
		SET remaining_tickers = ?, processed_count = ?, published_count = ?, message = ?, last_updated = ?
		WHERE profile_id = ? AND run_id = ?
	`, string(remaining), st.ProcessedCount, st.PublishedCount, st.Message, st.LastUpdated.Unix(),
		st.ProfileID, st.RunID)
	if err != nil {
		return domain.NewStoreError("save run progress", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError("save run progress", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s of %s: %w", st.RunID, st.ProfileID, domain.ErrNotFound)
	}
	return nil
}

// ListByUser returns the run states started by a user, most recent first
func (s *Store) ListByUser(userID string) ([]*domain.ProfileRunState, error) {
	return s.list("SELECT "+runStateColumns+" FROM run_states WHERE user_id = ? ORDER BY last_updated DESC, profile_id", userID)
}

// ListByStatus returns the run states in any of the given statuses
func (s *Store) ListByStatus(statuses ...domain.RunStatus) ([]*domain.ProfileRunState, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.list("SELECT "+runStateColumns+" FROM run_states WHERE status IN ("+placeholders+") ORDER BY profile_id", args...)
}

// ListInterrupted returns runs a previous process left queued or running
func (s *Store) ListInterrupted() ([]*domain.ProfileRunState, error) {
	return s.ListByStatus(domain.RunStatusQueued, domain.RunStatusRunning)
}

func (s *Store) list(query string, args ...any) ([]*domain.ProfileRunState, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, domain.NewStoreError("list run states", err)
	}
	defer rows.Close()

	var out []*domain.ProfileRunState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("list run states", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*domain.ProfileRunState, error) {
	var (
		st            domain.ProfileRunState
		status        string
		tickersJSON   string
		remainingJSON string
		createdAt     int64
		lastUpdated   int64
	)

	err := row.Scan(
		&st.ProfileID, &st.RunID, &st.UserID, &status, &tickersJSON, &remainingJSON,
		&st.ProcessedCount, &st.PublishedCount, &st.RequestedPostCount, &st.Message,
		&createdAt, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tickersJSON), &st.Tickers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tickers: %w", err)
	}
	if err := json.Unmarshal([]byte(remainingJSON), &st.RemainingTickers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remaining tickers: %w", err)
	}
	st.Status = domain.RunStatus(status)
	st.CreatedAt = time.Unix(createdAt, 0).UTC()
	st.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	return &st, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
