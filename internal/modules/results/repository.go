// Package results stores the append-only log of ticker job outcomes in ledger.db.
package results

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// resultColumns is the column list for ticker_results. Order must match scanResult().
const resultColumns = `id, run_id, profile_id, user_id, ticker, outcome, author_id, author_name,
post_id, content_fingerprint, attempts, error_detail, day, created_at`

// Filter narrows List queries. Empty fields match everything.
type Filter struct {
	UserID    string
	ProfileID string
	RunID     string
	Day       string
	Limit     int
}

// DaySummary counts outcomes of one profile on one day
type DaySummary struct {
	ProfileID string         `json:"profile_id"`
	Day       string         `json:"day"`
	Outcomes  map[string]int `json:"outcomes"`
	Total     int            `json:"total"`
}

// Repository appends and reads ticker results. Rows are never updated or deleted.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a result repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  ledgerDB,
		now: time.Now,
		log: log.With().Str("repo", "ticker_results").Logger(),
	}
}

// Append writes a result. ID, CreatedAt and Day are filled in when empty.
func (r *Repository) Append(res *domain.TickerJobResult) error {
	if !res.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", res.Outcome)
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now().UTC()
	}
	if res.Day == "" {
		res.Day = domain.DayOf(res.CreatedAt)
	}

	_, err := r.db.Exec(`
		INSERT INTO ticker_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.RunID, res.ProfileID, res.UserID, res.Ticker, string(res.Outcome),
		res.AuthorID, res.AuthorName, res.PostID, res.ContentFingerprint, res.Attempts,
		nullString(res.ErrorDetail), res.Day, res.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.NewStoreError("append ticker result", err)
	}

	r.log.Debug().
		Str("profile_id", res.ProfileID).
		Str("ticker", res.Ticker).
		Str("outcome", string(res.Outcome)).
		Msg("Ticker result appended")
	return nil
}

// List returns results matching f in insertion order
func (r *Repository) List(f Filter) ([]*domain.TickerJobResult, error) {
	query := "SELECT " + resultColumns + " FROM ticker_results WHERE 1=1"
	var args []any
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.ProfileID != "" {
		query += " AND profile_id = ?"
		args = append(args, f.ProfileID)
	}
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.Day != "" {
		query += " AND day = ?"
		args = append(args, f.Day)
	}
	query += " ORDER BY created_at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker results: %w", err)
	}
	defer rows.Close()

	var out []*domain.TickerJobResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticker result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticker results: %w", err)
	}
	return out, nil
}

// PublishedPost finds a published result for (profileID, ticker, day) with the
// given content fingerprint and returns its post id
func (r *Repository) PublishedPost(profileID, ticker, fingerprint, day string) (int64, bool, error) {
	var postID int64
	err := r.db.QueryRow(`
		SELECT post_id FROM ticker_results
		WHERE profile_id = ? AND ticker = ? AND day = ? AND outcome = ? AND content_fingerprint = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, profileID, ticker, day, string(domain.OutcomePublished), fingerprint).Scan(&postID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.NewStoreError("read published result", err)
	}
	return postID, true, nil
}

// ForDay returns all results of a day across profiles (used by the archiver)
func (r *Repository) ForDay(day string) ([]*domain.TickerJobResult, error) {
	return r.List(Filter{Day: day})
}

// Summarize counts outcomes per profile for a day, restricted to userID when set
func (r *Repository) Summarize(userID, day string) ([]DaySummary, error) {
	query := "SELECT profile_id, outcome, COUNT(*) FROM ticker_results WHERE day = ?"
	args := []any{day}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " GROUP BY profile_id, outcome ORDER BY profile_id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ticker results: %w", err)
	}
	defer rows.Close()

	var out []DaySummary
	index := map[string]int{}
	for rows.Next() {
		var profileID, outcome string
		var count int
		if err := rows.Scan(&profileID, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		i, ok := index[profileID]
		if !ok {
			out = append(out, DaySummary{ProfileID: profileID, Day: day, Outcomes: map[string]int{}})
			i = len(out) - 1
			index[profileID] = i
		}
		out[i].Outcomes[outcome] = count
		out[i].Total += count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.TickerJobResult, error) {
	var (
		res         domain.TickerJobResult
		outcome     string
		errorDetail sql.NullString
		createdAt   int64
	)

	err := row.Scan(
		&res.ID, &res.RunID, &res.ProfileID, &res.UserID, &res.Ticker, &outcome,
		&res.AuthorID, &res.AuthorName, &res.PostID, &res.ContentFingerprint, &res.Attempts,
		&errorDetail, &res.Day, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	res.Outcome = domain.Outcome(outcome)
	res.ErrorDetail = errorDetail.String
	res.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &res, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
