// Package authors implements round-robin author selection with a persisted cursor.
package authors

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// ErrCursorMoved means the cursor changed between Select and Commit
var ErrCursorMoved = errors.New("rotation cursor moved concurrently")

// Selection is an author picked for the next publish, with the cursor it was picked at
type Selection struct {
	Author domain.Author
	// Cursor is the stored cursor value the selection was made from
	Cursor int
	// Index is the position of Author in the profile's list
	Index int
	size  int
}

// Rotator selects authors round-robin. The cursor persists in author_rotation,
// so fairness holds across runs and restarts.
type Rotator struct {
	db       *sql.DB
	profiles domain.ProfileGetter
	now      func() time.Time
	log      zerolog.Logger
}

// NewRotator creates an author rotator
func NewRotator(db *sql.DB, profiles domain.ProfileGetter, log zerolog.Logger) *Rotator {
	return &Rotator{
		db:       db,
		profiles: profiles,
		now:      time.Now,
		log:      log.With().Str("component", "author_rotator").Logger(),
	}
}

// Select returns the author at the current cursor without advancing it
func (r *Rotator) Select(profileID string) (*Selection, error) {
	return r.selectWith(r.db, profileID)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (r *Rotator) selectWith(q queryRower, profileID string) (*Selection, error) {
	p, err := r.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	if len(p.Authors) == 0 {
		return nil, &domain.ConfigurationError{ProfileID: profileID, Reason: "author list is empty"}
	}

	cursor, err := readCursor(q, profileID)
	if err != nil {
		return nil, err
	}

	// The list may have shrunk since the cursor was stored
	index := wrap(cursor, len(p.Authors))
	return &Selection{
		Author: p.Authors[index],
		Cursor: cursor,
		Index:  index,
		size:   len(p.Authors),
	}, nil
}

// Commit advances the cursor past sel, only if nobody moved it since Select
func (r *Rotator) Commit(profileID string, sel *Selection) error {
	return r.commitWith(r.db, profileID, sel)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (r *Rotator) commitWith(e execer, profileID string, sel *Selection) error {
	next := wrap(sel.Index+1, sel.size)

	result, err := e.Exec(`
		INSERT INTO author_rotation (profile_id, cursor_index, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE
		SET cursor_index = excluded.cursor_index, updated_at = excluded.updated_at
		WHERE author_rotation.cursor_index = ?
	`, profileID, next, r.now().Unix(), sel.Cursor)
	if err != nil {
		return domain.NewStoreError("advance rotation cursor", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError("advance rotation cursor", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile %s: %w", profileID, ErrCursorMoved)
	}

	r.log.Debug().
		Str("profile_id", profileID).
		Str("author", sel.Author.Name).
		Int("next_cursor", next).
		Msg("Rotation cursor advanced")
	return nil
}

// Cursor returns the stored cursor of a profile (0 when never rotated)
func (r *Rotator) Cursor(profileID string) (int, error) {
	return readCursor(r.db, profileID)
}

func readCursor(q queryRower, profileID string) (int, error) {
	var cursor int
	err := q.QueryRow("SELECT cursor_index FROM author_rotation WHERE profile_id = ?", profileID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewStoreError("read rotation cursor", err)
	}
	return cursor, nil
}

func wrap(cursor, size int) int {
	if size <= 0 {
		return 0
	}
	i := cursor % size
	if i < 0 {
		i += size
	}
	return i
}
