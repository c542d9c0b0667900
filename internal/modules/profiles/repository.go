package profiles

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// profileColumns is the column list for the profiles table.
// Order must match scanProfile().
const profileColumns = `id, owner_id, name, site_url, username, app_password, authors,
daily_cap, post_status, category_id, created_at, updated_at`

// ProfileRepository handles profile persistence in publishing.db
type ProfileRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sql.DB, log zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:  db,
		log: log.With().Str("repo", "profiles").Logger(),
	}
}

// Create stores a new profile. An empty ID is replaced by a generated one.
func (r *ProfileRepository) Create(p *domain.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	p.CreatedAt = now
	p.UpdatedAt = now

	authorsJSON, err := json.Marshal(nonNilAuthors(p.Authors))
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.OwnerID, p.Name, p.SiteURL, p.Username, p.AppPassword, string(authorsJSON),
		p.DailyCap, p.PostStatus, p.CategoryID, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	r.log.Info().Str("profile_id", p.ID).Str("owner_id", p.OwnerID).Msg("Profile created")
	return nil
}

// Get retrieves a profile by ID. Returns domain.ErrNotFound when missing.
func (r *ProfileRepository) Get(id string) (*domain.Profile, error) {
	row := r.db.QueryRow("SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetOwned retrieves a profile only if ownerID owns it.
// Profiles of other owners are reported as not found.
func (r *ProfileRepository) GetOwned(id, ownerID string) (*domain.Profile, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ListByOwner returns the profiles of one owner ordered by name
func (r *ProfileRepository) ListByOwner(ownerID string) ([]*domain.Profile, error) {
	rows, err := r.db.Query("SELECT "+profileColumns+" FROM profiles WHERE owner_id = ? ORDER BY name, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return out, nil
}

// Update overwrites the writable fields of an existing profile
func (r *ProfileRepository) Update(p *domain.Profile) error {
	p.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	authorsJSON, err := json.Marshal(nonNilAuthors(p.Authors))
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	result, err := r.db.Exec(`
		UPDATE profiles
		SET name = ?, site_url = ?, username = ?, app_password = ?, authors = ?,
			daily_cap = ?, post_status = ?, category_id = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`,
		p.Name, p.SiteURL, p.Username, p.AppPassword, string(authorsJSON),
		p.DailyCap, p.PostStatus, p.CategoryID, p.UpdatedAt.Unix(),
		p.ID, p.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, domain.ErrNotFound)
	}

	r.log.Info().Str("profile_id", p.ID).Msg("Profile updated")
	return nil
}

// Delete removes a profile owned by ownerID
func (r *ProfileRepository) Delete(id, ownerID string) error {
	result, err := r.db.Exec("DELETE FROM profiles WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}

	r.log.Info().Str("profile_id", id).Msg("Profile deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var (
		p           domain.Profile
		authorsJSON string
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.SiteURL, &p.Username, &p.AppPassword, &authorsJSON,
		&p.DailyCap, &p.PostStatus, &p.CategoryID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authors of %s: %w", p.ID, err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &p, nil
}

func nonNilAuthors(authors []domain.Author) []domain.Author {
	if authors == nil {
		return []domain.Author{}
	}
	return authors
}
