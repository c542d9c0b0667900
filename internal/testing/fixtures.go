package testing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
)

// NewProfileFixture returns a publishable profile with the given authors
func NewProfileFixture(id, ownerID string, dailyCap int, authors ...domain.Author) *domain.Profile {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Profile{
		ID:          id,
		OwnerID:     ownerID,
		Name:        "Profile " + id,
		SiteURL:     "https://" + id + ".example.com",
		Username:    "publisher",
		AppPassword: "abcd efgh ijkl mnop",
		PostStatus:  domain.PostStatusPublish,
		Authors:     authors,
		DailyCap:    dailyCap,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewAuthorFixtures returns authors named after the given names, with ids 1..n
func NewAuthorFixtures(names ...string) []domain.Author {
	authors := make([]domain.Author, 0, len(names))
	for i, name := range names {
		authors = append(authors, domain.Author{ID: int64(i + 1), Name: name})
	}
	return authors
}

// InsertProfile writes a profile row directly, bypassing the repository
func InsertProfile(t *testing.T, db *database.DB, p *domain.Profile) {
	t.Helper()

	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		t.Fatalf("Failed to marshal authors: %v", err)
	}

	_, err = db.Conn().Exec(`
		INSERT INTO profiles (id, owner_id, name, site_url, username, app_password, authors,
			daily_cap, post_status, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.Name, p.SiteURL, p.Username, p.AppPassword, string(authorsJSON),
		p.DailyCap, p.PostStatus, p.CategoryID, p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		t.Fatalf("Failed to insert profile %s: %v", p.ID, err)
	}
}
