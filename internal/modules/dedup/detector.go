// Package dedup prevents re-publishing unchanged content.
package dedup

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// Fingerprint returns a deterministic digest of a report's publishable content
func Fingerprint(report *domain.Report) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(report.Title)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(report.Content)))
	return hex.EncodeToString(h.Sum(nil))
}

// Detector records fingerprints of published content per (profile, ticker, day)
type Detector struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewDetector creates a duplicate detector
func NewDetector(db *sql.DB, log zerolog.Logger) *Detector {
	return &Detector{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "duplicate_detector").Logger(),
	}
}

// IsDuplicate reports whether the same fingerprint was already published for the ticker that day
func (d *Detector) IsDuplicate(profileID, ticker, fingerprint, day string) (bool, error) {
	var exists int
	err := d.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM published_fingerprints
			WHERE profile_id = ? AND ticker = ? AND day = ? AND fingerprint = ?
		)
	`, profileID, ticker, day, fingerprint).Scan(&exists)
	if err != nil {
		return false, domain.NewStoreError("check fingerprint", err)
	}
	return exists == 1, nil
}

// Record stores a fingerprint after a confirmed publish. Recording twice is harmless.
func (d *Detector) Record(profileID, ticker, fingerprint, day string, postID int64) error {
	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO published_fingerprints (profile_id, ticker, day, fingerprint, post_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, profileID, ticker, day, fingerprint, postID, d.now().Unix())
	if err != nil {
		return domain.NewStoreError("record fingerprint", err)
	}

	d.log.Debug().
		Str("profile_id", profileID).
		Str("ticker", ticker).
		Str("day", day).
		Msg("Fingerprint recorded")
	return nil
}

// DeleteBefore removes fingerprints of days strictly before day
func (d *Detector) DeleteBefore(day string) (int64, error) {
	result, err := d.db.Exec("DELETE FROM published_fingerprints WHERE day < ?", day)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old fingerprints: %w", err)
	}
	return result.RowsAffected()
}
