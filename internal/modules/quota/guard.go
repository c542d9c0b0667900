// Package quota enforces the per-profile daily post cap.
package quota

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// Guard gates publishing against the daily cap of each profile.
// Counters live in quota_counters, one row per (profile, day). Increments are
// conditional UPDATEs, so the cap holds across processes sharing the database;
// a per-key mutex additionally serializes callers inside one process.
type Guard struct {
	db          *sql.DB
	profiles    domain.ProfileGetter
	locks       *keyedMutex
	now         func() time.Time
	log         zerolog.Logger
	absoluteCap int
}

// NewGuard creates a quota guard. absoluteCap (0 = none) overrides larger profile caps.
func NewGuard(db *sql.DB, profiles domain.ProfileGetter, absoluteCap int, log zerolog.Logger) *Guard {
	return &Guard{
		db:          db,
		profiles:    profiles,
		locks:       newKeyedMutex(),
		now:         time.Now,
		absoluteCap: absoluteCap,
		log:         log.With().Str("component", "quota_guard").Logger(),
	}
}

// EffectiveCap applies the absolute ceiling to a profile cap
func (g *Guard) EffectiveCap(profileCap int) int {
	if g.absoluteCap > 0 && g.absoluteCap < profileCap {
		return g.absoluteCap
	}
	return profileCap
}

// currentCap reads the cap from profile configuration on every call
func (g *Guard) currentCap(profileID string) (int, error) {
	p, err := g.profiles.Get(profileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		return 0, domain.NewStoreError("load profile cap", err)
	}
	return g.EffectiveCap(p.DailyCap), nil
}

// TryReserve atomically increments the (profileID, day) counter if it is below the cap.
// It returns false without error when the cap is reached.
func (g *Guard) TryReserve(profileID, day string) (bool, error) {
	unlock := g.locks.Lock(profileID + "|" + day)
	defer unlock()

	limit, err := g.currentCap(profileID)
	if err != nil {
		return false, err
	}

	now := g.now().Unix()

	// Lazily create the day's counter
	_, err = g.db.Exec(`
		INSERT INTO quota_counters (profile_id, day, published_count, cap, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(profile_id, day) DO NOTHING
	`, profileID, day, limit, now)
	if err != nil {
		return false, domain.NewStoreError("create quota counter", err)
	}

	result, err := g.db.Exec(`
		UPDATE quota_counters
		SET published_count = published_count + 1, cap = ?, updated_at = ?
		WHERE profile_id = ? AND day = ? AND published_count < ?
	`, limit, now, profileID, day, limit)
	if err != nil {
		return false, domain.NewStoreError("increment quota counter", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, domain.NewStoreError("increment quota counter", err)
	}

	granted := affected == 1
	g.log.Debug().
		Str("profile_id", profileID).
		Str("day", day).
		Int("cap", limit).
		Bool("granted", granted).
		Msg("Quota reservation")

	return granted, nil
}

// HasCapacity reports whether a reservation would currently be granted, without reserving
func (g *Guard) HasCapacity(profileID, day string) (bool, error) {
	limit, err := g.currentCap(profileID)
	if err != nil {
		return false, err
	}

	counter, err := g.Get(profileID, day)
	if err != nil {
		return false, err
	}
	return counter.PublishedCount < limit, nil
}

// Get returns the counter for (profileID, day); a missing row is a zero counter
func (g *Guard) Get(profileID, day string) (*domain.QuotaCounter, error) {
	counter := &domain.QuotaCounter{ProfileID: profileID, Day: day}

	var updatedAt int64
	err := g.db.QueryRow(`
		SELECT published_count, cap, updated_at FROM quota_counters
		WHERE profile_id = ? AND day = ?
	`, profileID, day).Scan(&counter.PublishedCount, &counter.Cap, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if limit, capErr := g.currentCap(profileID); capErr == nil {
			counter.Cap = limit
		}
		return counter, nil
	}
	if err != nil {
		return nil, domain.NewStoreError("read quota counter", err)
	}
	counter.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return counter, nil
}

// DeleteBefore removes counters of days strictly before day
func (g *Guard) DeleteBefore(day string) (int64, error) {
	result, err := g.db.Exec("DELETE FROM quota_counters WHERE day < ?", day)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old quota counters: %w", err)
	}
	return result.RowsAffected()
}

// keyedMutex hands out one mutex per key so unrelated keys never block each other
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the key's mutex and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
