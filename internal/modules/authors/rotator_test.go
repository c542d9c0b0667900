package authors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	testingpkg "github.com/aristath/autopublish/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProfiles struct {
	mu      sync.Mutex
	authors map[string][]domain.Author
}

func (s *stubProfiles) Get(id string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authors, ok := s.authors[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return &domain.Profile{ID: id, Authors: append([]domain.Author(nil), authors...)}, nil
}

func (s *stubProfiles) set(id string, authors []domain.Author) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authors[id] = authors
}

func newRotator(t *testing.T) (*Rotator, *database.DB, *stubProfiles) {
	db, cleanup := testingpkg.NewTestDB(t, database.NamePublishing)
	t.Cleanup(cleanup)
	stub := &stubProfiles{authors: map[string][]domain.Author{}}
	return NewRotator(db.Conn(), stub, zerolog.Nop()), db, stub
}

// next selects and commits, the way a worker does after a successful publish
func next(t *testing.T, r *Rotator, profileID string) domain.Author {
	t.Helper()
	sel, err := r.Select(profileID)
	require.NoError(t, err)
	require.NoError(t, r.Commit(profileID, sel))
	return sel.Author
}

func TestRotation_RoundRobin(t *testing.T) {
	r, _, stub := newRotator(t)
	stub.set("p1", testingpkg.NewAuthorFixtures("X", "Y", "Z"))

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, next(t, r, "p1").Name)
	}
	assert.Equal(t, []string{"X", "Y", "Z", "X", "Y", "Z", "X"}, got)
}

func TestRotation_FairAcrossRestarts(t *testing.T) {
	_, db, stub := newRotator(t)
	stub.set("p1", testingpkg.NewAuthorFixtures("X", "Y", "Z"))

	counts := map[string]int{}
	// Four "runs" of uneven length, each with a fresh rotator over the same store
	for _, calls := range []int{2, 4, 1, 5} {
		rot := NewRotator(db.Conn(), stub, zerolog.Nop())
		for i := 0; i < calls; i++ {
			counts[next(t, rot, "p1").Name]++
		}
	}

	assert.Equal(t, map[string]int{"X": 4, "Y": 4, "Z": 4}, counts)
}

func TestSelect_DoesNotAdvanceUntilCommit(t *testing.T) {
	r, _, stub := newRotator(t)
	stub.set("p1", testingpkg.NewAuthorFixtures("X", "Y"))

	first, err := r.Select("p1")
	require.NoError(t, err)
	again, err := r.Select("p1")
	require.NoError(t, err)
	assert.Equal(t, first.Author, again.Author)

	require.NoError(t, r.Commit("p1", first))

	next, err := r.Select("p1")
	require.NoError(t, err)
	assert.Equal(t, "Y", next.Author.Name)

	// A stale selection cannot move the cursor twice
	assert.ErrorIs(t, r.Commit("p1", again), ErrCursorMoved)
}

func TestSelect_WrapsWhenListShrinks(t *testing.T) {
	r, _, stub := newRotator(t)
	stub.set("p1", testingpkg.NewAuthorFixtures("A", "B", "C"))

	next(t, r, "p1")
	next(t, r, "p1")
	cursor, err := r.Cursor("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, cursor)

	stub.set("p1", testingpkg.NewAuthorFixtures("A", "B"))
	sel, err := r.Select("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Index)
	assert.Equal(t, "A", sel.Author.Name)

	require.NoError(t, r.Commit("p1", sel))
	cursor, err = r.Cursor("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)
}

func TestSelect_EmptyAuthorListIsConfigurationError(t *testing.T) {
	r, _, stub := newRotator(t)
	stub.set("p1", nil)

	_, err := r.Select("p1")
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, 0, wrap(3, 3))
	assert.Equal(t, 2, wrap(-1, 3))
	assert.Equal(t, 0, wrap(5, 0))
}
