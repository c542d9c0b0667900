package profiles

import (
	"testing"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	testingpkg "github.com/aristath/autopublish/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *ProfileRepository {
	db, cleanup := testingpkg.NewTestDB(t, database.NamePublishing)
	t.Cleanup(cleanup)
	return NewProfileRepository(db.Conn(), zerolog.Nop())
}

func TestProfileRepository_CRUD(t *testing.T) {
	repo := newTestRepo(t)

	p := &domain.Profile{
		OwnerID:     "alice",
		Name:        "Markets",
		SiteURL:     "https://markets.example.com",
		Username:    "bot",
		AppPassword: "secret",
		PostStatus:  domain.PostStatusDraft,
		Authors:     testingpkg.NewAuthorFixtures("X", "Y"),
		DailyCap:    2,
		CategoryID:  7,
	}
	require.NoError(t, repo.Create(p))
	require.NotEmpty(t, p.ID)

	got, err := repo.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Markets", got.Name)
	assert.Equal(t, "secret", got.AppPassword)
	assert.Equal(t, []domain.Author{{ID: 1, Name: "X"}, {ID: 2, Name: "Y"}}, got.Authors)
	assert.Equal(t, 2, got.DailyCap)
	assert.Equal(t, int64(7), got.CategoryID)

	got.DailyCap = 5
	got.Authors = got.Authors[:1]
	require.NoError(t, repo.Update(got))

	again, err := repo.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, again.DailyCap)
	assert.Len(t, again.Authors, 1)

	require.NoError(t, repo.Delete(p.ID, "alice"))
	_, err = repo.Get(p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProfileRepository_OwnerScoping(t *testing.T) {
	repo := newTestRepo(t)

	p := testingpkg.NewProfileFixture("p1", "alice", 3, testingpkg.NewAuthorFixtures("X")...)
	require.NoError(t, repo.Create(p))
	require.NoError(t, repo.Create(testingpkg.NewProfileFixture("p2", "bob", 3)))

	_, err := repo.GetOwned("p1", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repo.Delete("p1", "bob"), domain.ErrNotFound)

	p.OwnerID = "bob"
	assert.ErrorIs(t, repo.Update(p), domain.ErrNotFound)

	list, err := repo.ListByOwner("alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)
}

func TestProfileRepository_EmptyAuthorsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	p := testingpkg.NewProfileFixture("p1", "alice", 1)
	require.NoError(t, repo.Create(p))

	got, err := repo.Get("p1")
	require.NoError(t, err)
	assert.Empty(t, got.Authors)

	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, got.CheckPublishable(), &cfgErr)
}
