package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/pkg/database"
)

func newTestCatalog(t *testing.T) (*Repo, *sql.DB) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	_, err = db.Exec(`INSERT INTO groups (id, name, slug) VALUES ('group-1', 'A', 'a')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO series (id, title, title_key, genres, status, group_id, submission_id) VALUES
		('solo-leveling', 'Solo Leveling', 'solo-leveling', '["Action","Fantasy"]', 'ongoing', 'group-1', 's1'),
		('tower-of-god', 'Tower of God', 'tower-of-god', '["Adventure"]', 'ongoing', 'group-1', 's2'),
		('bastard', 'Bastard', 'bastard', '["Thriller"]', 'completed', 'group-1', 's3')`)
	require.NoError(t, err)

	return NewRepo(db), db
}

func TestListSeries_KeywordFilter(t *testing.T) {
	repo, _ := newTestCatalog(t)

	items, err := repo.ListSeries(context.Background(), ListQuery{Q: "tower", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Tower of God", items[0].Title)
}

func TestListSeries_GenreAnyMatch(t *testing.T) {
	repo, _ := newTestCatalog(t)

	items, err := repo.ListSeries(context.Background(), ListQuery{Genres: []string{"Fantasy", "Thriller"}, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestListSeries_StatusFilterAndCount(t *testing.T) {
	repo, _ := newTestCatalog(t)
	q := ListQuery{Status: "completed", Limit: 10}

	total, err := repo.Count(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	items, err := repo.ListSeries(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bastard", items[0].ID)
}

func TestGetSeries_DecodesGenres(t *testing.T) {
	repo, _ := newTestCatalog(t)

	s, err := repo.GetSeries(context.Background(), "solo-leveling")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []string{"Action", "Fantasy"}, s.Genres)

	s, err = repo.GetSeries(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestListChapters_NumericOrder(t *testing.T) {
	repo, db := newTestCatalog(t)

	// inserted out of order, including a decimal chapter
	_, err := db.Exec(`INSERT INTO chapters (id, series_id, group_id, number, submission_id) VALUES
		('c10', 'solo-leveling', 'group-1', '10', 's'),
		('c2', 'solo-leveling', 'group-1', '2', 's'),
		('c2_5', 'solo-leveling', 'group-1', '2.5', 's')`)
	require.NoError(t, err)

	chapters, err := repo.ListChapters(context.Background(), "solo-leveling")
	require.NoError(t, err)
	require.Len(t, chapters, 3)
	assert.Equal(t, []string{"2", "2.5", "10"}, []string{chapters[0].Number, chapters[1].Number, chapters[2].Number})
}
