package review

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/internal/pipeline"
	"scanhub/internal/storage"
	"scanhub/internal/submission"
	"scanhub/pkg/database"
	"scanhub/pkg/models"
)

func newTestEnv(t *testing.T) (*Promoter, *Cleaner, *submission.Repo, *storage.LocalStore, *sql.DB) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	_, err = db.Exec(`INSERT INTO users (id, username, email, password_hash, moderator) VALUES
		('user-1', 'submitter', 'sub@example.com', 'x', 0),
		('mod-1', 'moderator', 'mod@example.com', 'x', 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO groups (id, name, slug) VALUES ('group-1', 'Good Group', 'good-group')`)
	require.NoError(t, err)

	store, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	repo := submission.NewRepo(db)
	return NewPromoter(store, repo), NewCleaner(store), repo, store, db
}

func stageObject(t *testing.T, store *storage.LocalStore, path string) {
	t.Helper()
	_, err := store.Put(context.Background(), path, []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
}

func seedSeriesSubmission(t *testing.T, repo *submission.Repo, store *storage.LocalStore) *models.Submission {
	t.Helper()

	sub := models.Submission{
		ID:          "sub-series",
		Kind:        models.KindSeries,
		ContentKey:  models.SeriesContentKey("Solo Leveling"),
		GroupID:     "group-1",
		SubmitterID: "user-1",
		Manifest: []models.ManifestEntry{
			{Path: "staging/series/good-group/solo-leveling/cover.jpg", Role: models.RoleCover},
		},
		Metadata: models.SubmissionMeta{Title: "Solo Leveling", Genres: []string{"Action"}},
		Status:   models.StatusPending,
	}
	stageObject(t, store, sub.Manifest[0].Path)
	require.NoError(t, repo.Create(context.Background(), sub))
	return &sub
}

func seedChapterSubmission(t *testing.T, repo *submission.Repo, store *storage.LocalStore, db *sql.DB) *models.Submission {
	t.Helper()

	_, err := db.Exec(`INSERT INTO series (id, title, title_key, group_id, submission_id)
		VALUES ('solo-leveling', 'Solo Leveling', 'solo-leveling', 'group-1', 'seed')`)
	require.NoError(t, err)

	sub := models.Submission{
		ID:          "sub-chapter",
		Kind:        models.KindChapter,
		ContentKey:  models.ChapterContentKey("solo-leveling", "1", "group-1"),
		GroupID:     "group-1",
		SubmitterID: "user-1",
		Manifest: []models.ManifestEntry{
			{Path: "staging/chapter/good-group/solo-leveling-ch-1/001.jpg", Role: models.RolePage, Index: 1},
			{Path: "staging/chapter/good-group/solo-leveling-ch-1/002.jpg", Role: models.RolePage, Index: 2},
			{Path: "staging/chapter/good-group/solo-leveling-ch-1/cover.jpg", Role: models.RoleCover},
		},
		Metadata: models.SubmissionMeta{SeriesID: "solo-leveling", ChapterNumber: "1"},
		Status:   models.StatusPending,
	}
	for _, e := range sub.Manifest {
		stageObject(t, store, e.Path)
	}
	require.NoError(t, repo.Create(context.Background(), sub))
	return &sub
}

func TestPromote_SeriesMovesCoverAndCommits(t *testing.T) {
	p, _, repo, store, _ := newTestEnv(t)
	ctx := context.Background()
	sub := seedSeriesSubmission(t, repo, store)

	res, err := p.Promote(ctx, sub, "mod-1")
	require.NoError(t, err)
	assert.Equal(t, "solo-leveling", res.CanonicalID)
	assert.Empty(t, res.Warnings)

	// canonical exists, staged copy is gone
	ok, err := store.Exists(ctx, "series/solo-leveling/cover.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, sub.Manifest[0].Path)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "solo-leveling", got.CanonicalID)
}

func TestPromote_ChapterPagesKeepReadingOrder(t *testing.T) {
	p, _, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	res, err := p.Promote(ctx, sub, "mod-1")
	require.NoError(t, err)
	require.Len(t, res.URLs, 2, "cover URL is not a page")
	assert.Contains(t, res.URLs[0], "/001.jpg")
	assert.Contains(t, res.URLs[1], "/002.jpg")

	for _, path := range []string{
		"series/solo-leveling/ch-1/group-1/001.jpg",
		"series/solo-leveling/ch-1/group-1/002.jpg",
		"series/solo-leveling/ch-1/group-1/cover.jpg",
	} {
		ok, err := store.Exists(ctx, path)
		require.NoError(t, err)
		assert.True(t, ok, path)
	}

	var total int
	require.NoError(t, db.QueryRow(`SELECT total_chapters FROM series WHERE id = 'solo-leveling'`).Scan(&total))
	assert.Equal(t, 1, total)
}

func TestPromote_MissingPageKeepsSubmissionPending(t *testing.T) {
	p, _, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	// lose one page out from under the approval
	require.NoError(t, store.Delete(ctx, sub.Manifest[1].Path))

	_, err := p.Promote(ctx, sub, "mod-1")
	var promErr *pipeline.PromotionError
	require.ErrorAs(t, err, &promErr)

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "nothing committed on partial failure")

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM chapters`).Scan(&n))
	assert.Zero(t, n)
}

func TestPromote_RetryAfterPartialMoveSucceeds(t *testing.T) {
	p, _, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	// simulate a crashed earlier attempt: page 1 already at its destination,
	// its staged source gone
	require.NoError(t, store.Copy(ctx, sub.Manifest[0].Path, "series/solo-leveling/ch-1/group-1/001.jpg"))
	require.NoError(t, store.Delete(ctx, sub.Manifest[0].Path))

	res, err := p.Promote(ctx, sub, "mod-1")
	require.NoError(t, err)
	assert.Len(t, res.URLs, 2)

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestPromote_MissingCoverIsOnlyAWarning(t *testing.T) {
	p, _, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	require.NoError(t, store.Delete(ctx, sub.Manifest[2].Path))

	res, err := p.Promote(ctx, sub, "mod-1")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "cover")

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status, "publication proceeds without the cover")
}

func TestPromote_LostRaceReportsAlreadyProcessed(t *testing.T) {
	p, _, repo, store, _ := newTestEnv(t)
	ctx := context.Background()
	sub := seedSeriesSubmission(t, repo, store)

	ok, err := repo.MarkRejected(ctx, sub.ID, "mod-1", "no")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.Promote(ctx, sub, "mod-1")
	var apErr *pipeline.AlreadyProcessedError
	require.ErrorAs(t, err, &apErr)
}

func TestCleaner_RemovesStagedAssets(t *testing.T) {
	_, cl, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	failed := cl.Run(ctx, sub, "rejected")
	assert.Empty(t, failed)

	objs, err := store.List(ctx, "staging/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCleaner_MissingAssetsAreNotFailures(t *testing.T) {
	_, cl, repo, store, db := newTestEnv(t)
	ctx := context.Background()
	sub := seedChapterSubmission(t, repo, store, db)

	require.NoError(t, store.Delete(ctx, sub.Manifest[0].Path))

	failed := cl.Run(ctx, sub, "rejected")
	assert.Empty(t, failed, "deleting an already-gone object is fine")
}
