package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/pkg/models"
	"scanhub/pkg/utils"
)

func testStore(now *time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     func() time.Time { return *now },
	}
}

func testLimiter(store *MemoryStore) *Limiter {
	return NewLimiter(store, utils.LimitConfig{
		ChapterPerUser: 2,
		ChapterWindow:  time.Hour,
		SeriesPerUser:  1,
		SeriesWindow:   24 * time.Hour,
		PerOrigin:      3,
		OriginWindow:   time.Hour,
	})
}

func TestLimiter_AllowsWithinLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))

	q, err := l.Check(context.Background(), models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)

	assert.True(t, q.Allowed)
	assert.Equal(t, 2, q.UserRemaining)
	assert.Equal(t, 3, q.OriginRemaining)
}

func TestLimiter_DeniesWhenUserWindowExhausted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))
	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))

	q, err := l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)

	assert.False(t, q.Allowed)
	assert.Equal(t, "user", q.Dimension)
	assert.Equal(t, 0, q.UserRemaining)
}

func TestLimiter_DeniesOnSharedOrigin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	// three different users, same origin
	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, l.Charge(ctx, models.KindChapter, u, "1.2.3.4"))
	}

	q, err := l.Check(ctx, models.KindChapter, "u4", "1.2.3.4")
	require.NoError(t, err)

	assert.False(t, q.Allowed)
	assert.Equal(t, "origin", q.Dimension)
	assert.Equal(t, 0, q.OriginRemaining)
	assert.Equal(t, 2, q.UserRemaining, "u4 has their whole user budget")
}

func TestLimiter_UserDimensionReportedFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	// exhaust both dimensions for the same subject
	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))
	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))
	require.NoError(t, l.Charge(ctx, models.KindChapter, "other", "1.2.3.4"))

	q, err := l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)

	assert.False(t, q.Allowed)
	assert.Equal(t, "user", q.Dimension)
}

func TestLimiter_CheckNeverCharges(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		q, err := l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
		require.NoError(t, err)
		require.True(t, q.Allowed)
		require.Equal(t, 2, q.UserRemaining)
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))
	require.NoError(t, l.Charge(ctx, models.KindChapter, "user-a", "1.2.3.4"))

	q, err := l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, q.Allowed)

	// past the hour boundary the budget is whole again
	now = now.Add(time.Hour)

	q, err = l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, q.Allowed)
	assert.Equal(t, 2, q.UserRemaining)
}

func TestLimiter_SeriesAndChapterBudgetsAreSeparate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	l := testLimiter(testStore(&now))
	ctx := context.Background()

	require.NoError(t, l.Charge(ctx, models.KindSeries, "user-a", "1.2.3.4"))

	q, err := l.Check(ctx, models.KindSeries, "user-a", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, q.Allowed, "series budget of 1 is spent")

	q, err = l.Check(ctx, models.KindChapter, "user-a", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, q.Allowed, "chapter budget untouched")
	assert.Equal(t, 2, q.UserRemaining)
}

func TestQuota_ErrCarriesRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 40, 0, 0, time.UTC)
	q := Quota{
		Allowed:       false,
		Dimension:     "user",
		UserReset:     time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		UserRemaining: 0,
	}

	err := q.Err(now)
	assert.Equal(t, "user", err.Dimension)
	assert.Equal(t, 20*time.Minute, err.RetryAfter)
}

func TestWindow_StartAlignsToPeriod(t *testing.T) {
	w := Window{Name: "test", Limit: 1, Period: time.Hour}
	at := time.Date(2026, 3, 1, 12, 59, 59, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), w.Start(at))
}
