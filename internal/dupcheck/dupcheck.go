// Package dupcheck answers "does this content key already exist" before any
// upload work happens. It is a pre-filter for a fast, friendly error only;
// the store-level unique index on pending submissions is the authoritative
// guard against concurrent duplicates.
package dupcheck

import (
	"context"
	"database/sql"
	"fmt"

	"scanhub/pkg/models"
)

type Detector struct {
	DB *sql.DB
}

func NewDetector(db *sql.DB) *Detector {
	return &Detector{DB: db}
}

// IsDuplicate reports whether the submission's content key collides with
// existing canonical content or a pending submission.
func (d *Detector) IsDuplicate(ctx context.Context, kind string, meta models.SubmissionMeta, groupID string) (bool, error) {
	switch kind {
	case models.KindSeries:
		return d.seriesDuplicate(ctx, meta.Title)
	case models.KindChapter:
		return d.chapterDuplicate(ctx, meta.SeriesID, meta.ChapterNumber, groupID)
	default:
		return false, fmt.Errorf("unknown kind %q", kind)
	}
}

func (d *Detector) seriesDuplicate(ctx context.Context, title string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM series WHERE title_key = ?
	`, models.Slugify(title)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("canonical series check: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	return d.pendingKey(ctx, models.SeriesContentKey(title))
}

func (d *Detector) chapterDuplicate(ctx context.Context, seriesID, number, groupID string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chapters WHERE series_id = ? AND number = ? AND group_id = ?
	`, seriesID, number, groupID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("canonical chapter check: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	return d.pendingKey(ctx, models.ChapterContentKey(seriesID, number, groupID))
}

func (d *Detector) pendingKey(ctx context.Context, contentKey string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE content_key = ? AND status = ?
	`, contentKey, models.StatusPending).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending submission check: %w", err)
	}
	return n > 0, nil
}
