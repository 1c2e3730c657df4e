package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"scanhub/internal/pipeline"
	"scanhub/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const submissionCols = `
	id, kind, content_key, group_id, submitter_id, manifest, metadata,
	status, reviewer_id, review_notes, canonical_id, created_at, reviewed_at
`

// Create inserts a new pending submission. The partial unique index on
// (content_key, status=pending) is the authoritative duplicate guard; a
// constraint violation here is reported as a DuplicateError so concurrent
// duplicate attempts lose cleanly.
func (r *Repo) Create(ctx context.Context, s models.Submission) error {
	manifestJSON, err := json.Marshal(s.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO submissions (id, kind, content_key, group_id, submitter_id, manifest, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Kind, s.ContentKey, s.GroupID, s.SubmitterID, string(manifestJSON), string(metaJSON), models.StatusPending)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
			return &pipeline.DuplicateError{ContentKey: s.ContentKey, Kind: s.Kind}
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+submissionCols+`
		FROM submissions
		WHERE id = ?
	`, id)

	s, err := scanSubmission(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return s, nil
}

func (r *Repo) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Submission, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE status = ?
	`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+submissionCols+`
		FROM submissions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Submission, 0, limit)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows err: %w", err)
	}
	return out, total, nil
}

// HasPendingKey is the fast duplicate pre-filter against pending submissions.
func (r *Repo) HasPendingKey(ctx context.Context, contentKey string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE content_key = ? AND status = ?
	`, contentKey, models.StatusPending).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending key check: %w", err)
	}
	return n > 0, nil
}

// PendingManifestPaths returns every staged path referenced by a pending
// submission, for the reconciliation sweep.
func (r *Repo) PendingManifestPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT manifest FROM submissions WHERE status = ?
	`, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("pending manifests: %w", err)
	}
	defer rows.Close()

	keep := make(map[string]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		var manifest []models.ManifestEntry
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			continue
		}
		for _, e := range manifest {
			keep[e.Path] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return keep, nil
}

// MarkRejected commits the pending -> rejected transition with an atomic
// compare-and-set on status. Returns false when the submission was not
// pending (already processed by someone else).
func (r *Repo) MarkRejected(ctx context.Context, id, reviewerID, notes string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, reviewer_id = ?, review_notes = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, models.StatusRejected, reviewerID, notes, time.Now().UTC(), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark rejected: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CommitSeriesApproval writes the canonical series record and flips the
// submission to approved in one transaction. The status CAS runs first so a
// lost approval race surfaces as a clean false instead of a canonical-row
// constraint error; the rollback makes sure a submission is never left
// approved without its canonical record, or the reverse.
func (r *Repo) CommitSeriesApproval(ctx context.Context, subID, reviewerID string, s models.Series) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approval tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := approveSubmissionTx(ctx, tx, subID, reviewerID, s.ID)
	if err != nil || !ok {
		return ok, err
	}

	genresJSON, err := json.Marshal(s.Genres)
	if err != nil {
		return false, fmt.Errorf("marshal genres: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO series (id, title, title_key, genres, status, description, cover_url, group_id, submission_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Title, models.Slugify(s.Title), string(genresJSON), s.Status, s.Description, s.CoverURL, s.GroupID, subID); err != nil {
		return false, fmt.Errorf("insert series: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approval: %w", err)
	}
	return true, nil
}

// CommitChapterApproval is the chapter counterpart: inserts the canonical
// chapter, bumps the series chapter count, and flips the submission.
func (r *Repo) CommitChapterApproval(ctx context.Context, subID, reviewerID string, ch models.Chapter) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approval tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := approveSubmissionTx(ctx, tx, subID, reviewerID, ch.ID)
	if err != nil || !ok {
		return ok, err
	}

	pagesJSON, err := json.Marshal(ch.Pages)
	if err != nil {
		return false, fmt.Errorf("marshal pages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chapters (id, series_id, group_id, number, title, pages, submission_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.SeriesID, ch.GroupID, ch.Number, ch.Title, string(pagesJSON), subID); err != nil {
		return false, fmt.Errorf("insert chapter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE series SET total_chapters = total_chapters + 1 WHERE id = ?
	`, ch.SeriesID); err != nil {
		return false, fmt.Errorf("bump chapter count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approval: %w", err)
	}
	return true, nil
}

func approveSubmissionTx(ctx context.Context, tx *sql.Tx, subID, reviewerID, canonicalID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, reviewer_id = ?, canonical_id = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, models.StatusApproved, reviewerID, canonicalID, time.Now().UTC(), subID, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark approved: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		s            models.Submission
		manifestJSON string
		metaJSON     string
		reviewerID   sql.NullString
		reviewNotes  sql.NullString
		canonicalID  sql.NullString
		reviewedAt   sql.NullTime
	)

	if err := row.Scan(
		&s.ID, &s.Kind, &s.ContentKey, &s.GroupID, &s.SubmitterID,
		&manifestJSON, &metaJSON, &s.Status,
		&reviewerID, &reviewNotes, &canonicalID, &s.CreatedAt, &reviewedAt,
	); err != nil {
		return nil, err
	}

	s.ReviewerID = reviewerID.String
	s.ReviewNotes = reviewNotes.String
	s.CanonicalID = canonicalID.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		s.ReviewedAt = &t
	}

	_ = json.Unmarshal([]byte(manifestJSON), &s.Manifest)
	_ = json.Unmarshal([]byte(metaJSON), &s.Metadata)
	return &s, nil
}
