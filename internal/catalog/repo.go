package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"scanhub/pkg/models"
)

// Repo reads canonical content. The promotion engine is the only writer;
// everything here is read-only.
type Repo struct {
	DB *sql.DB
}

type ListQuery struct {
	Q      string   // keyword search in title
	Genres []string // any-match
	Status string
	Limit  int
	Offset int
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) GetSeries(ctx context.Context, id string) (*models.Series, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, title, genres, status, total_chapters, description, cover_url, group_id, submission_id, created_at
		FROM series
		WHERE id = ?
	`, id)

	s, err := scanSeries(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get series: %w", err)
	}
	return s, nil
}

func (r *Repo) SeriesExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM series WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("series exists: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	row := r.DB.QueryRowContext(ctx, sqlStr, args...)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) ListSeries(ctx context.Context, q ListQuery) ([]models.Series, error) {
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Series, 0, q.Limit)
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) ListChapters(ctx context.Context, seriesID string) ([]models.Chapter, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, series_id, group_id, number, title, pages, submission_id, created_at
		FROM chapters
		WHERE series_id = ?
		ORDER BY CAST(number AS REAL) ASC, created_at ASC
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []models.Chapter
	for rows.Next() {
		var (
			ch        models.Chapter
			title     sql.NullString
			pagesJSON string
		)
		if err := rows.Scan(&ch.ID, &ch.SeriesID, &ch.GroupID, &ch.Number, &title, &pagesJSON, &ch.SubmissionID, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("chapter scan: %w", err)
		}
		ch.Title = title.String
		_ = json.Unmarshal([]byte(pagesJSON), &ch.Pages)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*models.Series, error) {
	var (
		s           models.Series
		genresJSON  string
		chapters    sql.NullInt64
		description sql.NullString
		coverURL    sql.NullString
	)

	if err := row.Scan(
		&s.ID, &s.Title, &genresJSON, &s.Status, &chapters, &description, &coverURL,
		&s.GroupID, &s.SubmissionID, &s.CreatedAt,
	); err != nil {
		return nil, err
	}

	if chapters.Valid {
		s.TotalChapters = int(chapters.Int64)
	}
	s.Description = description.String
	s.CoverURL = coverURL.String

	_ = json.Unmarshal([]byte(genresJSON), &s.Genres)
	return &s, nil
}

// buildListSQL builds either COUNT(*) or SELECT list.
// genres filter is "any-match" by doing LIKE searches inside stored JSON text.
func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	baseSelect := `
		SELECT id, title, genres, status, total_chapters, description, cover_url, group_id, submission_id, created_at
		FROM series
	`
	if countOnly {
		baseSelect = `SELECT COUNT(*) FROM series`
	}

	var where []string
	var args []any

	if strings.TrimSpace(q.Q) != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(q.Q))+"%")
	}

	if strings.TrimSpace(q.Status) != "" {
		where = append(where, "LOWER(status) = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(q.Status)))
	}

	// any-match genre filter against JSON string
	if len(q.Genres) > 0 {
		var genreOr []string
		for _, g := range q.Genres {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			genreOr = append(genreOr, "LOWER(genres) LIKE ?")
			args = append(args, `%`+strings.ToLower(g)+`%`)
		}
		if len(genreOr) > 0 {
			where = append(where, "("+strings.Join(genreOr, " OR ")+")")
		}
	}

	sqlStr := baseSelect
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if !countOnly {
		sqlStr += " ORDER BY title ASC"
		sqlStr += " LIMIT ? OFFSET ?"
		limit := q.Limit
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, limit, offset)
	}

	return sqlStr, args
}
