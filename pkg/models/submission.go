package models

import (
	"fmt"
	"strings"
	"time"
)

// Submission kinds.
const (
	KindSeries  = "series"
	KindChapter = "chapter"
)

// Submission statuses. Pending is the only non-terminal state.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Manifest entry roles. Pages are required for promotion; cover and extra
// assets are best-effort.
const (
	RolePage  = "page"
	RoleCover = "cover"
	RoleExtra = "extra"
)

// ManifestEntry is one staged object belonging to a submission attempt.
// Index is the reading/page order and is preserved through promotion.
type ManifestEntry struct {
	Path  string `json:"path"`
	Role  string `json:"role"`
	Index int    `json:"index"`
}

// SubmissionMeta holds the kind-specific descriptive fields. The pipeline
// validates presence but is otherwise agnostic to their content.
type SubmissionMeta struct {
	// Series fields
	Title       string   `json:"title,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Description string   `json:"description,omitempty"`

	// Chapter fields
	SeriesID      string `json:"series_id,omitempty"`
	ChapterNumber string `json:"chapter_number,omitempty"`
	ChapterTitle  string `json:"chapter_title,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// Submission is a request to publish content, not yet public.
type Submission struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	ContentKey  string          `json:"content_key"`
	GroupID     string          `json:"group_id"`
	SubmitterID string          `json:"submitter_id"`
	Manifest    []ManifestEntry `json:"manifest"`
	Metadata    SubmissionMeta  `json:"metadata"`
	Status      string          `json:"status"`
	ReviewerID  string          `json:"reviewer_id,omitempty"`
	ReviewNotes string          `json:"review_notes,omitempty"`
	CanonicalID string          `json:"canonical_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
}

// Pages returns the page entries of the manifest in reading order.
func (s *Submission) Pages() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(s.Manifest))
	for _, e := range s.Manifest {
		if e.Role == RolePage {
			out = append(out, e)
		}
	}
	return out
}

// Slugify normalizes a title into the canonical slug / duplicate key:
// lowercase, alphanumerics kept, runs of anything else collapsed to one dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SeriesContentKey derives the duplicate-detection key for a series
// submission from its normalized title.
func SeriesContentKey(title string) string {
	return "series:" + Slugify(title)
}

// ChapterContentKey derives the duplicate-detection key for a chapter
// submission. Two groups may publish the same chapter; the same group may not
// publish it twice.
func ChapterContentKey(seriesID, number, groupID string) string {
	return fmt.Sprintf("chapter:%s:%s:%s", seriesID, strings.TrimSpace(number), groupID)
}
