package models

import "time"

// Series is a published, publicly addressable series. Created exactly once
// per approved series submission; the promotion engine is the only writer.
type Series struct {
	ID            string    `json:"id"` // canonical ID (slug)
	Title         string    `json:"title"`
	Genres        []string  `json:"genres"`
	Status        string    `json:"status"`
	TotalChapters int       `json:"total_chapters,omitempty"`
	Description   string    `json:"description,omitempty"`
	CoverURL      string    `json:"cover_url,omitempty"`
	GroupID       string    `json:"group_id"`
	SubmissionID  string    `json:"submission_id"`
	CreatedAt     time.Time `json:"created_at"`
}
