package models

import "time"

// Chapter is a published chapter of a series. Pages hold the final public
// asset URLs in reading order.
type Chapter struct {
	ID           string    `json:"id"`
	SeriesID     string    `json:"series_id"`
	GroupID      string    `json:"group_id"`
	Number       string    `json:"number"` // string to allow "12.5", "extra"
	Title        string    `json:"title,omitempty"`
	Pages        []string  `json:"pages"`
	SubmissionID string    `json:"submission_id"`
	CreatedAt    time.Time `json:"created_at"`
}
