package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Solo Leveling", "solo-leveling"},
		{"  Tower of God  ", "tower-of-god"},
		{"Dr. STONE!!", "dr-stone"},
		{"One---Piece", "one-piece"},
		{"86 -Eighty Six-", "86-eighty-six"},
		{"...", ""},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}
}

func TestContentKeys(t *testing.T) {
	assert.Equal(t, "series:solo-leveling", SeriesContentKey("Solo Leveling"))

	// same chapter from different groups gets different keys
	a := ChapterContentKey("solo-leveling", "12.5", "group-a")
	b := ChapterContentKey("solo-leveling", "12.5", "group-b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "chapter:solo-leveling:12.5:group-a", a)

	// whitespace in number does not fork the key
	assert.Equal(t, a, ChapterContentKey("solo-leveling", " 12.5 ", "group-a"))
}

func TestSubmission_PagesFiltersAndKeepsOrder(t *testing.T) {
	s := Submission{Manifest: []ManifestEntry{
		{Path: "p1", Role: RolePage, Index: 1},
		{Path: "c", Role: RoleCover},
		{Path: "p2", Role: RolePage, Index: 2},
		{Path: "x", Role: RoleExtra, Index: 1},
		{Path: "p3", Role: RolePage, Index: 3},
	}}

	pages := s.Pages()
	assert.Len(t, pages, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{pages[0].Path, pages[1].Path, pages[2].Path})
}
