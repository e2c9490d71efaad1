package model

import (
	"strings"
	"time"
)

// SearchTerm is one queued search query. Term is the unique key; Used flips
// to true once a run has loaded the term's search page.
type SearchTerm struct {
	Term      string     `json:"term"`
	Used      bool       `json:"used"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Business is one record extracted from a listing detail page. Only Title is
// required; every other field is best-effort.
type Business struct {
	Title        string `json:"title"`
	Address      string `json:"address,omitempty"`
	Phone        string `json:"phone_number,omitempty"`
	Rating       string `json:"rating,omitempty"`
	Category     string `json:"category,omitempty"`
	Website      string `json:"webpage,omitempty"`
	WorkingHours string `json:"working_hours,omitempty"`
	MapLink      string `json:"map_link,omitempty"`
	CoverImage   string `json:"cover_image,omitempty"`
}

// Valid reports whether the record carries the mandatory title.
func (b Business) Valid() bool {
	return strings.TrimSpace(b.Title) != ""
}

// TitleKey returns the normalized title the store enforces uniqueness on.
func (b Business) TitleKey() string {
	return TitleKey(b.Title)
}

// TitleKey lowercases a title and collapses runs of whitespace.
func TitleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Lead is a persisted Business.
type Lead struct {
	ID         string    `json:"id"`
	RowNumber  int64     `json:"row_number"`
	SearchTerm string    `json:"search_term"`
	Used       bool      `json:"used"`
	CreatedAt  time.Time `json:"created_at"`
	Business
}
