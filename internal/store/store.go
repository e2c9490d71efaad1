// Package store persists the search queue, scraped leads and run monitoring rows.
package store

import (
	"context"
	"strings"

	"github.com/sells-group/maps-scraper/internal/model"
)

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	SearchTerm string `json:"search_term,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scraper.
type Store interface {
	// Search queue
	ListUnusedTerms(ctx context.Context, limit int) ([]model.SearchTerm, error)
	ListTerms(ctx context.Context, includeUsed bool, limit int) ([]model.SearchTerm, error)
	AddTerms(ctx context.Context, terms []string) (int64, error)
	MarkTermUsed(ctx context.Context, term string) error

	// Leads
	NextRowNumber(ctx context.Context) (int64, error)
	InsertLead(ctx context.Context, lead *model.Lead) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Monitoring
	UpsertProgress(ctx context.Context, p model.Progress) error
	GetProgress(ctx context.Context, runKey string) (*model.Progress, error)
	InsertEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, runKey string, limit int) ([]model.Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// leadColumns is the insert column order shared by both backends.
var leadColumns = []string{
	"id", "row_number", "search_term", "title", "title_key", "address", "phone_number",
	"rating", "category", "webpage", "working_hours", "map_link", "cover_image", "used", "created_at",
}

func leadArgs(l *model.Lead) []any {
	return []any{
		l.ID, l.RowNumber, l.SearchTerm, l.Title, l.TitleKey(), l.Address, l.Phone,
		l.Rating, l.Category, l.Website, l.WorkingHours, l.MapLink, l.CoverImage, l.Used, l.CreatedAt,
	}
}

// progressColumns is the upsert column order for scraper_progress.
var progressColumns = []string{
	"run_key", "external_run_id", "status", "current_action", "current_search",
	"current_search_index", "total_searches", "counters", "error_message",
	"started_at", "completed_at", "updated_at",
}

// eventColumns is the insert column order for scraper_events.
var eventColumns = []string{
	"id", "run_key", "external_run_id", "level", "event_type", "message", "search",
	"search_index", "businesses_extracted", "businesses_inserted_or_skipped",
	"searches_marked_used", "created_at",
}

const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// cleanTerms trims terms and drops blanks and in-batch repeats, keeping order.
func cleanTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
