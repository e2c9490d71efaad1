package model

import "time"

// Progress actions reported while a run advances.
const (
	ActionInitializing  = "initializing"
	ActionLoadedQueue   = "loaded_search_queue"
	ActionLoadingSearch = "loading_search"
	ActionExtracted     = "extracted_businesses"
	ActionInserted      = "inserted_businesses"
	ActionMarkingUsed   = "marking_search_used"
	ActionMarkedUsed    = "search_marked_used"
	ActionLeftUnused    = "search_left_unused"
	ActionWaiting       = "waiting_between_searches"
	ActionCompleted     = "completed"
	ActionFailed        = "failed"
)

// Progress is the single overwritten status row for a run.
type Progress struct {
	RunKey             string    `json:"run_key"`
	ExternalRunID      string    `json:"external_run_id,omitempty"`
	Status             RunStatus `json:"status"`
	CurrentAction      string    `json:"current_action"`
	CurrentSearch      string    `json:"current_search,omitempty"`
	CurrentSearchIndex int       `json:"current_search_index"`
	TotalSearches      int       `json:"total_searches"`
	Counters
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EventLevel is the severity of an Event.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// EventType classifies an Event on the run timeline.
type EventType string

const (
	EventInit           EventType = "INIT"
	EventQueue          EventType = "QUEUE"
	EventSearchStart    EventType = "SEARCH_START"
	EventSearchBlocked  EventType = "SEARCH_BLOCKED"
	EventSearchError    EventType = "SEARCH_ERROR"
	EventNoListings     EventType = "NO_LISTINGS"
	EventListingsFound  EventType = "LISTINGS_FOUND"
	EventExtract        EventType = "EXTRACT"
	EventItemExtracted  EventType = "ITEM_EXTRACTED"
	EventDBInsert       EventType = "DB_INSERT"
	EventDBDuplicate    EventType = "DB_DUPLICATE"
	EventDBError        EventType = "DB_ERROR"
	EventSearchMarkUsed EventType = "SEARCH_MARK_USED"
	EventMarkUsedError  EventType = "MARK_USED_ERROR"
	EventComplete       EventType = "COMPLETE"
	EventFatal          EventType = "FATAL"
)

// Event is one append-only row on a run's timeline. The pointer fields are
// optional context.
type Event struct {
	ID                          string     `json:"id"`
	RunKey                      string     `json:"run_key"`
	ExternalRunID               string     `json:"external_run_id,omitempty"`
	Level                       EventLevel `json:"level"`
	Type                        EventType  `json:"event_type"`
	Message                     string     `json:"message"`
	Search                      string     `json:"search,omitempty"`
	SearchIndex                 *int       `json:"search_index,omitempty"`
	BusinessesExtracted         *int       `json:"businesses_extracted,omitempty"`
	BusinessesInsertedOrSkipped *int       `json:"businesses_inserted_or_skipped,omitempty"`
	SearchesMarkedUsed          *int       `json:"searches_marked_used,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
}
