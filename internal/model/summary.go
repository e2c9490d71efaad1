package model

import "time"

// RunStatus is the lifecycle state of a scrape run.
type RunStatus string

const (
	RunStatusInitializing        RunStatus = "initializing"
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
)

// IsTerminal reports whether no further updates follow this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed:
		return true
	}
	return false
}

// MaxSampleErrors bounds RunSummary.SampleErrors.
const MaxSampleErrors = 25

// SampleError is one recorded failure, tagged with the term it belongs to.
type SampleError struct {
	Search string `json:"search,omitempty"`
	Error  string `json:"error"`
}

// Counters are the running totals shared by the summary and progress rows.
type Counters struct {
	SearchesTotal      int `json:"searches_total"`
	SearchesProcessed  int `json:"searches_processed"`
	SearchesLoadedOK   int `json:"searches_loaded_ok"`
	SearchesBlocked    int `json:"searches_blocked"`
	SearchesErrors     int `json:"searches_errors"`
	SearchesMarkedUsed int `json:"searches_marked_used"`

	ListingsFound   int `json:"listings_found"`
	ListingsSkipped int `json:"listings_skipped"`
	ListingsFailed  int `json:"listings_failed"`

	BusinessesExtracted         int `json:"businesses_extracted"`
	BusinessesInserted          int `json:"businesses_inserted"`
	BusinessesDuplicates        int `json:"businesses_duplicates"`
	BusinessesInsertedOrSkipped int `json:"businesses_inserted_or_skipped"`
	BusinessesFailed            int `json:"businesses_failed"`
}

// RunSummary is the machine-readable result of one run. It is written to the
// summary artifact on every exit path.
type RunSummary struct {
	RunKey        string     `json:"run_key,omitempty"`
	ExternalRunID string     `json:"external_run_id,omitempty"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	Counters
	SampleErrors []SampleError `json:"sample_errors"`
	Error        string        `json:"error,omitempty"`
}

// NewRunSummary starts a summary in the running state.
func NewRunSummary(runKey, externalRunID string, now time.Time) *RunSummary {
	return &RunSummary{
		RunKey:        runKey,
		ExternalRunID: externalRunID,
		Status:        RunStatusRunning,
		StartedAt:     now.UTC(),
		SampleErrors:  []SampleError{},
	}
}

// AddError records a failure. Only the first MaxSampleErrors are kept.
func (s *RunSummary) AddError(search, msg string) {
	if len(s.SampleErrors) >= MaxSampleErrors {
		return
	}
	s.SampleErrors = append(s.SampleErrors, SampleError{Search: search, Error: msg})
}

// Finish stamps the finish time and settles the terminal status. A non-nil
// fatal error always yields RunStatusFailed.
func (s *RunSummary) Finish(now time.Time, fatal error) {
	t := now.UTC()
	s.FinishedAt = &t

	switch {
	case fatal != nil:
		s.Status = RunStatusFailed
		s.Error = fatal.Error()
		s.AddError("", fatal.Error())
	case s.SearchesErrors > 0 || s.BusinessesFailed > 0 || s.ListingsFailed > 0:
		s.Status = RunStatusCompletedWithErrors
	default:
		s.Status = RunStatusCompleted
	}
}
