package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/maps-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_terms (
	term       TEXT PRIMARY KEY,
	used       BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	used_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_search_terms_used ON search_terms(used, created_at);

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	row_number    INTEGER NOT NULL,
	search_term   TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	title_key     TEXT NOT NULL,
	address       TEXT NOT NULL DEFAULT '',
	phone_number  TEXT NOT NULL DEFAULT '',
	rating        TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	webpage       TEXT NOT NULL DEFAULT '',
	working_hours TEXT NOT NULL DEFAULT '',
	map_link      TEXT NOT NULL DEFAULT '',
	cover_image   TEXT NOT NULL DEFAULT '',
	used          BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_title_key ON leads(title_key);
CREATE INDEX IF NOT EXISTS idx_leads_row_number ON leads(row_number);

CREATE TABLE IF NOT EXISTS scraper_progress (
	run_key              TEXT PRIMARY KEY,
	external_run_id      TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	current_action       TEXT NOT NULL DEFAULT '',
	current_search       TEXT NOT NULL DEFAULT '',
	current_search_index INTEGER NOT NULL DEFAULT 0,
	total_searches       INTEGER NOT NULL DEFAULT 0,
	counters             TEXT NOT NULL DEFAULT '{}',
	error_message        TEXT NOT NULL DEFAULT '',
	started_at           DATETIME NOT NULL,
	completed_at         DATETIME,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scraper_events (
	id                             TEXT PRIMARY KEY,
	run_key                        TEXT NOT NULL,
	external_run_id                TEXT NOT NULL DEFAULT '',
	level                          TEXT NOT NULL,
	event_type                     TEXT NOT NULL,
	message                        TEXT NOT NULL,
	search                         TEXT NOT NULL DEFAULT '',
	search_index                   INTEGER,
	businesses_extracted           INTEGER,
	businesses_inserted_or_skipped INTEGER,
	searches_marked_used           INTEGER,
	created_at                     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scraper_events_run_key ON scraper_events(run_key, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Search queue ---

func (s *SQLiteStore) ListUnusedTerms(ctx context.Context, limit int) ([]model.SearchTerm, error) {
	return s.ListTerms(ctx, false, limit)
}

func (s *SQLiteStore) ListTerms(ctx context.Context, includeUsed bool, limit int) ([]model.SearchTerm, error) {
	query := `SELECT term, used, created_at, used_at FROM search_terms`
	if !includeUsed {
		query += ` WHERE used = 0`
	}
	query += ` ORDER BY created_at, rowid LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terms")
	}
	defer rows.Close()

	var terms []model.SearchTerm
	for rows.Next() {
		var (
			t      model.SearchTerm
			usedAt sql.NullTime
		)
		if err := rows.Scan(&t.Term, &t.Used, &t.CreatedAt, &usedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan term")
		}
		if usedAt.Valid {
			t.UsedAt = &usedAt.Time
		}
		terms = append(terms, t)
	}
	return terms, eris.Wrap(rows.Err(), "sqlite: iterate terms")
}

func (s *SQLiteStore) AddTerms(ctx context.Context, terms []string) (int64, error) {
	terms = cleanTerms(terms)
	if len(terms) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: add terms: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO search_terms (term, used, created_at) VALUES (?, 0, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: add terms: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var added int64
	for _, t := range terms {
		res, err := stmt.ExecContext(ctx, t, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: add term %q", t)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: add terms: commit")
	}
	return added, nil
}

func (s *SQLiteStore) MarkTermUsed(ctx context.Context, term string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_terms SET used = 1, used_at = ? WHERE term = ? AND used = 0`,
		time.Now().UTC(), term,
	)
	return eris.Wrapf(err, "sqlite: mark term used %q", term)
}

// --- Leads ---

func (s *SQLiteStore) NextRowNumber(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(row_number), 0) + 1 FROM leads`).Scan(&next)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: next row number")
	}
	return next, nil
}

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, row_number, search_term, title, title_key, address, phone_number, rating, category, webpage, working_hours, map_link, cover_image, used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		leadArgs(lead)...,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, row_number, search_term, title, address, phone_number, rating, category, webpage, working_hours, map_link, cover_image, used, created_at FROM leads`
	var args []any
	if filter.SearchTerm != "" {
		query += ` WHERE search_term = ?`
		args = append(args, filter.SearchTerm)
	}
	query += ` ORDER BY row_number LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.RowNumber, &l.SearchTerm, &l.Title, &l.Address, &l.Phone,
			&l.Rating, &l.Category, &l.Website, &l.WorkingHours, &l.MapLink, &l.CoverImage,
			&l.Used, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

// --- Monitoring ---

func (s *SQLiteStore) UpsertProgress(ctx context.Context, p model.Progress) error {
	counters, err := json.Marshal(p.Counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scraper_progress (run_key, external_run_id, status, current_action, current_search, current_search_index, total_searches, counters, error_message, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_key) DO UPDATE SET
			external_run_id = excluded.external_run_id,
			status = excluded.status,
			current_action = excluded.current_action,
			current_search = excluded.current_search,
			current_search_index = excluded.current_search_index,
			total_searches = excluded.total_searches,
			counters = excluded.counters,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		p.RunKey, p.ExternalRunID, string(p.Status), p.CurrentAction, p.CurrentSearch,
		p.CurrentSearchIndex, p.TotalSearches, string(counters), p.ErrorMessage,
		p.StartedAt, p.CompletedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert progress %s", p.RunKey)
}

func (s *SQLiteStore) GetProgress(ctx context.Context, runKey string) (*model.Progress, error) {
	var (
		p           model.Progress
		status      string
		counters    string
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_key, external_run_id, status, current_action, current_search, current_search_index, total_searches, counters, error_message, started_at, completed_at, updated_at FROM scraper_progress WHERE run_key = ?`,
		runKey,
	).Scan(&p.RunKey, &p.ExternalRunID, &status, &p.CurrentAction, &p.CurrentSearch,
		&p.CurrentSearchIndex, &p.TotalSearches, &counters, &p.ErrorMessage,
		&p.StartedAt, &completedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get progress %s", runKey)
	}
	p.Status = model.RunStatus(status)
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(counters), &p.Counters); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal counters")
	}
	return &p, nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, e model.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_events (id, run_key, external_run_id, level, event_type, message, search, search_index, businesses_extracted, businesses_inserted_or_skipped, searches_marked_used, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunKey, e.ExternalRunID, string(e.Level), string(e.Type), e.Message, e.Search,
		nullInt(e.SearchIndex), nullInt(e.BusinessesExtracted), nullInt(e.BusinessesInsertedOrSkipped),
		nullInt(e.SearchesMarkedUsed), e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert event %s", e.Type)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runKey string, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_key, external_run_id, level, event_type, message, search, search_index, businesses_extracted, businesses_inserted_or_skipped, searches_marked_used, created_at FROM (SELECT *, rowid AS seq FROM scraper_events WHERE run_key = ? ORDER BY created_at DESC, seq DESC LIMIT ?) ORDER BY created_at, seq`,
		runKey, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", runKey)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e                                model.Event
			level, kind                      string
			idx, extracted, inserted, marked sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.RunKey, &e.ExternalRunID, &level, &kind, &e.Message, &e.Search,
			&idx, &extracted, &inserted, &marked, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Level = model.EventLevel(level)
		e.Type = model.EventType(kind)
		e.SearchIndex = intPtr(idx)
		e.BusinessesExtracted = intPtr(extracted)
		e.BusinessesInsertedOrSkipped = intPtr(inserted)
		e.SearchesMarkedUsed = intPtr(marked)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
