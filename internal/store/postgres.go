package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/db"
	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection settings.
type PoolConfig struct {
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	Password string `yaml:"-" mapstructure:"-"`
}

var (
	upsertProgressSQL = mustUpsertSQL(db.UpsertConfig{
		Table:        "scraper_progress",
		Columns:      progressColumns,
		ConflictKeys: []string{"run_key"},
		UpdateCols: []string{
			"external_run_id", "status", "current_action", "current_search",
			"current_search_index", "total_searches", "counters", "error_message",
			"completed_at", "updated_at",
		},
	})
	insertLeadSQL  = db.InsertSQL("leads", leadColumns)
	insertEventSQL = db.InsertSQL("scraper_events", eventColumns)
)

func mustUpsertSQL(cfg db.UpsertConfig) string {
	sql, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return sql
}

// preparedStatements lists queries to prepare on each new connection for
// the per-listing and per-event hot paths.
var preparedStatements = map[string]string{
	"insert_lead":     insertLeadSQL,
	"insert_event":    insertEventSQL,
	"upsert_progress": upsertProgressSQL,
	"mark_term_used":  `UPDATE search_terms SET used = TRUE, used_at = $2 WHERE term = $1 AND used = FALSE`,
}

// NewPostgres creates a PostgresStore with a connection pool. The initial
// ping is retried on transient network errors.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.Password != "" {
			pgxCfg.ConnConfig.Password = poolCfg.Password
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				zap.L().Debug("postgres: skip prepare", zap.String("statement", name), zap.Error(err))
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = func(attempt int, err error) {
		zap.L().Warn("postgres: ping failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS search_terms (
	term       TEXT PRIMARY KEY,
	used       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	used_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_search_terms_unused ON search_terms(created_at) WHERE used = FALSE;

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	row_number    BIGINT NOT NULL,
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
	used          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_title_key ON leads(title_key);
CREATE INDEX IF NOT EXISTS idx_leads_row_number ON leads(row_number);
CREATE INDEX IF NOT EXISTS idx_leads_search_term ON leads(search_term);

CREATE TABLE IF NOT EXISTS scraper_progress (
	run_key              TEXT PRIMARY KEY,
	external_run_id      TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	current_action       TEXT NOT NULL DEFAULT '',
	current_search       TEXT NOT NULL DEFAULT '',
	current_search_index INTEGER NOT NULL DEFAULT 0,
	total_searches       INTEGER NOT NULL DEFAULT 0,
	counters             JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_message        TEXT NOT NULL DEFAULT '',
	started_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at         TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_events (
	id                             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	created_at                     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scraper_events_run_key ON scraper_events(run_key, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Search queue ---

func (s *PostgresStore) ListUnusedTerms(ctx context.Context, limit int) ([]model.SearchTerm, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT term, used, created_at, used_at FROM search_terms WHERE used = FALSE ORDER BY created_at, term LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unused terms")
	}
	return collectTerms(rows)
}

func (s *PostgresStore) ListTerms(ctx context.Context, includeUsed bool, limit int) ([]model.SearchTerm, error) {
	query := `SELECT term, used, created_at, used_at FROM search_terms`
	if !includeUsed {
		query += ` WHERE used = FALSE`
	}
	query += ` ORDER BY created_at, term LIMIT $1`

	rows, err := s.pool.Query(ctx, query, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terms")
	}
	return collectTerms(rows)
}

func collectTerms(rows pgx.Rows) ([]model.SearchTerm, error) {
	defer rows.Close()
	var terms []model.SearchTerm
	for rows.Next() {
		var t model.SearchTerm
		if err := rows.Scan(&t.Term, &t.Used, &t.CreatedAt, &t.UsedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan term")
		}
		terms = append(terms, t)
	}
	return terms, eris.Wrap(rows.Err(), "postgres: iterate terms")
}

func (s *PostgresStore) AddTerms(ctx context.Context, terms []string) (int64, error) {
	terms = cleanTerms(terms)
	now := time.Now().UTC()
	rows := make([][]any, len(terms))
	for i, t := range terms {
		rows[i] = []any{t, false, now}
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.UpsertConfig{
		Table:        "search_terms",
		Columns:      []string{"term", "used", "created_at"},
		ConflictKeys: []string{"term"},
	}, rows)
	return n, eris.Wrap(err, "postgres: add terms")
}

func (s *PostgresStore) MarkTermUsed(ctx context.Context, term string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_terms SET used = TRUE, used_at = $2 WHERE term = $1 AND used = FALSE`,
		term, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark term used %q", term)
}

// --- Leads ---

func (s *PostgresStore) NextRowNumber(ctx context.Context) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(row_number), 0) + 1 FROM leads`).Scan(&next)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: next row number")
	}
	return next, nil
}

// InsertLead inserts one lead. A duplicate title surfaces as the driver's
// unique-violation error; callers classify it with db.IsUniqueViolation.
func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertLeadSQL, leadArgs(lead)...)
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, row_number, search_term, title, address, phone_number, rating, category, webpage, working_hours, map_link, cover_image, used, created_at FROM leads`
	args := []any{}
	if filter.SearchTerm != "" {
		args = append(args, filter.SearchTerm)
		query += ` WHERE search_term = $1`
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	query += ` ORDER BY row_number LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.RowNumber, &l.SearchTerm, &l.Title, &l.Address, &l.Phone,
			&l.Rating, &l.Category, &l.Website, &l.WorkingHours, &l.MapLink, &l.CoverImage,
			&l.Used, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

// --- Monitoring ---

func (s *PostgresStore) UpsertProgress(ctx context.Context, p model.Progress) error {
	counters, err := json.Marshal(p.Counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	_, err = s.pool.Exec(ctx, upsertProgressSQL,
		p.RunKey, p.ExternalRunID, string(p.Status), p.CurrentAction, p.CurrentSearch,
		p.CurrentSearchIndex, p.TotalSearches, counters, p.ErrorMessage,
		p.StartedAt, p.CompletedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert progress %s", p.RunKey)
}

// GetProgress returns nil, nil when the run has no progress row.
func (s *PostgresStore) GetProgress(ctx context.Context, runKey string) (*model.Progress, error) {
	var (
		p        model.Progress
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT run_key, external_run_id, status, current_action, current_search, current_search_index, total_searches, counters, error_message, started_at, completed_at, updated_at FROM scraper_progress WHERE run_key = $1`,
		runKey,
	).Scan(&p.RunKey, &p.ExternalRunID, &status, &p.CurrentAction, &p.CurrentSearch,
		&p.CurrentSearchIndex, &p.TotalSearches, &counters, &p.ErrorMessage,
		&p.StartedAt, &p.CompletedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get progress %s", runKey)
	}
	p.Status = model.RunStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &p.Counters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal counters")
		}
	}
	return &p, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e model.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertEventSQL,
		e.ID, e.RunKey, e.ExternalRunID, string(e.Level), string(e.Type), e.Message, e.Search,
		e.SearchIndex, e.BusinessesExtracted, e.BusinessesInsertedOrSkipped,
		e.SearchesMarkedUsed, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert event %s", e.Type)
}

// ListEvents returns the most recent events for a run, oldest first.
func (s *PostgresStore) ListEvents(ctx context.Context, runKey string, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_key, external_run_id, level, event_type, message, search, search_index, businesses_extracted, businesses_inserted_or_skipped, searches_marked_used, created_at FROM (SELECT * FROM scraper_events WHERE run_key = $1 ORDER BY created_at DESC LIMIT $2) recent ORDER BY created_at`,
		runKey, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", runKey)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e           model.Event
			level, kind string
		)
		if err := rows.Scan(&e.ID, &e.RunKey, &e.ExternalRunID, &level, &kind, &e.Message, &e.Search,
			&e.SearchIndex, &e.BusinessesExtracted, &e.BusinessesInsertedOrSkipped,
			&e.SearchesMarkedUsed, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.Level = model.EventLevel(level)
		e.Type = model.EventType(kind)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate events")
}
