// Package runner drives the search-term backlog through the scraper one
// term at a time, folding every outcome into a RunSummary.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/monitoring"
	"github.com/sells-group/maps-scraper/internal/persist"
	"github.com/sells-group/maps-scraper/internal/scrape"
)

// Queue supplies the backlog of unconsumed terms.
type Queue interface {
	ListUnusedTerms(ctx context.Context, limit int) ([]model.SearchTerm, error)
}

// Searcher runs one term.
type Searcher interface {
	Search(ctx context.Context, term string) scrape.SearchResult
}

// Persister stores records and consumes terms.
type Persister interface {
	Insert(ctx context.Context, term string, b model.Business) (persist.Outcome, error)
	MarkConsumed(ctx context.Context, term string) error
}

// Options tunes a run.
type Options struct {
	QueueLimit int
	TermPause  time.Duration
}

// DefaultQueueLimit caps how many terms one run takes from the backlog.
const DefaultQueueLimit = 1000

// Runner processes the backlog sequentially.
type Runner struct {
	queue   Queue
	search  Searcher
	persist Persister
	mon     monitoring.Monitor
	opts    Options
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	log     *zap.Logger
}

// New returns a Runner. A nil monitor is replaced by monitoring.Noop.
func New(q Queue, s Searcher, p Persister, mon monitoring.Monitor, opts Options) *Runner {
	if mon == nil {
		mon = monitoring.Noop{}
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	return &Runner{
		queue:   q,
		search:  s,
		persist: p,
		mon:     mon,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
		log:     zap.L().With(zap.String("component", "runner")),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run is the state of one Run call.
type run struct {
	*Runner
	sum  *model.RunSummary
	prog model.Progress
	// pending is the report of the term in flight, shown in progress rows
	// before it is folded into sum.
	pending     *termReport
	pendingTerm string
}

// Run processes every unconsumed term and settles sum. It returns the fatal
// error that ended the run early, if any. Per-term and per-listing failures
// are counted in sum, never returned. The terminal progress row and event
// are emitted on every path, including panics.
func (r *Runner) Run(ctx context.Context, sum *model.RunSummary) (err error) {
	st := &run{Runner: r, sum: sum}
	st.prog = model.Progress{StartedAt: sum.StartedAt}

	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("runner: panic: %v", p)
			r.log.Error("runner: recovered panic", zap.Error(err), zap.Stack("stack"))
		}
		st.finish(ctx, err)
	}()

	return st.loop(ctx)
}

func (st *run) loop(ctx context.Context) error {
	st.progress(ctx, func(p *model.Progress) {
		p.Status = model.RunStatusInitializing
		p.CurrentAction = model.ActionInitializing
	})
	st.event(ctx, model.Event{Type: model.EventInit, Message: "Scraper initializing"})

	terms, err := st.queue.ListUnusedTerms(ctx, st.opts.QueueLimit)
	if err != nil {
		return eris.Wrap(err, "runner: load search queue")
	}
	st.sum.SearchesTotal = len(terms)
	st.log.Info("runner: loaded search queue", zap.Int("searches", len(terms)))

	st.progress(ctx, func(p *model.Progress) {
		p.Status = model.RunStatusRunning
		p.CurrentAction = model.ActionLoadedQueue
		p.TotalSearches = len(terms)
	})
	st.event(ctx, model.Event{Type: model.EventQueue, Message: fmt.Sprintf("Loaded %d unused searches", len(terms))})

	for i, t := range terms {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "runner: interrupted")
		}
		if err := st.term(ctx, i+1, t.Term); err != nil {
			return err
		}
		st.sum.SearchesProcessed = i + 1

		if i == len(terms)-1 {
			break
		}
		st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionWaiting })
		if err := st.sleep(ctx, st.opts.TermPause); err != nil {
			return eris.Wrap(err, "runner: interrupted")
		}
	}
	return nil
}

// term runs one search and folds its outcome into the summary.
func (st *run) term(ctx context.Context, idx int, term string) error {
	log := st.log.With(zap.String("search", term), zap.Int("index", idx))

	st.progress(ctx, func(p *model.Progress) {
		p.CurrentAction = model.ActionLoadingSearch
		p.CurrentSearch = term
		p.CurrentSearchIndex = idx
	})
	st.event(ctx, st.termEvent(model.EventSearchStart, idx, term, "Starting search: "+term))

	res := st.search.Search(ctx, term)
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "runner: interrupted during %q", term)
	}

	rep := termReport{
		loaded:         res.Status == scrape.StatusLoaded,
		blocked:        res.Status == scrape.StatusBlocked,
		links:          res.LinksFound,
		skipped:        res.Skipped,
		failedListings: res.Failed,
		extracted:      len(res.Businesses),
	}
	st.pending, st.pendingTerm = &rep, term
	st.reportSearch(ctx, idx, term, res, &rep)

	st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionExtracted })
	ev := st.termEvent(model.EventExtract, idx, term, fmt.Sprintf("Extracted %d businesses", rep.extracted))
	ev.BusinessesExtracted = intPtr(rep.extracted)
	st.event(ctx, ev)

	for _, b := range res.Businesses {
		st.insert(ctx, idx, term, b, &rep)
	}
	ev = st.termEvent(model.EventDBInsert, idx, term, fmt.Sprintf("Inserted/skipped %d businesses", rep.stored()))
	ev.BusinessesInsertedOrSkipped = intPtr(rep.stored())
	st.event(ctx, ev)
	st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionInserted })

	if rep.loaded {
		st.markConsumed(ctx, idx, term, &rep)
	} else {
		st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionLeftUnused })
	}

	st.pending = nil
	rep.apply(st.sum, term)
	log.Info("runner: search done",
		zap.String("status", string(res.Status)),
		zap.Int("links", rep.links),
		zap.Int("extracted", rep.extracted),
		zap.Int("stored", rep.stored()),
		zap.Bool("marked_used", rep.marked),
	)
	return nil
}

func (st *run) reportSearch(ctx context.Context, idx int, term string, res scrape.SearchResult, rep *termReport) {
	switch res.Status {
	case scrape.StatusBlocked:
		rep.errored = true
		rep.errs = append(rep.errs, res.Note)
		ev := st.termEvent(model.EventSearchBlocked, idx, term, "Search blocked: "+res.Note)
		ev.Level = model.LevelWarn
		st.event(ctx, ev)
	case scrape.StatusLoadFailed:
		rep.errored = true
		rep.errs = append(rep.errs, res.Note)
		ev := st.termEvent(model.EventSearchError, idx, term, "Search produced an error: "+res.Note)
		ev.Level = model.LevelWarn
		st.event(ctx, ev)
	default:
		if res.LinksFound == 0 {
			ev := st.termEvent(model.EventNoListings, idx, term, "No listings found")
			ev.Level = model.LevelWarn
			st.event(ctx, ev)
		} else {
			st.event(ctx, st.termEvent(model.EventListingsFound, idx, term, fmt.Sprintf("Found %d listings", res.LinksFound)))
		}
	}
	if res.Failed > 0 {
		rep.errs = append(rep.errs, fmt.Sprintf("%d listing(s) failed", res.Failed))
	}
}

func (st *run) insert(ctx context.Context, idx int, term string, b model.Business, rep *termReport) {
	st.event(ctx, st.termEvent(model.EventItemExtracted, idx, term, "Extracted: "+b.Title))

	out, err := st.persist.Insert(ctx, term, b)
	switch out {
	case persist.Inserted:
		rep.inserted++
	case persist.Duplicate:
		rep.duplicates++
		st.event(ctx, st.termEvent(model.EventDBDuplicate, idx, term, "Duplicate skipped: "+b.Title))
	default:
		rep.insertFailed++
		msg := "insert failed"
		if err != nil {
			msg = err.Error()
		}
		rep.errs = append(rep.errs, msg)
		ev := st.termEvent(model.EventDBError, idx, term, fmt.Sprintf("Insert failed for %s: %s", b.Title, truncate(msg, 200)))
		ev.Level = model.LevelError
		st.event(ctx, ev)
	}
}

func (st *run) markConsumed(ctx context.Context, idx int, term string, rep *termReport) {
	st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionMarkingUsed })

	if err := st.persist.MarkConsumed(ctx, term); err != nil {
		rep.errored = true
		rep.errs = append(rep.errs, "mark_used: "+err.Error())
		ev := st.termEvent(model.EventMarkUsedError, idx, term, "Failed to mark search as used: "+truncate(err.Error(), 200))
		ev.Level = model.LevelError
		st.event(ctx, ev)
		return
	}
	rep.marked = true
	st.progress(ctx, func(p *model.Progress) { p.CurrentAction = model.ActionMarkedUsed })
	ev := st.termEvent(model.EventSearchMarkUsed, idx, term, "Marked search as used")
	ev.SearchesMarkedUsed = intPtr(1)
	st.event(ctx, ev)
}

// finish settles the summary and emits the terminal progress row and event.
func (st *run) finish(ctx context.Context, fatal error) {
	if st.pending != nil {
		// A panic mid-term still leaves its stored records in the summary.
		st.pending.apply(st.sum, st.pendingTerm)
		st.pending = nil
	}
	st.sum.Finish(st.now(), fatal)

	st.progress(ctx, func(p *model.Progress) {
		p.Status = st.sum.Status
		p.CurrentAction = model.ActionCompleted
		p.CompletedAt = st.sum.FinishedAt
		if fatal != nil {
			p.CurrentAction = model.ActionFailed
			p.ErrorMessage = truncate(fatal.Error(), 500)
		}
	})

	if fatal != nil {
		st.log.Error("runner: run failed", zap.Error(fatal))
		st.event(ctx, model.Event{
			Level:   model.LevelError,
			Type:    model.EventFatal,
			Message: "Scraper crashed: " + truncate(fatal.Error(), 200),
		})
		return
	}

	level := model.LevelInfo
	if st.sum.Status == model.RunStatusCompletedWithErrors {
		level = model.LevelWarn
	}
	st.log.Info("runner: run completed",
		zap.String("status", string(st.sum.Status)),
		zap.Int("searches", st.sum.SearchesTotal),
		zap.Int("marked_used", st.sum.SearchesMarkedUsed),
		zap.Int("inserted_or_skipped", st.sum.BusinessesInsertedOrSkipped),
	)
	st.event(ctx, model.Event{
		Level: level,
		Type:  model.EventComplete,
		Message: fmt.Sprintf("Scraper completed. Inserted/skipped %d total businesses.",
			st.sum.BusinessesInsertedOrSkipped),
	})
}

// progress applies fn to the run's progress row, refreshes its counters
// and pushes it to the monitor.
func (st *run) progress(ctx context.Context, fn func(*model.Progress)) {
	fn(&st.prog)
	st.prog.Counters = st.sum.Counters
	if st.pending != nil {
		st.pending.addTo(&st.prog.Counters)
	}
	st.mon.UpdateProgress(ctx, st.prog)
}

func (st *run) event(ctx context.Context, e model.Event) {
	st.mon.LogEvent(ctx, e)
}

func (st *run) termEvent(typ model.EventType, idx int, term, msg string) model.Event {
	return model.Event{
		Level:       model.LevelInfo,
		Type:        typ,
		Message:     msg,
		Search:      term,
		SearchIndex: intPtr(idx),
	}
}

func intPtr(v int) *int { return &v }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
