package runner

import (
	"context"
	"errors"

	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/persist"
	"github.com/sells-group/maps-scraper/internal/scrape"
)

type fakeQueue struct {
	terms []string
	err   error
	limit int
}

func (q *fakeQueue) ListUnusedTerms(_ context.Context, limit int) ([]model.SearchTerm, error) {
	q.limit = limit
	if q.err != nil {
		return nil, q.err
	}
	out := make([]model.SearchTerm, len(q.terms))
	for i, t := range q.terms {
		out[i] = model.SearchTerm{Term: t}
	}
	return out, nil
}

type fakeSearcher struct {
	results map[string]scrape.SearchResult
	panicOn string
	// cancel, when set, is called while searching cancelOn.
	cancel   context.CancelFunc
	cancelOn string
	calls    []string
}

func (s *fakeSearcher) Search(_ context.Context, term string) scrape.SearchResult {
	s.calls = append(s.calls, term)
	if term == s.panicOn {
		panic("page crashed")
	}
	if term == s.cancelOn && s.cancel != nil {
		s.cancel()
	}
	res, ok := s.results[term]
	if !ok {
		return scrape.SearchResult{Term: term, Status: scrape.StatusLoaded, Note: scrape.NoteNoListings}
	}
	res.Term = term
	return res
}

type fakePersister struct {
	failTitles map[string]bool
	dupTitles  map[string]bool
	markErr    map[string]error
	// panicOn makes Insert panic for that title.
	panicOn  string
	inserted []string
	marked   []string
}

func (p *fakePersister) Insert(_ context.Context, _ string, b model.Business) (persist.Outcome, error) {
	if b.Title == p.panicOn {
		panic("driver bug")
	}
	switch {
	case p.failTitles[b.Title]:
		return persist.Failed, errors.New("persist: insert lead: connection reset")
	case p.dupTitles[b.Title]:
		return persist.Duplicate, nil
	}
	p.inserted = append(p.inserted, b.Title)
	return persist.Inserted, nil
}

func (p *fakePersister) MarkConsumed(_ context.Context, term string) error {
	if err := p.markErr[term]; err != nil {
		return err
	}
	p.marked = append(p.marked, term)
	return nil
}

type recordingMonitor struct {
	progress []model.Progress
	events   []model.Event
}

func (m *recordingMonitor) UpdateProgress(_ context.Context, p model.Progress) {
	m.progress = append(m.progress, p)
}

func (m *recordingMonitor) LogEvent(_ context.Context, e model.Event) {
	m.events = append(m.events, e)
}

func (m *recordingMonitor) eventTypes() []model.EventType {
	out := make([]model.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *recordingMonitor) actions() []string {
	var out []string
	for _, p := range m.progress {
		if len(out) == 0 || out[len(out)-1] != p.CurrentAction {
			out = append(out, p.CurrentAction)
		}
	}
	return out
}

func (m *recordingMonitor) last() model.Progress {
	return m.progress[len(m.progress)-1]
}

func businesses(titles ...string) []model.Business {
	out := make([]model.Business, len(titles))
	for i, t := range titles {
		out[i] = model.Business{Title: t}
	}
	return out
}
