package scrape

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/maps-scraper/internal/browser"
	"github.com/sells-group/maps-scraper/internal/model"
)

// SearchStatus is the term-level outcome of a search.
type SearchStatus string

const (
	// StatusLoaded means the results page was reached, even if it listed
	// nothing. Only loaded terms are consumed.
	StatusLoaded     SearchStatus = "loaded"
	StatusBlocked    SearchStatus = "blocked"
	StatusLoadFailed SearchStatus = "load_failed"
)

// Notes attached to a SearchResult.
const (
	NoteGotoTimeout = "goto_timeout"
	NoteNoListings  = "no_listings_found"
)

// SearchResult is everything one term produced.
type SearchResult struct {
	Term       string
	Status     SearchStatus
	Businesses []model.Business
	LinksFound int
	Skipped    int
	Failed     int
	Block      BlockType
	Note       string
	Err        error
}

// SearchOptions bounds a search.
type SearchOptions struct {
	BaseURL         string
	MaxResults      int
	NavTimeout      time.Duration
	ActionTimeout   time.Duration
	Settle          time.Duration
	MaxScrolls      int
	ScrollPause     time.Duration
	ScrollStep      int
	ListingInterval time.Duration
}

// maxStalls is how many scroll cycles may add no new links before
// discovery gives up.
const maxStalls = 3

const defaultScrollStep = 1200

// Searcher runs one term at a time against a single page.
type Searcher struct {
	page      browser.Page
	sel       Selectors
	opts      SearchOptions
	extractor *Extractor
	snaps     *Snapshotter
	limiter   *rate.Limiter
	sleep     func(context.Context, time.Duration) error
	log       *zap.Logger
}

// NewSearcher returns a Searcher driving page. snaps may be nil.
func NewSearcher(page browser.Page, sel Selectors, opts SearchOptions, snaps *Snapshotter) *Searcher {
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = defaultScrollStep
	}
	limit := rate.Inf
	if opts.ListingInterval > 0 {
		limit = rate.Every(opts.ListingInterval)
	}
	return &Searcher{
		page:      page,
		sel:       sel,
		opts:      opts,
		extractor: NewExtractor(sel),
		snaps:     snaps,
		limiter:   rate.NewLimiter(limit, 1),
		sleep:     sleepCtx,
		log:       zap.L().With(zap.String("component", "search")),
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

// SearchURL builds the results URL for term.
func SearchURL(base, term string) string {
	return base + url.QueryEscape(strings.TrimSpace(term))
}

// Search loads the results page for term, collects listing links and
// extracts each listing. It never returns an error directly; failures are
// reported through the result's Status, Note and Err.
func (s *Searcher) Search(ctx context.Context, term string) SearchResult {
	res := SearchResult{Term: term}
	log := s.log.With(zap.String("search", term))

	if err := s.page.Navigate(ctx, SearchURL(s.opts.BaseURL, term), s.opts.NavTimeout); err != nil {
		res.Status = StatusLoadFailed
		res.Err = err
		res.Note = loadFailureNote(err)
		log.Warn("search: load failed", zap.String("note", res.Note), zap.Error(err))
		return res
	}

	if err := s.sleep(ctx, s.opts.Settle); err != nil {
		return s.interrupted(res, err)
	}
	s.dismissConsent(ctx)

	if blocked, bt := checkBlocked(ctx, s.page); blocked {
		s.snaps.Capture(ctx, s.page, "blocked_"+string(bt))
		res.Status = StatusBlocked
		res.Block = bt
		res.Note = "blocked:" + string(bt)
		log.Warn("search: blocked", zap.String("block", string(bt)))
		return res
	}

	res.Status = StatusLoaded
	links := s.discover(ctx)
	res.LinksFound = len(links)
	if ctx.Err() != nil {
		return s.interrupted(res, ctx.Err())
	}
	if len(links) == 0 {
		s.snaps.Capture(ctx, s.page, "no_listings")
		res.Note = NoteNoListings
		log.Info("search: no listings found")
		return res
	}
	log.Info("search: listings found", zap.Int("links", len(links)))

	for i, link := range links {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.interrupted(res, err)
		}
		if !s.visit(ctx, link, i == 0 && len(links) == 1) {
			res.Failed++
			continue
		}

		if blocked, bt := checkDetailBlocked(ctx, s.page, s.sel.Title); blocked {
			s.snaps.Capture(ctx, s.page, "blocked_"+string(bt))
			res.Status = StatusBlocked
			res.Block = bt
			res.Note = "blocked:" + string(bt)
			log.Warn("search: blocked on listing", zap.String("listing", link), zap.String("block", string(bt)))
			return res
		}

		out := s.extractor.Extract(ctx, s.page)
		switch out.Status {
		case ExtractOK:
			res.Businesses = append(res.Businesses, *out.Business)
		case ExtractSkip:
			res.Skipped++
			s.snaps.Capture(ctx, s.page, "no_title")
			log.Info("search: listing has no title, skipped", zap.String("listing", link))
		default:
			if ctx.Err() != nil {
				return s.interrupted(res, ctx.Err())
			}
			res.Failed++
			s.snaps.Capture(ctx, s.page, "extract_error")
			log.Warn("search: extract failed", zap.String("listing", link), zap.Error(out.Err))
		}
	}
	return res
}

// interrupted records a cancellation. The status is left as it was so a
// loaded term still reports what it extracted.
func (s *Searcher) interrupted(res SearchResult, err error) SearchResult {
	if res.Status == "" {
		res.Status = StatusLoadFailed
	}
	res.Err = err
	return res
}

func loadFailureNote(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return NoteGotoTimeout
	}
	return "error:" + truncateRunes(err.Error(), 120)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// visit opens one listing. A search that redirected straight to a place
// page is already on its only listing.
func (s *Searcher) visit(ctx context.Context, link string, onlyListing bool) bool {
	if onlyListing {
		if cur, err := s.page.URL(ctx); err == nil && cur == link {
			return true
		}
	}
	if err := s.page.Navigate(ctx, link, s.opts.NavTimeout); err != nil {
		s.log.Warn("search: listing load failed", zap.String("listing", link), zap.Error(err))
		return false
	}
	if err := s.page.WaitVisible(ctx, s.sel.DetailReady, s.opts.ActionTimeout); err != nil {
		s.log.Debug("search: detail not ready", zap.String("listing", link), zap.Error(err))
	}
	return true
}

// dismissConsent clicks at most one consent button. Labels are checked
// before texts.
func (s *Searcher) dismissConsent(ctx context.Context) bool {
	for _, label := range s.sel.ConsentLabels {
		sel := `button[aria-label="` + strings.ReplaceAll(label, `"`, `\"`) + `"]`
		if _, err := s.page.Attr(ctx, sel, "aria-label"); err != nil {
			continue
		}
		if err := s.page.Click(ctx, sel, s.opts.ActionTimeout); err == nil {
			s.log.Debug("search: consent dismissed", zap.String("label", label))
			_ = s.sleep(ctx, 500*time.Millisecond)
			return true
		}
	}
	for _, text := range s.sel.ConsentTexts {
		if err := s.page.ClickText(ctx, "button", text, s.opts.ActionTimeout); err == nil {
			s.log.Debug("search: consent dismissed", zap.String("text", text))
			_ = s.sleep(ctx, 500*time.Millisecond)
			return true
		}
	}
	return false
}

// discover returns unique listing links in discovery order, at most
// MaxResults of them.
func (s *Searcher) discover(ctx context.Context) []string {
	if cur, err := s.page.URL(ctx); err == nil && isPlaceURL(cur) {
		return []string{cur}
	}

	c := newLinkSet(s.opts.MaxResults)
	if err := s.page.WaitVisible(ctx, s.sel.Feed, s.opts.ActionTimeout); err == nil {
		s.scrollCollect(ctx, c)
	} else {
		s.log.Debug("search: results feed not found", zap.Error(err))
	}

	if c.len() == 0 && ctx.Err() == nil {
		hrefs, err := s.page.AttrAll(ctx, s.sel.FallbackLinks, "href")
		if err != nil {
			s.log.Debug("search: fallback links failed", zap.Error(err))
		}
		c.add(hrefs)
	}
	return c.links
}

func (s *Searcher) scrollCollect(ctx context.Context, c *linkSet) {
	stalls := 0
	for cycle := 0; ; cycle++ {
		hrefs, err := s.page.AttrAll(ctx, s.sel.FeedLinks, "href")
		if err != nil {
			s.log.Debug("search: collect links failed", zap.Error(err))
		}
		if c.add(hrefs) == 0 {
			stalls++
		} else {
			stalls = 0
		}
		if c.full() || stalls >= maxStalls || cycle >= s.opts.MaxScrolls {
			return
		}
		if err := s.page.ScrollBy(ctx, s.sel.Feed, s.opts.ScrollStep); err != nil {
			s.log.Debug("search: scroll failed", zap.Error(err))
			return
		}
		if err := s.sleep(ctx, s.opts.ScrollPause); err != nil {
			return
		}
	}
}

func isPlaceURL(u string) bool {
	return strings.Contains(u, "/maps/place/")
}

type linkSet struct {
	max   int
	seen  map[string]bool
	links []string
}

func newLinkSet(max int) *linkSet {
	return &linkSet{max: max, seen: make(map[string]bool)}
}

func (l *linkSet) len() int   { return len(l.links) }
func (l *linkSet) full() bool { return l.max > 0 && len(l.links) >= l.max }

// add appends unseen links until full and returns how many were new.
func (l *linkSet) add(hrefs []string) int {
	added := 0
	for _, h := range hrefs {
		h = strings.TrimSpace(h)
		if h == "" || l.seen[h] || l.full() {
			continue
		}
		l.seen[h] = true
		l.links = append(l.links, h)
		added++
	}
	return added
}
