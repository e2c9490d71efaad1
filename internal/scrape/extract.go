package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maps-scraper/internal/browser"
	"github.com/sells-group/maps-scraper/internal/model"
)

// ExtractStatus is the outcome of extracting one listing.
type ExtractStatus string

const (
	ExtractOK    ExtractStatus = "ok"
	ExtractSkip  ExtractStatus = "skip"
	ExtractError ExtractStatus = "error"
)

// Extraction carries a record when Status is ExtractOK and the cause when
// it is ExtractError.
type Extraction struct {
	Status   ExtractStatus
	Business *model.Business
	Err      error
}

// Extractor composes selector chains into one business record per listing.
type Extractor struct {
	sel Selectors
}

// NewExtractor returns an Extractor over sel.
func NewExtractor(sel Selectors) *Extractor {
	return &Extractor{sel: sel}
}

// Extract reads the listing currently loaded in page. A page without a
// title is skipped; every other field is optional.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) (out Extraction) {
	defer func() {
		if r := recover(); r != nil {
			out = Extraction{Status: ExtractError, Err: eris.Errorf("scrape: extract panicked: %v", r)}
		}
	}()

	link, err := page.URL(ctx)
	if err != nil {
		return Extraction{Status: ExtractError, Err: eris.Wrap(err, "scrape: extract: read url")}
	}

	title, ok := e.sel.Title.First(ctx, page, nil)
	if !ok {
		if err := ctx.Err(); err != nil {
			return Extraction{Status: ExtractError, Err: err}
		}
		return Extraction{Status: ExtractSkip}
	}

	b := &model.Business{Title: title, MapLink: link}

	if raw, ok := e.sel.Rating.First(ctx, page, func(s string) bool { return ParseRating(s) != "" }); ok {
		b.Rating = ParseRating(raw)
	}
	b.Category, _ = e.sel.Category.First(ctx, page, nil)
	if raw, ok := e.sel.Address.First(ctx, page, nil); ok {
		b.Address = stripLabel(raw, "address:")
	}
	if raw, ok := e.sel.Phone.First(ctx, page, nil); ok {
		b.Phone = CleanPhone(raw)
	}
	if raw, ok := e.sel.Website.First(ctx, page, func(s string) bool { return CleanWebsite(s) != "" }); ok {
		b.Website = CleanWebsite(raw)
	}
	b.WorkingHours, _ = e.sel.Hours.First(ctx, page, nil)
	b.CoverImage, _ = e.sel.CoverImage.First(ctx, page, nil)

	return Extraction{Status: ExtractOK, Business: b}
}

var (
	starsPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*star`)
	barePattern  = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*$`)
)

// ParseRating pulls the numeric rating out of labels like "4.6 stars" or a
// bare "4,6". Bare numbers outside 0..5 are rejected.
func ParseRating(raw string) string {
	if m := starsPattern.FindStringSubmatch(raw); m != nil {
		return strings.ReplaceAll(m[1], ",", ".")
	}
	m := barePattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	v := strings.ReplaceAll(m[1], ",", ".")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 5 {
		return ""
	}
	return v
}

// CleanWebsite unwraps "/url?q=" redirect links and returns the business
// website, or "" when the link points back at the maps host itself.
func CleanWebsite(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return CleanWebsite(q)
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if isMapsHost(u.Hostname()) {
		return ""
	}
	return u.String()
}

func isMapsHost(host string) bool {
	host = strings.ToLower(host)
	if host == "" || host == "goo.gl" || host == "g.page" || strings.HasSuffix(host, ".g.page") {
		return true
	}
	for _, label := range strings.Split(host, ".") {
		if label == "google" {
			return true
		}
	}
	return false
}

// CleanPhone strips the "tel:" scheme and a leading "Phone:" label.
func CleanPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 4 && strings.EqualFold(raw[:4], "tel:") {
		raw = raw[4:]
	}
	return stripLabel(raw, "phone:")
}

func stripLabel(raw, label string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= len(label) && strings.EqualFold(raw[:len(label)], label) {
		raw = raw[len(label):]
	}
	return strings.TrimSpace(raw)
}
