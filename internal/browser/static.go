package browser

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// StaticPage implements Page over pre-rendered HTML documents keyed by URL.
// It backs offline re-extraction of saved snapshots. Scrolling advances a
// URL through its registered stages, standing in for lazily loaded feeds.
type StaticPage struct {
	stages    map[string][]string
	redirects map[string]string
	failures  map[string]error

	current string
	stage   int
	doc     *goquery.Document

	// Visited records every navigation in order.
	Visited []string
	// Clicked records the selector or text of every successful click.
	Clicked []string
}

// NewStaticPage returns an empty StaticPage.
func NewStaticPage() *StaticPage {
	return &StaticPage{
		stages:    make(map[string][]string),
		redirects: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// Add registers the document served at rawURL. Extra stages are revealed
// one per ScrollBy call.
func (p *StaticPage) Add(rawURL string, html string, stages ...string) *StaticPage {
	p.stages[rawURL] = append([]string{html}, stages...)
	return p
}

// Redirect makes navigation to from land on to.
func (p *StaticPage) Redirect(from, to string) *StaticPage {
	p.redirects[from] = to
	return p
}

// Fail makes navigation to rawURL return err.
func (p *StaticPage) Fail(rawURL string, err error) *StaticPage {
	p.failures[rawURL] = err
	return p
}

func (p *StaticPage) Navigate(ctx context.Context, rawURL string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Visited = append(p.Visited, rawURL)
	if err, ok := p.failures[rawURL]; ok {
		return err
	}
	if to, ok := p.redirects[rawURL]; ok {
		rawURL = to
	}
	stages, ok := p.stages[rawURL]
	if !ok {
		return eris.Errorf("browser: static page: no document for %s", rawURL)
	}
	p.current = rawURL
	p.stage = 0
	return p.load(stages[0])
}

func (p *StaticPage) load(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return eris.Wrap(err, "browser: static page: parse")
	}
	p.doc = doc
	return nil
}

func (p *StaticPage) ready() error {
	if p.doc == nil {
		return eris.New("browser: static page: nothing loaded")
	}
	return nil
}

func (p *StaticPage) URL(context.Context) (string, error) {
	return p.current, nil
}

func (p *StaticPage) firstVisible(selector string) *goquery.Selection {
	var found *goquery.Selection
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isVisible(s) {
			found = s
			return false
		}
		return true
	})
	return found
}

func (p *StaticPage) Text(_ context.Context, selector string) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	var text string
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isVisible(s) {
			return true
		}
		text = strings.TrimSpace(s.Text())
		return text == ""
	})
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

func (p *StaticPage) Attr(_ context.Context, selector, name string) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	s := p.firstVisible(selector)
	if s == nil {
		return "", ErrNotFound
	}
	v, ok := s.Attr(name)
	if !ok {
		return "", ErrNotFound
	}
	if name == "href" {
		v = p.resolve(v)
	}
	return v, nil
}

func (p *StaticPage) AttrAll(_ context.Context, selector, name string) ([]string, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		v, ok := s.Attr(name)
		if !ok || v == "" {
			return
		}
		if name == "href" {
			v = p.resolve(v)
		}
		out = append(out, v)
	})
	return out, nil
}

// resolve makes href absolute against the current URL, as a browser's
// element.href does.
func (p *StaticPage) resolve(href string) string {
	base, err := url.Parse(p.current)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (p *StaticPage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	if err := p.ready(); err != nil {
		return err
	}
	if p.firstVisible(selector) == nil {
		return eris.Wrapf(ErrNotFound, "browser: wait visible %s", selector)
	}
	return nil
}

func (p *StaticPage) Click(_ context.Context, selector string, _ time.Duration) error {
	if err := p.ready(); err != nil {
		return err
	}
	if p.firstVisible(selector) == nil {
		return ErrNotFound
	}
	p.Clicked = append(p.Clicked, selector)
	return nil
}

func (p *StaticPage) ClickText(_ context.Context, selector, text string, _ time.Duration) error {
	if err := p.ready(); err != nil {
		return err
	}
	want := strings.ToLower(strings.TrimSpace(text))
	var hit bool
	p.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isVisible(s) && strings.ToLower(strings.TrimSpace(s.Text())) == want {
			hit = true
			return false
		}
		return true
	})
	if !hit {
		return ErrNotFound
	}
	p.Clicked = append(p.Clicked, text)
	return nil
}

func (p *StaticPage) ScrollBy(_ context.Context, selector string, _ int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if selector != "" && p.doc.Find(selector).Length() == 0 {
		return ErrNotFound
	}
	stages := p.stages[p.current]
	if p.stage+1 < len(stages) {
		p.stage++
		return p.load(stages[p.stage])
	}
	return nil
}

func (p *StaticPage) BodyText(context.Context) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	return p.doc.Find("body").Text(), nil
}

func (p *StaticPage) HTML(context.Context) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	html, err := p.doc.Html()
	return html, eris.Wrap(err, "browser: static page: render")
}

func (p *StaticPage) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrNoScreenshot
}

// isVisible approximates layout-based visibility from markup: hidden
// attributes and inline display/visibility styles on the node or an ancestor.
func isVisible(s *goquery.Selection) bool {
	for n := s; n.Length() > 0 && goquery.NodeName(n) != "#document"; n = n.Parent() {
		if _, hidden := n.Attr("hidden"); hidden {
			return false
		}
		if v, _ := n.Attr("aria-hidden"); v == "true" {
			return false
		}
		style, _ := n.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
