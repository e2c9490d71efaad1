// Package scrape drives one map search per term: it loads the results page,
// collects listing links and extracts a business record from each listing.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/maps-scraper/internal/browser"
)

// Locator is one way of finding a value on a page: the text of the first
// visible match of Selector, or its Attr attribute when Attr is set.
type Locator struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

func (l Locator) String() string {
	if l.Attr == "" {
		return l.Selector
	}
	return fmt.Sprintf("%s@%s", l.Selector, l.Attr)
}

// Chain is an ordered list of locators, most reliable first.
type Chain []Locator

// Accept filters candidate values. A rejected value moves the probe on to
// the next locator.
type Accept func(string) bool

// First returns the first non-empty, accepted value produced by the chain.
// A locator that errors or panics counts as no match.
func (c Chain) First(ctx context.Context, page browser.Page, accept Accept) (string, bool) {
	for _, loc := range c {
		if ctx.Err() != nil {
			return "", false
		}
		v, err := resolve(ctx, page, loc)
		if err != nil {
			if !errors.Is(err, browser.ErrNotFound) {
				zap.L().Debug("scrape: locator failed",
					zap.String("locator", loc.String()),
					zap.Error(err),
				)
			}
			continue
		}
		v = Clean(v)
		if v == "" {
			continue
		}
		if accept != nil && !accept(v) {
			continue
		}
		return v, true
	}
	return "", false
}

func resolve(ctx context.Context, page browser.Page, loc Locator) (v string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scrape: locator %s panicked: %v", loc, r)
		}
	}()
	if loc.Attr != "" {
		return page.Attr(ctx, loc.Selector, loc.Attr)
	}
	return page.Text(ctx, loc.Selector)
}

// Clean folds compatibility characters (narrow no-break spaces, full-width
// digits) and collapses runs of whitespace.
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}
