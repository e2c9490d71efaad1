// Package browser abstracts the single page the scraper drives: navigation,
// element reads, clicks, scrolling and snapshots.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no visible element matches a selector.
var ErrNotFound = errors.New("browser: element not found")

// ErrNoScreenshot is returned by pages that cannot render pixels.
var ErrNoScreenshot = errors.New("browser: screenshot not supported")

// Page is one browser tab. Selectors are CSS. Reads consider only visible
// elements; AttrAll is the exception and returns every match.
type Page interface {
	// Navigate loads url and waits for the load event, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// URL returns the current location after redirects.
	URL(ctx context.Context) (string, error)
	// Text returns the trimmed text of the first visible match that has
	// any. ErrNotFound when no visible match has text.
	Text(ctx context.Context, selector string) (string, error)
	// Attr returns an attribute of the first visible match. href is resolved
	// to an absolute URL.
	Attr(ctx context.Context, selector, name string) (string, error)
	// AttrAll returns the non-empty attribute of every match in document order.
	AttrAll(ctx context.Context, selector, name string) ([]string, error)
	// WaitVisible blocks until a match is visible or timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Click clicks the first visible match.
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// ClickText clicks the first visible match whose text equals text,
	// ignoring case and surrounding space.
	ClickText(ctx context.Context, selector, text string, timeout time.Duration) error
	// ScrollBy scrolls the first match (or the window when selector is
	// empty) down by dy pixels.
	ScrollBy(ctx context.Context, selector string, dy int) error
	// BodyText returns the rendered text of the document body.
	BodyText(ctx context.Context) (string, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}
