package scrape

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Selectors is the table of locators the runner and extractor use. The
// site's markup changes often, so every field can be overridden from YAML.
type Selectors struct {
	Title      Chain `yaml:"title"`
	Rating     Chain `yaml:"rating"`
	Category   Chain `yaml:"category"`
	Address    Chain `yaml:"address"`
	Phone      Chain `yaml:"phone"`
	Website    Chain `yaml:"website"`
	Hours      Chain `yaml:"hours"`
	CoverImage Chain `yaml:"cover_image"`

	// Feed is the scrollable results container.
	Feed string `yaml:"feed"`
	// FeedLinks matches listing links inside the feed.
	FeedLinks string `yaml:"feed_links"`
	// FallbackLinks matches listing links anywhere when there is no feed.
	FallbackLinks string `yaml:"fallback_links"`
	// DetailReady appears once a listing page has rendered.
	DetailReady string `yaml:"detail_ready"`

	ConsentLabels []string `yaml:"consent_labels"`
	ConsentTexts  []string `yaml:"consent_texts"`
}

// DefaultSelectors returns the built-in table.
func DefaultSelectors() Selectors {
	return Selectors{
		Title: Chain{
			{Selector: "h1.DUwDvf"},
			{Selector: "h1"},
			{Selector: `div[role="main"][aria-label]`, Attr: "aria-label"},
		},
		Rating: Chain{
			{Selector: `div.F7nice span[role="img"][aria-label]`, Attr: "aria-label"},
			{Selector: `span[role="img"][aria-label*="star"]`, Attr: "aria-label"},
			{Selector: `span[aria-label*="star"]`, Attr: "aria-label"},
			{Selector: `div.F7nice span[aria-hidden="true"]`},
		},
		Category: Chain{
			{Selector: "button.DkEaL"},
			{Selector: "span.DkEaL"},
			{Selector: `button[jsaction*="category"]`},
		},
		Address: Chain{
			{Selector: `[data-item-id="address"] .Io6YTe`},
			{Selector: `[data-item-id="address"] .rogA2c`},
			{Selector: `button[data-item-id="address"]`, Attr: "aria-label"},
		},
		Phone: Chain{
			{Selector: `[data-item-id^="phone"] .Io6YTe`},
			{Selector: `[data-item-id^="phone"] .rogA2c`},
			{Selector: `button[data-item-id^="phone"]`, Attr: "aria-label"},
			{Selector: `a[href^="tel:"]`, Attr: "href"},
		},
		Website: Chain{
			{Selector: `a[data-item-id="authority"]`, Attr: "href"},
			{Selector: `[data-item-id="authority"] a`, Attr: "href"},
			{Selector: `a[aria-label^="Website"]`, Attr: "href"},
		},
		Hours: Chain{
			{Selector: `[data-item-id="oh"] .Io6YTe`},
			{Selector: `[data-item-id="oh"] .rogA2c`},
			{Selector: `div.t39EBf[aria-label]`, Attr: "aria-label"},
			{Selector: `[data-hide-tooltip-on-mouse-move] span.ZDu9vd`},
		},
		CoverImage: Chain{
			{Selector: `button[jsaction*="heroHeaderImage"] img`, Attr: "src"},
			{Selector: `img[src^="https://lh5.googleusercontent.com"]`, Attr: "src"},
			{Selector: `img[src*="googleusercontent.com"]`, Attr: "src"},
		},
		Feed:          `div[role="feed"]`,
		FeedLinks:     `div[role="feed"] a.hfpxzc, div[role="feed"] a[href*="/maps/place/"]`,
		FallbackLinks: `a[href*="/maps/place/"]`,
		DetailReady:   "h1",
		ConsentLabels: []string{"Reject all", "Accept all"},
		ConsentTexts:  []string{"Reject all", "Accept all", "I agree", "Agree"},
	}
}

// LoadSelectors returns the default table with any fields set in the YAML
// file at path replacing their defaults. An empty path yields the defaults.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Selectors{}, eris.Wrapf(err, "scrape: read selectors %s", path)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return Selectors{}, eris.Wrapf(err, "scrape: parse selectors %s", path)
	}
	if len(sel.Title) == 0 {
		return Selectors{}, eris.Errorf("scrape: selectors %s: title chain is empty", path)
	}
	return sel, nil
}
