package scrape

import (
	"context"
	"strings"

	"github.com/sells-group/maps-scraper/internal/browser"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone           BlockType = ""
	BlockSorryPage      BlockType = "sorry_page"
	BlockUnusualTraffic BlockType = "unusual_traffic"
	BlockCaptcha        BlockType = "captcha"
)

var unusualTrafficMarkers = []string{
	"unusual traffic",
	"not a robot",
	"automated queries",
}

var captchaMarkers = []string{
	"recaptcha",
	"g-recaptcha",
	"captcha-form",
}

// DetectBlock checks the current URL and rendered body text for the
// interstitials shown when the site rate-limits automated traffic.
func DetectBlock(pageURL, body string) (bool, BlockType) {
	if strings.Contains(strings.ToLower(pageURL), "/sorry/") {
		return true, BlockSorryPage
	}

	lower := strings.ToLower(body)
	for _, m := range unusualTrafficMarkers {
		if strings.Contains(lower, m) {
			return true, BlockUnusualTraffic
		}
	}
	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true, BlockCaptcha
		}
	}
	return false, BlockNone
}

// checkBlocked runs DetectBlock against the live page. Read failures are
// not treated as a block.
func checkBlocked(ctx context.Context, page browser.Page) (bool, BlockType) {
	u, _ := page.URL(ctx)
	body, _ := page.BodyText(ctx)
	return DetectBlock(u, body)
}

// checkDetailBlocked is checkBlocked for a listing detail page. Reviews on
// a real listing can quote the body markers, so they only count when the
// page has no title.
func checkDetailBlocked(ctx context.Context, page browser.Page, title Chain) (bool, BlockType) {
	u, _ := page.URL(ctx)
	if blocked, bt := DetectBlock(u, ""); blocked {
		return blocked, bt
	}
	if _, ok := title.First(ctx, page, nil); ok {
		return false, BlockNone
	}
	return checkBlocked(ctx, page)
}
