package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChromeOptions configures the headless Chrome instance.
type ChromeOptions struct {
	Headless      bool
	ExecPath      string
	UserAgent     string
	Locale        string
	Timezone      string
	WindowWidth   int
	WindowHeight  int
	ActionTimeout time.Duration
}

// Chrome implements Page on a single chromedp tab.
type Chrome struct {
	tab           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration
	log           *zap.Logger
}

// NewChrome launches Chrome and opens one tab with locale, timezone and
// Accept-Language applied. Close releases the browser.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1280, 800
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 20 * time.Second
	}
	log := zap.L().With(zap.String("component", "browser.chrome"))

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Locale != "" {
		allocOpts = append(allocOpts, chromedp.Flag("lang", opts.Locale))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	setup := []chromedp.Action{network.Enable()}
	if opts.Locale != "" {
		setup = append(setup,
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage(opts.Locale)}),
			emulation.SetLocaleOverride().WithLocale(opts.Locale),
		)
	}
	if opts.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(opts.Timezone))
	}
	if err := chromedp.Run(tab, setup...); err != nil {
		cancel()
		return nil, eris.Wrap(err, "browser: start chrome")
	}

	log.Info("chrome started",
		zap.Bool("headless", opts.Headless),
		zap.String("locale", opts.Locale),
		zap.String("timezone", opts.Timezone),
	)
	return &Chrome{tab: tab, cancel: cancel, actionTimeout: opts.ActionTimeout, log: log}, nil
}

// acceptLanguage turns "en-GB" into "en-GB,en;q=0.9".
func acceptLanguage(locale string) string {
	base, _, found := strings.Cut(locale, "-")
	if !found {
		return locale
	}
	return locale + "," + base + ";q=0.9"
}

// Close shuts the tab and the browser process.
func (c *Chrome) Close() {
	c.cancel()
}

// op derives a context from the tab (chromedp needs its values) that also
// ends when the caller's ctx ends.
func (c *Chrome) op(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = c.actionTimeout
	}
	opCtx, cancel := context.WithTimeout(c.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (c *Chrome) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	opCtx, cancel := c.op(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Navigate(url)); err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return eris.Wrapf(context.DeadlineExceeded, "browser: navigate %s", url)
		}
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	return nil
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	opCtx, cancel := c.op(ctx, 0)
	defer cancel()
	var loc string
	if err := chromedp.Run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", eris.Wrap(err, "browser: location")
	}
	return loc, nil
}

// jsResult is what every probe script resolves to. Scripts never return
// null so chromedp never has to unmarshal one.
type jsResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

const jsVisible = `const visible = el => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length) && getComputedStyle(el).visibility !== 'hidden';`

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (c *Chrome) eval(ctx context.Context, script string, res any) error {
	opCtx, cancel := c.op(ctx, 0)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Evaluate(script, res))
}

// textScript finds the first visible match with non-empty text.
func textScript(selector string) string {
	return fmt.Sprintf(`(() => {
		%s
		for (const el of document.querySelectorAll(%s)) {
			if (!visible(el)) continue;
			const value = (el.innerText || el.textContent || '').trim();
			if (!value) continue;
			return {found: true, value: value};
		}
		return {found: false, value: ''};
	})()`, jsVisible, quote(selector))
}

func (c *Chrome) Text(ctx context.Context, selector string) (string, error) {
	script := textScript(selector)

	var res jsResult
	if err := c.eval(ctx, script, &res); err != nil {
		return "", eris.Wrapf(err, "browser: text %s", selector)
	}
	if !res.Found {
		return "", ErrNotFound
	}
	return res.Value, nil
}

func (c *Chrome) Attr(ctx context.Context, selector, name string) (string, error) {
	script := fmt.Sprintf(`(() => {
		%s
		const name = %s;
		for (const el of document.querySelectorAll(%s)) {
			if (!visible(el)) continue;
			const v = (name === 'href' && el.href) ? el.href : el.getAttribute(name);
			return {found: v !== null, value: v || ''};
		}
		return {found: false, value: ''};
	})()`, jsVisible, quote(name), quote(selector))

	var res jsResult
	if err := c.eval(ctx, script, &res); err != nil {
		return "", eris.Wrapf(err, "browser: attr %s[%s]", selector, name)
	}
	if !res.Found {
		return "", ErrNotFound
	}
	return res.Value, nil
}

func (c *Chrome) AttrAll(ctx context.Context, selector, name string) ([]string, error) {
	script := fmt.Sprintf(`(() => {
		const name = %s;
		const out = [];
		for (const el of document.querySelectorAll(%s)) {
			const v = (name === 'href' && el.href) ? el.href : el.getAttribute(name);
			if (v) out.push(v);
		}
		return out;
	})()`, quote(name), quote(selector))

	var res []string
	if err := c.eval(ctx, script, &res); err != nil {
		return nil, eris.Wrapf(err, "browser: attr all %s[%s]", selector, name)
	}
	return res, nil
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := c.op(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return eris.Wrapf(err, "browser: wait visible %s", selector)
	}
	return nil
}

func (c *Chrome) Click(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := c.op(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return eris.Wrapf(err, "browser: click %s", selector)
	}
	return nil
}

func (c *Chrome) ClickText(ctx context.Context, selector, text string, timeout time.Duration) error {
	script := fmt.Sprintf(`(() => {
		%s
		const want = %s.trim().toLowerCase();
		for (const el of document.querySelectorAll(%s)) {
			if (!visible(el)) continue;
			if ((el.innerText || el.textContent || '').trim().toLowerCase() !== want) continue;
			el.click();
			return {found: true, value: ''};
		}
		return {found: false, value: ''};
	})()`, jsVisible, quote(text), quote(selector))

	opCtx, cancel := c.op(ctx, timeout)
	defer cancel()
	var res jsResult
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &res)); err != nil {
		return eris.Wrapf(err, "browser: click text %q", text)
	}
	if !res.Found {
		return ErrNotFound
	}
	return nil
}

func (c *Chrome) ScrollBy(ctx context.Context, selector string, dy int) error {
	script := fmt.Sprintf(`(() => {
		const sel = %s;
		const el = sel ? document.querySelector(sel) : null;
		if (sel && !el) return {found: false, value: ''};
		(el || window).scrollBy(0, %d);
		return {found: true, value: ''};
	})()`, quote(selector), dy)

	var res jsResult
	if err := c.eval(ctx, script, &res); err != nil {
		return eris.Wrapf(err, "browser: scroll %s", selector)
	}
	if !res.Found {
		return ErrNotFound
	}
	return nil
}

func (c *Chrome) BodyText(ctx context.Context) (string, error) {
	var res jsResult
	if err := c.eval(ctx, `({found: true, value: document.body ? document.body.innerText : ''})`, &res); err != nil {
		return "", eris.Wrap(err, "browser: body text")
	}
	return res.Value, nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := c.op(ctx, 0)
	defer cancel()
	var html string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", eris.Wrap(err, "browser: outer html")
	}
	return html, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := c.op(ctx, 0)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, eris.Wrap(err, "browser: screenshot")
	}
	return buf, nil
}
