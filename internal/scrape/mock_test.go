package scrape

import (
	"context"
	"time"

	"github.com/sells-group/maps-scraper/internal/browser"
)

// mockPage implements browser.Page from fixed maps. Selectors present in
// panics blow up, those in errs fail with the given error.
type mockPage struct {
	url    string
	texts  map[string]string
	attrs  map[string]string // key: selector + "@" + attr
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func (m *mockPage) lookup(key string, values map[string]string) (string, error) {
	m.calls = append(m.calls, key)
	if m.panics[key] {
		panic("boom: " + key)
	}
	if err, ok := m.errs[key]; ok {
		return "", err
	}
	if v, ok := values[key]; ok {
		return v, nil
	}
	return "", browser.ErrNotFound
}

func (m *mockPage) Navigate(context.Context, string, time.Duration) error { return nil }
func (m *mockPage) URL(context.Context) (string, error)                   { return m.url, nil }
func (m *mockPage) Text(_ context.Context, sel string) (string, error) {
	return m.lookup(sel, m.texts)
}
func (m *mockPage) Attr(_ context.Context, sel, name string) (string, error) {
	return m.lookup(sel+"@"+name, m.attrs)
}
func (m *mockPage) AttrAll(context.Context, string, string) ([]string, error) { return nil, nil }
func (m *mockPage) WaitVisible(context.Context, string, time.Duration) error {
	return browser.ErrNotFound
}
func (m *mockPage) Click(context.Context, string, time.Duration) error { return browser.ErrNotFound }
func (m *mockPage) ClickText(context.Context, string, string, time.Duration) error {
	return browser.ErrNotFound
}
func (m *mockPage) ScrollBy(context.Context, string, int) error { return nil }
func (m *mockPage) BodyText(context.Context) (string, error)    { return "", nil }
func (m *mockPage) HTML(context.Context) (string, error)        { return "<html></html>", nil }
func (m *mockPage) Screenshot(context.Context) ([]byte, error)  { return []byte("png"), nil }
