package scrape

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSelectors_EmptyPathIsDefault(t *testing.T) {
	sel, err := LoadSelectors("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSelectors(), sel)
}

func TestLoadSelectors_OverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	body := `
title:
  - selector: h1.new-title
feed: div.results
consent_texts: ["Alle ablehnen"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	sel, err := LoadSelectors(path)
	require.NoError(t, err)

	assert.Equal(t, Chain{{Selector: "h1.new-title"}}, sel.Title)
	assert.Equal(t, "div.results", sel.Feed)
	assert.Equal(t, []string{"Alle ablehnen"}, sel.ConsentTexts)

	def := DefaultSelectors()
	assert.Equal(t, def.Phone, sel.Phone)
	assert.Equal(t, def.FallbackLinks, sel.FallbackLinks)
	assert.Equal(t, def.ConsentLabels, sel.ConsentLabels)
}

func TestLoadSelectors_AttrLocator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	body := `
website:
  - selector: a.site
    attr: href
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	sel, err := LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, Chain{{Selector: "a.site", Attr: "href"}}, sel.Website)
}

func TestLoadSelectors_Errors(t *testing.T) {
	_, err := LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("title: [unclosed"), 0o644))
	_, err = LoadSelectors(bad)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("title: []\n"), 0o644))
	_, err = LoadSelectors(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title chain is empty")
}
