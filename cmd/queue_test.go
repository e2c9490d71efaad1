package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maps-scraper/internal/model"
)

func TestReadTerms(t *testing.T) {
	in := `
# roofing, north
roofers leeds

  roofers york  
# skipped
roofers hull
`
	terms, err := readTerms(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"roofers leeds", "roofers york", "roofers hull"}, terms)
}

func TestReadTerms_Empty(t *testing.T) {
	terms, err := readTerms(strings.NewReader("\n# nothing\n"))
	require.NoError(t, err)
	assert.Empty(t, terms)
}

func TestFormatTermsList(t *testing.T) {
	created := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	used := created.Add(26 * time.Hour)
	terms := []model.SearchTerm{
		{Term: "roofers leeds", CreatedAt: created},
		{Term: "roofers york", Used: true, CreatedAt: created, UsedAt: &used},
	}

	var buf bytes.Buffer
	formatTermsList(&buf, terms)

	output := buf.String()
	assert.Contains(t, output, "TERM")
	assert.Contains(t, output, "USED AT")
	assert.Contains(t, output, "roofers leeds")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2025-06-16 12:30")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "false")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "-"))
	assert.Contains(t, lines[2], "true")
}
