package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCitationCollectorDedupesFirstWins(t *testing.T) {
	c := NewCitationCollector()
	c.Add("https://example.com/a", "First Title")
	c.Add("https://example.com/b", "Other")
	c.Add("https://example.com/a", "Second Title")

	cites := c.Citations()
	require.Len(t, cites, 2)
	assert.Equal(t, "First Title", cites[0].Title)
	assert.Equal(t, "https://example.com/a", cites[0].URL)
	assert.Equal(t, "Other", cites[1].Title)
}

func TestCitationCollectorIgnoresEmptyURL(t *testing.T) {
	c := NewCitationCollector()
	c.Add("", "orphan title")
	assert.Empty(t, c.Citations())
	assert.Equal(t, "", c.Footer())
}

func TestCitationFooterFormat(t *testing.T) {
	c := NewCitationCollector()
	c.Add("https://example.com/one", "One")
	c.Add("https://example.com/two", "Two")

	want := "\n\nSources:\n1. [One](https://example.com/one)\n2. [Two](https://example.com/two)\n"
	assert.Equal(t, want, c.Footer())
}

func TestCitationFooterEmptyWhenNothingCited(t *testing.T) {
	c := NewCitationCollector()
	assert.Equal(t, "", c.Footer())
}

func TestCitationTitleFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		title string
		want  string
	}{
		{"explicit title", "https://example.com/page", "Docs", "Docs"},
		{"whitespace title falls back", "https://example.com/page", "   ", "example.com/page"},
		{"host only", "https://example.com", "", "example.com"},
		{"root path", "https://example.com/", "", "example.com"},
		{"long path truncated", "https://example.com/a/very/long/path/segment/here", "",
			"example.com/a/very/long/path/segmen..."},
		{"unparseable", "::not-a-url::", "", "::not-a-url::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, citationTitle(tt.url, tt.title))
		})
	}
}
