package llm

import (
	"fmt"
	"net/url"
	"strings"
)

// Citation is the canonical shape provider-native grounding metadata is
// mapped into.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// CitationCollector deduplicates citations by URL, first occurrence wins,
// and renders them as a single trailing markdown block. It is appended
// exactly once per completed stream, never interleaved mid-stream.
type CitationCollector struct {
	seen  map[string]struct{}
	cites []Citation
}

// NewCitationCollector creates an empty collector.
func NewCitationCollector() *CitationCollector {
	return &CitationCollector{seen: make(map[string]struct{})}
}

// Add records a citation. Duplicate URLs are ignored.
func (c *CitationCollector) Add(rawURL, title string) {
	if rawURL == "" {
		return
	}
	if _, ok := c.seen[rawURL]; ok {
		return
	}
	c.seen[rawURL] = struct{}{}
	c.cites = append(c.cites, Citation{URL: rawURL, Title: citationTitle(rawURL, title)})
}

// Citations returns the collected citations in insertion order.
func (c *CitationCollector) Citations() []Citation {
	return c.cites
}

// Footer renders the trailing sources block, or "" when nothing was cited.
func (c *CitationCollector) Footer() string {
	if len(c.cites) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:\n")
	for i, cite := range c.cites {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, cite.Title, cite.URL)
	}
	return b.String()
}

// citationTitle falls back to the URL itself, or a derived hostname plus
// truncated path, when no human-readable title is available.
func citationTitle(rawURL, title string) string {
	title = strings.TrimSpace(title)
	if title != "" {
		return title
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	path := u.Path
	if len(path) > 24 {
		path = path[:24] + "..."
	}
	if path == "" || path == "/" {
		return u.Host
	}
	return u.Host + path
}
