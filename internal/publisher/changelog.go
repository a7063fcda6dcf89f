package publisher

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const noChangelog = "No changes documented."

var (
	changelogPolicy = bluemonday.UGCPolicy()
	stripPolicy     = bluemonday.StrictPolicy()
)

// RenderChangelog converts Markdown release notes into sanitized HTML.
func RenderChangelog(notes string) string {
	if strings.TrimSpace(notes) == "" {
		return noChangelog
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(notes), &buf); err != nil {
		return changelogPolicy.Sanitize(notes)
	}
	return strings.TrimSpace(changelogPolicy.Sanitize(buf.String()))
}

// ExtractDescription returns the first line of the notes that is neither a heading
// nor a list item.
func ExtractDescription(notes, fallback string) string {
	for _, line := range strings.Split(notes, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "-") {
			continue
		}
		return line
	}
	return fallback
}

// TrimWords strips markup and keeps the first n words.
func TrimWords(text string, n int) string {
	plain := html.UnescapeString(stripPolicy.Sanitize(text))
	words := strings.Fields(plain)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}
