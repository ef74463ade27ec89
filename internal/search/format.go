package search

import (
	"fmt"
	"strings"
)

// Formatting limits for results handed back to the model.
const (
	MaxFormattedResults = 5
	MaxContentChars     = 200
)

// FormatResults renders results as the numbered plain-text block the
// model reads as the tool output. At most limit entries are listed and
// each snippet is cut to [MaxContentChars] characters.
func FormatResults(query string, results []Result, limit int) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for \"%s\".", query)
	}
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for \"%s\":\n\n", query)
	for i, r := range results[:limit] {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		content := r.Content
		if content == "" {
			content = "No content available"
		}
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, title)
		fmt.Fprintf(&b, "   Content: %s\n", truncate(content, MaxContentChars))
		fmt.Fprintf(&b, "   URL: %s\n\n", r.URL)
	}
	return b.String()
}

// truncate cuts s to n characters and marks the cut with "...".
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
