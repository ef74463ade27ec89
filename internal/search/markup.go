package search

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup returns the text content of an HTML fragment with entities
// decoded and runs of whitespace collapsed. Brave wraps matched terms in
// <strong> and escapes punctuation; the model only needs the words.
func StripMarkup(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
