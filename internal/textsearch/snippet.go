// ABOUTME: Snippet extraction around a match span with surrounding context.
// ABOUTME: Pads each side by a fixed budget and keeps rune boundaries intact.

package textsearch

import "unicode/utf8"

// SnippetPadding is how many bytes of context are included on each side of a
// match span when building a snippet.
const SnippetPadding = 100

// Match is a span rendered for display: the surrounding snippet plus where
// the matched region starts inside it.
type Match struct {
	Span
	Snippet    string `json:"snippet"`
	MatchStart int    `json:"match_start"`
}

// Snippet returns the text around a span with up to SnippetPadding bytes of
// context on either side, never splitting a multi-byte rune. The second
// return value is the snippet's starting offset in content.
func Snippet(content string, span Span) (string, int) {
	start := span.Start - SnippetPadding
	if start < 0 {
		start = 0
	}
	end := span.End + SnippetPadding
	if end > len(content) {
		end = len(content)
	}

	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	return content[start:end], start
}

// BuildMatches renders each span into a Match with its context snippet.
func BuildMatches(content string, spans []Span) []Match {
	matches := make([]Match, 0, len(spans))
	for _, span := range spans {
		snippet, base := Snippet(content, span)
		matches = append(matches, Match{
			Span:       span,
			Snippet:    snippet,
			MatchStart: span.Start - base,
		})
	}
	return matches
}
