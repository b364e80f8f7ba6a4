// ABOUTME: Proximity search over book text using stemmed token matching.
// ABOUTME: Finds minimal windows containing every query term, then merges overlaps.

package textsearch

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"
)

// DefaultWindow caps the width of a single match window. Query terms spread
// further apart than this are not considered one match.
const DefaultWindow = 500

var wordRe = regexp.MustCompile(`\w+`)

// Span is a half-open character range [Start, End) into the searched text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type token struct {
	stem  string
	start int
	end   int
}

func tokenize(text string) []token {
	locs := wordRe.FindAllStringIndex(text, -1)
	tokens := make([]token, 0, len(locs))
	for _, loc := range locs {
		word := strings.ToLower(text[loc[0]:loc[1]])
		tokens = append(tokens, token{
			stem:  english.Stem(word, false),
			start: loc[0],
			end:   loc[1],
		})
	}
	return tokens
}

// queryStems returns the distinct stems of the query terms.
func queryStems(query string) map[string]struct{} {
	stems := make(map[string]struct{})
	for _, word := range wordRe.FindAllString(query, -1) {
		stems[english.Stem(strings.ToLower(word), false)] = struct{}{}
	}
	return stems
}

// FindMatches locates every region of content where all query terms appear
// within the default window, in any order and any inflected form. Overlapping
// and adjacent windows are merged into a single span. A query with no word
// characters yields no matches.
func FindMatches(content, query string) []Span {
	return FindMatchesWindow(content, query, DefaultWindow)
}

// FindMatchesWindow is FindMatches with an explicit window budget in
// characters. A non-positive window falls back to the default.
func FindMatchesWindow(content, query string, window int) []Span {
	if window <= 0 {
		window = DefaultWindow
	}

	stems := queryStems(query)
	if len(stems) == 0 {
		return nil
	}

	// The sliding window runs over the candidate tokens only: every text
	// token whose stem matches a query stem, in text order.
	var candidates []token
	for _, tok := range tokenize(content) {
		if _, wanted := stems[tok.stem]; wanted {
			candidates = append(candidates, tok)
		}
	}

	var spans []Span
	counts := make(map[string]int)
	covered := 0
	left := 0

	for _, c := range candidates {
		counts[c.stem]++
		if counts[c.stem] == 1 {
			covered++
		}

		// Record a span at every left alignment that still covers all stems,
		// budget permitting. A repeated query term earlier in the window keeps
		// the condition alive, so the merged span reaches back to it.
		for covered == len(stems) {
			if c.end-candidates[left].start <= window {
				spans = append(spans, Span{Start: candidates[left].start, End: c.end})
			}
			counts[candidates[left].stem]--
			if counts[candidates[left].stem] == 0 {
				covered--
			}
			left++
		}
	}

	return mergeSpans(spans)
}

// mergeSpans collapses overlapping or touching spans into one.
func mergeSpans(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
