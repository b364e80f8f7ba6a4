// ABOUTME: Proximity search over book content with cached, paginated results.
// ABOUTME: Full text is fetched once per (library, book, query) and reused.

package library

import (
	"context"
	"strings"

	"github.com/2389/shelf-gateway/internal/permission"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

const defaultMatchLimit = 10

// SearchBookContent finds every region of a book where all query terms appear
// near each other. Results are cached so paging does not re-fetch the book.
func (s *Service) SearchBookContent(ctx context.Context, library string, bookID int, query string, offset, limit int) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMatchLimit
	}

	key := textsearch.Key{
		Library: lib.Name,
		BookID:  bookID,
		Query:   normalizeQuery(query),
	}

	matches, ok := s.searches.Get(key)
	if !ok {
		params := map[string]any{
			"book_id":      bookID,
			"offset":       0,
			"auto_convert": lib.Permissions.Convert,
		}
		var res struct {
			Content string `json:"content"`
		}
		if err := s.call(ctx, lib.Name, "get_book_content", params, &res); err != nil {
			return nil, err
		}

		spans := textsearch.FindMatches(res.Content, query)
		matches = textsearch.BuildMatches(res.Content, spans)
		s.searches.Put(key, matches)
	}

	return map[string]any{
		"library":       lib.Name,
		"book_id":       bookID,
		"query":         query,
		"total_matches": len(matches),
		"offset":        offset,
		"limit":         limit,
		"matches":       paginate(matches, offset, limit),
	}, nil
}

// normalizeQuery collapses whitespace and case so equivalent queries share a
// cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
