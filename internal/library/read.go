// ABOUTME: Read-side operations: search, details, content, schema, field values.
// ABOUTME: List-valued read grants narrow both requests and responses.

package library

import (
	"context"
	"sort"
	"strings"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/permission"
	"github.com/2389/shelf-gateway/internal/schema"
)

const (
	defaultSearchLimit      = 10
	defaultFieldValueLimit  = 50
	defaultContentChunkSize = 50000
)

// SearchBooks runs a metadata query against a library.
func (s *Service) SearchBooks(ctx context.Context, library, query string, limit, offset int, fields []string, textFieldLimit int) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	fields = restrictFields(lib, fields)

	params := map[string]any{
		"query":  query,
		"limit":  limit,
		"offset": offset,
	}
	if len(fields) > 0 {
		params["fields"] = fields
	}
	if textFieldLimit > 0 {
		params["text_field_limit"] = textFieldLimit
	}

	var books []map[string]any
	if err := s.call(ctx, lib.Name, "search_books", params, &books); err != nil {
		return nil, err
	}
	for _, b := range books {
		filterRecord(lib, b)
	}

	return map[string]any{
		"library": lib.Name,
		"query":   query,
		"offset":  offset,
		"limit":   limit,
		"books":   books,
	}, nil
}

// GetBookDetails fetches one book's metadata record.
func (s *Service) GetBookDetails(ctx context.Context, library string, bookID int, fields []string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}
	fields = restrictFields(lib, fields)

	params := map[string]any{"book_id": bookID}
	if len(fields) > 0 {
		params["fields"] = fields
	}

	var record map[string]any
	if err := s.call(ctx, lib.Name, "get_book_details", params, &record); err != nil {
		return nil, err
	}
	filterRecord(lib, record)
	return record, nil
}

// GetBookContent returns a chunk of a book's text. When the chunk was cut
// short of the full text, the cut lands on a sentence boundary and the result
// reports where to resume.
func (s *Service) GetBookContent(ctx context.Context, library string, bookID, limit, offset int) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultContentChunkSize
	}

	params := map[string]any{
		"book_id":      bookID,
		"limit":        limit,
		"offset":       offset,
		"auto_convert": lib.Permissions.Convert,
	}
	var res struct {
		Content     string `json:"content"`
		TotalLength int    `json:"total_length"`
		Format      string `json:"format"`
	}
	if err := s.call(ctx, lib.Name, "get_book_content", params, &res); err != nil {
		return nil, err
	}

	content := res.Content
	truncated := offset+len(content) < res.TotalLength
	if truncated {
		content = truncateAtSentence(content)
	}

	out := map[string]any{
		"book_id":       bookID,
		"content":       content,
		"offset":        offset,
		"actual_length": len(content),
		"total_length":  res.TotalLength,
		"truncated":     truncated,
	}
	if res.Format != "" {
		out["format"] = res.Format
	}
	if truncated {
		out["next_offset"] = offset + len(content)
	}
	return out, nil
}

// GetSchema returns the library's field schema, filtered to what the
// configured grants let the agent see.
func (s *Service) GetSchema(ctx context.Context, library string) (schema.Schema, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}
	return s.schemas.Get(ctx, lib)
}

// FieldValue is one distinct value of a field with its occurrence count.
type FieldValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GetFieldValues lists the distinct values of a field ordered by descending
// count then value, paginated by offset and limit.
func (s *Service) GetFieldValues(ctx context.Context, library, field, regex string, bookIDs []int, offset, limit int) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, field); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultFieldValueLimit
	}

	params := map[string]any{"field_name": field}
	if regex != "" {
		params["regex"] = regex
	}
	if len(bookIDs) > 0 {
		params["book_ids"] = bookIDs
	}

	var counts map[string]int
	if err := s.call(ctx, lib.Name, "get_field_value_counts", params, &counts); err != nil {
		return nil, err
	}

	values := make([]FieldValue, 0, len(counts))
	for v, c := range counts {
		values = append(values, FieldValue{Value: v, Count: c})
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		return values[i].Value < values[j].Value
	})

	total := len(values)
	page := paginate(values, offset, limit)

	return map[string]any{
		"library":      lib.Name,
		"field":        field,
		"total_unique": total,
		"offset":       offset,
		"limit":        limit,
		"values":       page,
	}, nil
}

// FTSSearch runs the library's full-text index query.
func (s *Service) FTSSearch(ctx context.Context, library, query string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckRead(lib, ""); err != nil {
		return nil, err
	}

	var hits []map[string]any
	if err := s.call(ctx, lib.Name, "fts_search", map[string]any{"query": query}, &hits); err != nil {
		return nil, err
	}
	return map[string]any{
		"library": lib.Name,
		"query":   query,
		"hits":    hits,
	}, nil
}

// restrictFields narrows a field projection to what a list-valued read grant
// allows. book_id always passes so results stay addressable.
func restrictFields(lib *config.LibraryConfig, fields []string) []string {
	if !lib.Permissions.Read.IsList() {
		return fields
	}

	allowed := append([]string{"book_id"}, lib.Permissions.Read.Fields...)
	if len(fields) == 0 {
		return allowed
	}

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, a := range allowed {
			if f == a {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// filterRecord strips fields a list-valued read grant does not cover.
func filterRecord(lib *config.LibraryConfig, record map[string]any) {
	if record == nil || !lib.Permissions.Read.IsList() {
		return
	}
	for key := range record {
		if key == "book_id" || lib.Permissions.Read.Contains(key) {
			continue
		}
		delete(record, key)
	}
}

// truncateAtSentence trims content back to the last sentence boundary, as
// long as doing so keeps at least half the text. Falls back to a line break,
// then to the raw cut.
func truncateAtSentence(content string) string {
	floor := len(content) / 2

	best := -1
	for _, sep := range []string{". ", ".\n", "! ", "!\n", "? ", "?\n"} {
		if i := strings.LastIndex(content, sep); i > best {
			best = i
		}
	}
	if best > floor {
		return content[:best+1]
	}

	if i := strings.LastIndexByte(content, '\n'); i > floor {
		return content[:i]
	}
	return content
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
