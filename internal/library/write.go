// ABOUTME: Mutating operations: update, bulk update, delete, and convert.
// ABOUTME: Permission checks and validation run before any worker dispatch.

package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/shelf-gateway/internal/permission"
	"github.com/2389/shelf-gateway/internal/schema"
)

// UpdateBook validates a change set and applies it to one book.
func (s *Service) UpdateBook(ctx context.Context, library string, bookID int, changes map[string]any) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if err := permission.CheckWrite(lib, fields); err != nil {
		return nil, err
	}

	sch, err := s.schemas.Get(ctx, lib)
	if err != nil {
		return nil, err
	}
	res := schema.Validate(changes, sch)
	if err := res.Err(); err != nil {
		return nil, err
	}

	params := map[string]any{"book_id": bookID, "changes": res.Normalized}
	var out map[string]any
	if err := s.call(ctx, lib.Name, "update_book", params, &out); err != nil {
		return nil, err
	}
	if len(res.Unvalidated) > 0 {
		out["unvalidated_fields"] = res.Unvalidated
	}
	return out, nil
}

// BulkUpdateMetadata updates one field across many books, optionally matching
// an old value. old_value comparison only supports simple scalar values.
func (s *Service) BulkUpdateMetadata(ctx context.Context, library, field string, oldValue, newValue any, bookIDs []int) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckWriteField(lib, field); err != nil {
		return nil, err
	}

	if !isSimpleScalar(oldValue) {
		return nil, fmt.Errorf("bulk update old_value must be a simple value (string, number, boolean, or null), got %T", oldValue)
	}

	if newValue != nil {
		sch, err := s.schemas.Get(ctx, lib)
		if err != nil {
			return nil, err
		}
		res := schema.Validate(map[string]any{field: newValue}, sch)
		if err := res.Err(); err != nil {
			return nil, err
		}
		newValue = res.Normalized[field]
	}

	params := map[string]any{
		"field_name": field,
		"old_value":  oldValue,
		"new_value":  newValue,
	}
	if len(bookIDs) > 0 {
		params["book_ids"] = bookIDs
	}

	var out map[string]any
	if err := s.call(ctx, lib.Name, "bulk_update_metadata", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBook removes a book, or just some of its formats when formats is set.
func (s *Service) DeleteBook(ctx context.Context, library string, bookID int, formats []string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckDelete(lib); err != nil {
		return nil, err
	}

	params := map[string]any{"book_id": bookID}
	if len(formats) > 0 {
		upper := make([]string, len(formats))
		for i, f := range formats {
			upper[i] = strings.ToUpper(f)
		}
		params["formats"] = upper
	}

	var out any
	if err := s.call(ctx, lib.Name, "delete_book", params, &out); err != nil {
		return nil, err
	}
	return map[string]any{"book_id": bookID, "status": out}, nil
}

// ConvertBook converts a book to another format. Converting to a format the
// book already has replaces that file, so it additionally needs the delete
// grant.
func (s *Service) ConvertBook(ctx context.Context, library string, bookID int, targetFormat string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckConvert(lib); err != nil {
		return nil, err
	}
	target := strings.ToUpper(targetFormat)

	existing, err := s.bookFormats(ctx, lib.Name, bookID)
	if err != nil {
		return nil, err
	}
	for _, f := range existing {
		if f == target {
			if err := permission.CheckDelete(lib); err != nil {
				return nil, fmt.Errorf("book %d already has a %s file and replacing it requires the delete permission: %w", bookID, target, err)
			}
			break
		}
	}

	params := map[string]any{"book_id": bookID, "target_format": target}
	var out map[string]any
	if err := s.call(ctx, lib.Name, "convert_book", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) bookFormats(ctx context.Context, library string, bookID int) ([]string, error) {
	params := map[string]any{"book_id": bookID, "fields": []string{"formats"}}
	var record struct {
		Formats []string `json:"formats"`
	}
	if err := s.call(ctx, library, "get_book_details", params, &record); err != nil {
		return nil, err
	}
	out := make([]string, len(record.Formats))
	for i, f := range record.Formats {
		out[i] = strings.ToUpper(f)
	}
	return out, nil
}

func isSimpleScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return true
	default:
		return false
	}
}
