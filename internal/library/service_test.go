// ABOUTME: Operation layer tests using a scripted fake worker sender.
// ABOUTME: Asserts permission ordering, validation gating, and response shaping.

package library

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/permission"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

type sentCall struct {
	Library string
	Method  string
	Params  map[string]any
}

// fakeSender scripts worker responses per method and records every dispatch.
type fakeSender struct {
	t       *testing.T
	calls   []sentCall
	respond map[string]any
	errors  map[string]error
}

func newFakeSender(t *testing.T) *fakeSender {
	return &fakeSender{t: t, respond: make(map[string]any), errors: make(map[string]error)}
}

func (f *fakeSender) Call(ctx context.Context, library, method string, params any) (json.RawMessage, error) {
	var decoded map[string]any
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(f.t, err)
		require.NoError(f.t, json.Unmarshal(raw, &decoded))
	}
	f.calls = append(f.calls, sentCall{Library: library, Method: method, Params: decoded})

	if err, ok := f.errors[method]; ok {
		return nil, err
	}
	res, ok := f.respond[method]
	if !ok {
		f.t.Fatalf("unexpected worker call %q", method)
	}
	raw, err := json.Marshal(res)
	require.NoError(f.t, err)
	return raw, nil
}

func (f *fakeSender) callsTo(method string) []sentCall {
	var out []sentCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func testService(t *testing.T, lib *config.LibraryConfig, sender *fakeSender) *Service {
	t.Helper()
	cfg := &config.Config{Libraries: map[string]*config.LibraryConfig{"main": lib}}
	searches := textsearch.NewCache(10, time.Minute)
	t.Cleanup(searches.Close)
	return NewService(cfg, sender, searches, nil, nil)
}

func readWriteLib() *config.LibraryConfig {
	return &config.LibraryConfig{
		Path: "/libs/main",
		Permissions: config.Permissions{
			Read:  config.Grant{Allowed: true},
			Write: config.Grant{Allowed: true},
		},
	}
}

func TestSearchBooks_DeniedWithoutRead(t *testing.T) {
	sender := newFakeSender(t)
	svc := testService(t, &config.LibraryConfig{Path: "/libs/main"}, sender)

	_, err := svc.SearchBooks(context.Background(), "", "dune", 0, 0, nil, 0)
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
	assert.Empty(t, sender.calls, "denied calls never reach the worker")
}

func TestSearchBooks_ListGrantRestrictsFields(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["search_books"] = []map[string]any{
		{"book_id": 1, "title": "Dune", "comments": "secret notes"},
	}
	lib := &config.LibraryConfig{
		Path:        "/libs/main",
		Permissions: config.Permissions{Read: config.Grant{Allowed: true, Fields: []string{"title"}}},
	}
	svc := testService(t, lib, sender)

	res, err := svc.SearchBooks(context.Background(), "", "dune", 0, 0, nil, 0)
	require.NoError(t, err)

	sent := sender.callsTo("search_books")[0]
	assert.ElementsMatch(t, []any{"book_id", "title"}, sent.Params["fields"])

	books := res.(map[string]any)["books"].([]map[string]any)
	require.Len(t, books, 1)
	assert.Contains(t, books[0], "title")
	assert.NotContains(t, books[0], "comments")
}

func TestGetBookContent_TruncatesAtSentence(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_book_content"] = map[string]any{
		"content":      "First sentence. Second sentence. Third fragment without end",
		"total_length": 10000,
		"format":       "EPUB",
	}
	svc := testService(t, readWriteLib(), sender)

	res, err := svc.GetBookContent(context.Background(), "", 3, 60, 0)
	require.NoError(t, err)

	out := res.(map[string]any)
	assert.Equal(t, "First sentence. Second sentence.", out["content"])
	assert.Equal(t, true, out["truncated"])
	assert.Equal(t, len("First sentence. Second sentence."), out["actual_length"])
	assert.Equal(t, len("First sentence. Second sentence."), out["next_offset"])
	assert.Equal(t, "EPUB", out["format"])
}

func TestGetBookContent_CompleteChunkNotTrimmed(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_book_content"] = map[string]any{
		"content":      "The whole short book",
		"total_length": 20,
	}
	svc := testService(t, readWriteLib(), sender)

	res, err := svc.GetBookContent(context.Background(), "", 3, 100, 0)
	require.NoError(t, err)

	out := res.(map[string]any)
	assert.Equal(t, "The whole short book", out["content"])
	assert.Equal(t, false, out["truncated"])
	assert.NotContains(t, out, "next_offset")
}

func TestGetBookContent_AutoConvertFollowsGrant(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_book_content"] = map[string]any{"content": "x", "total_length": 1}

	lib := readWriteLib()
	lib.Permissions.Convert = true
	svc := testService(t, lib, sender)

	_, err := svc.GetBookContent(context.Background(), "", 3, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, true, sender.callsTo("get_book_content")[0].Params["auto_convert"])
}

func TestGetFieldValues_SortedAndPaginated(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_field_value_counts"] = map[string]int{
		"fantasy": 3, "sci-fi": 7, "classic": 3, "poetry": 1,
	}
	svc := testService(t, readWriteLib(), sender)

	res, err := svc.GetFieldValues(context.Background(), "", "tags", "", nil, 0, 2)
	require.NoError(t, err)

	out := res.(map[string]any)
	assert.Equal(t, 4, out["total_unique"])
	values := out["values"].([]FieldValue)
	require.Len(t, values, 2)
	assert.Equal(t, FieldValue{Value: "sci-fi", Count: 7}, values[0])
	// Ties break alphabetically.
	assert.Equal(t, FieldValue{Value: "classic", Count: 3}, values[1])
}

func TestSearchBookContent_CachesContentFetch(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_book_content"] = map[string]any{
		"content": "The cat sat near the dog today.",
	}
	svc := testService(t, readWriteLib(), sender)

	res, err := svc.SearchBookContent(context.Background(), "", 9, "cat dog", 0, 10)
	require.NoError(t, err)
	out := res.(map[string]any)
	assert.Equal(t, 1, out["total_matches"])
	matches := out["matches"].([]textsearch.Match)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Snippet, "cat")

	// Second page of the same query must not re-fetch the book.
	_, err = svc.SearchBookContent(context.Background(), "", 9, "CAT  dog", 0, 10)
	require.NoError(t, err)
	assert.Len(t, sender.callsTo("get_book_content"), 1)
}

func TestUpdateBook_ValidatesBeforeDispatch(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_library_schema"] = map[string]any{
		"title":  map[string]any{"datatype": "text"},
		"rating": map[string]any{"datatype": "rating"},
	}
	svc := testService(t, readWriteLib(), sender)

	_, err := svc.UpdateBook(context.Background(), "", 1, map[string]any{"rating": 99})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 10")
	assert.Empty(t, sender.callsTo("update_book"), "invalid change sets are never sent")
}

func TestUpdateBook_SendsNormalizedChanges(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_library_schema"] = map[string]any{
		"series":       map[string]any{"datatype": "series"},
		"series_index": map[string]any{"datatype": "float"},
	}
	sender.respond["update_book"] = map[string]any{"status": "updated", "book_id": 1}
	svc := testService(t, readWriteLib(), sender)

	_, err := svc.UpdateBook(context.Background(), "", 1, map[string]any{"series": "Foo Bar [3]"})
	require.NoError(t, err)

	sent := sender.callsTo("update_book")[0].Params["changes"].(map[string]any)
	assert.Equal(t, "Foo Bar", sent["series"])
	assert.Equal(t, 3.0, sent["series_index"])
}

func TestUpdateBook_WriteListDenial(t *testing.T) {
	sender := newFakeSender(t)
	lib := readWriteLib()
	lib.Permissions.Write = config.Grant{Allowed: true, Fields: []string{"tags"}}
	svc := testService(t, lib, sender)

	_, err := svc.UpdateBook(context.Background(), "", 1, map[string]any{"title": "New"})
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
	assert.Contains(t, err.Error(), "title")
}

func TestBulkUpdateMetadata_RejectsComplexOldValue(t *testing.T) {
	sender := newFakeSender(t)
	svc := testService(t, readWriteLib(), sender)

	_, err := svc.BulkUpdateMetadata(context.Background(), "", "tags", []any{"a"}, "b", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simple value")
}

func TestConvertBook_ExistingFormatNeedsDelete(t *testing.T) {
	sender := newFakeSender(t)
	sender.respond["get_book_details"] = map[string]any{"formats": []string{"EPUB", "PDF"}}

	lib := readWriteLib()
	lib.Permissions.Convert = true
	svc := testService(t, lib, sender)

	_, err := svc.ConvertBook(context.Background(), "", 4, "epub")
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
	assert.Empty(t, sender.callsTo("convert_book"))

	lib.Permissions.Delete = true
	sender.respond["convert_book"] = map[string]any{"status": "converted"}
	_, err = svc.ConvertBook(context.Background(), "", 4, "epub")
	require.NoError(t, err)
	assert.Equal(t, "EPUB", sender.callsTo("convert_book")[0].Params["target_format"])
}

func TestAddBook_PathGuardAndDeleteSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.epub")
	require.NoError(t, os.WriteFile(src, []byte("epub bytes"), 0o644))

	sender := newFakeSender(t)
	sender.respond["add_book"] = map[string]any{"status": "added", "book_ids": []int{11}}

	lib := readWriteLib()
	lib.Import = &config.TransferConfig{AllowedPaths: []string{dir}, AllowDeleteSource: true}
	svc := testService(t, lib, sender)

	// A path outside the allow-list never reaches the worker.
	_, err := svc.AddBook(context.Background(), "", []string{"/etc/passwd"}, nil, false)
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
	assert.Empty(t, sender.calls)

	res, err := svc.AddBook(context.Background(), "", []string{src}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "added", res.(map[string]any)["status"])
	_, statErr := os.Stat(src)
	assert.True(t, os.IsNotExist(statErr), "source deleted after import")
}

func TestAddBook_DeleteSourceRequiresFlag(t *testing.T) {
	dir := t.TempDir()
	sender := newFakeSender(t)

	lib := readWriteLib()
	lib.Import = &config.TransferConfig{AllowedPaths: []string{dir}}
	svc := testService(t, lib, sender)

	_, err := svc.AddBook(context.Background(), "", []string{filepath.Join(dir, "b.epub")}, nil, true)
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
}

func TestAddBook_NotConfigured(t *testing.T) {
	svc := testService(t, readWriteLib(), newFakeSender(t))
	_, err := svc.AddBook(context.Background(), "", []string{"/x.epub"}, nil, false)
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))
}

func TestExportBook_FormatDefaultAndExtension(t *testing.T) {
	dir := t.TempDir()
	sender := newFakeSender(t)
	sender.respond["get_book_details"] = map[string]any{"formats": []string{"PDF", "AZW3"}}
	sender.respond["export_book"] = map[string]any{"status": "exported"}

	lib := readWriteLib()
	lib.Export = &config.TransferConfig{AllowedPaths: []string{dir}}
	svc := testService(t, lib, sender)

	_, err := svc.ExportBook(context.Background(), "", 5, "", filepath.Join(dir, "out.pdf"))
	require.NoError(t, err)

	sent := sender.callsTo("export_book")[0].Params
	// AZW3 outranks PDF in the priority order, and the extension follows.
	assert.Equal(t, "AZW3", sent["format"])
	assert.Equal(t, filepath.Join(dir, "out.azw3"), sent["file_path"])
}

func TestExportBook_OverwriteProtection(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "out.epub")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	sender := newFakeSender(t)
	lib := readWriteLib()
	lib.Export = &config.TransferConfig{AllowedPaths: []string{dir}}
	svc := testService(t, lib, sender)

	_, err := svc.ExportBook(context.Background(), "", 5, "epub", existing)
	require.Error(t, err)
	assert.True(t, permission.IsDenied(err))

	lib.Export.AllowOverwriteDestination = true
	sender.respond["export_book"] = map[string]any{"status": "exported"}
	_, err = svc.ExportBook(context.Background(), "", 5, "epub", existing)
	require.NoError(t, err)
}

func TestListImportableFiles_FiltersToBookFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "novel.epub"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.ini"), []byte("x"), 0o644))

	lib := readWriteLib()
	lib.Import = &config.TransferConfig{AllowedPaths: []string{dir, "/does/not/exist"}}
	svc := testService(t, lib, newFakeSender(t))

	res, err := svc.ListImportableFiles(context.Background(), "")
	require.NoError(t, err)

	listings := res.(map[string]any)["directories"].([]DirListing)
	require.Len(t, listings, 2)
	require.Len(t, listings[0].Files, 1)
	assert.Equal(t, "novel.epub", listings[0].Files[0].Name)
	assert.NotEmpty(t, listings[1].Error)
}
