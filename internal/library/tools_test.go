// ABOUTME: Tests for capability aggregation and the startup tool table.
// ABOUTME: Verifies gating, the multi-library selector, and resource tools.

package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func serviceFor(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	searches := textsearch.NewCache(10, time.Minute)
	t.Cleanup(searches.Close)
	return NewService(cfg, newFakeSender(t), searches, nil, nil)
}

func TestAggregateCapabilities(t *testing.T) {
	cfg := &config.Config{
		Libraries: map[string]*config.LibraryConfig{
			"a": {Path: "/a", Permissions: config.Permissions{Read: config.Grant{Allowed: true}}},
			"b": {
				Path:        "/b",
				Permissions: config.Permissions{Write: config.Grant{Allowed: true}, Delete: true},
				Export:      &config.TransferConfig{AllowedPaths: []string{"/out"}},
			},
		},
	}

	caps := AggregateCapabilities(cfg)
	assert.True(t, caps.AnyWrite)
	assert.True(t, caps.AnyDelete)
	assert.False(t, caps.AnyConvert)
	assert.False(t, caps.AnyImport)
	assert.True(t, caps.AnyExport)
	assert.True(t, caps.MultiLibrary)
}

func TestTools_ReadOnlyDeployment(t *testing.T) {
	cfg := &config.Config{
		Libraries: map[string]*config.LibraryConfig{
			"main": {Path: "/m", Permissions: config.Permissions{Read: config.Grant{Allowed: true}}},
		},
	}
	names := toolNames(serviceFor(t, cfg).Tools())

	assert.Contains(t, names, "search_books")
	assert.Contains(t, names, "get_book_content")
	assert.Contains(t, names, "get_library_schema")
	assert.NotContains(t, names, "update_book")
	assert.NotContains(t, names, "delete_book")
	assert.NotContains(t, names, "convert_book")
	assert.NotContains(t, names, "add_book")
	assert.NotContains(t, names, "export_book")
	assert.NotContains(t, names, "list_libraries")
}

func TestTools_FullyGrantedDeployment(t *testing.T) {
	cfg := &config.Config{
		ExposeResourcesViaTools: true,
		Libraries: map[string]*config.LibraryConfig{
			"main": {
				Path: "/m",
				Permissions: config.Permissions{
					Read: config.Grant{Allowed: true}, Write: config.Grant{Allowed: true},
					Delete: true, Convert: true,
				},
				Import: &config.TransferConfig{AllowedPaths: []string{"/in"}},
				Export: &config.TransferConfig{AllowedPaths: []string{"/out"}},
			},
		},
	}
	names := toolNames(serviceFor(t, cfg).Tools())

	for _, want := range []string{
		"search_books", "get_book_details", "get_book_content", "search_book_content",
		"fts_search", "get_library_schema", "get_field_values",
		"update_book", "bulk_update_metadata", "delete_book", "convert_book",
		"list_importable_files", "add_book", "list_exportable_files", "export_book",
		"list_libraries", "list_help_topics", "get_help_topic",
	} {
		assert.Contains(t, names, want)
	}
}

func TestTools_LibraryParamOnlyWhenMultiLibrary(t *testing.T) {
	single := &config.Config{
		Libraries: map[string]*config.LibraryConfig{
			"main": {Path: "/m", Permissions: config.Permissions{Read: config.Grant{Allowed: true}}},
		},
	}
	for _, tool := range serviceFor(t, single).Tools() {
		props := tool.InputSchema["properties"].(map[string]any)
		assert.NotContains(t, props, "library", "tool %s", tool.Name)
	}

	multi := &config.Config{
		Libraries: map[string]*config.LibraryConfig{
			"a": {Path: "/a", Permissions: config.Permissions{Read: config.Grant{Allowed: true}}},
			"b": {Path: "/b", Permissions: config.Permissions{Read: config.Grant{Allowed: true}}},
		},
	}
	tools := serviceFor(t, multi).Tools()
	require.NotEmpty(t, tools)
	for _, tool := range tools {
		props := tool.InputSchema["properties"].(map[string]any)
		assert.Contains(t, props, "library", "tool %s", tool.Name)
	}
}
