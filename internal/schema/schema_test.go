// ABOUTME: Tests for the schema cache and permission-based field filtering.
// ABOUTME: Verifies memoization, invalidation, and list-grant visibility rules.

package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shelf-gateway/internal/config"
)

func fullSchema() Schema {
	return Schema{
		"title":    {Datatype: TypeText},
		"tags":     {Datatype: TypeText, Separator: ","},
		"rating":   {Datatype: TypeRating},
		"comments": {Datatype: TypeComments},
	}
}

func TestCacheGet_MemoizesFetch(t *testing.T) {
	calls := 0
	cache := NewCache(func(ctx context.Context, library string) (Schema, error) {
		calls++
		return fullSchema(), nil
	})

	lib := &config.LibraryConfig{
		Name:        "main",
		Permissions: config.Permissions{Read: config.Grant{Allowed: true}},
	}

	first, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestCacheGet_FetchErrorNotCached(t *testing.T) {
	calls := 0
	cache := NewCache(func(ctx context.Context, library string) (Schema, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("worker unavailable")
		}
		return fullSchema(), nil
	})

	lib := &config.LibraryConfig{
		Name:        "main",
		Permissions: config.Permissions{Read: config.Grant{Allowed: true}},
	}

	_, err := cache.Get(context.Background(), lib)
	require.Error(t, err)

	s, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)
	assert.Len(t, s, 4)
	assert.Equal(t, 2, calls)
}

func TestCacheGet_FiltersToListedFields(t *testing.T) {
	cache := NewCache(func(ctx context.Context, library string) (Schema, error) {
		return fullSchema(), nil
	})

	lib := &config.LibraryConfig{
		Name: "restricted",
		Permissions: config.Permissions{
			Read:  config.Grant{Allowed: true, Fields: []string{"title"}},
			Write: config.Grant{Allowed: true, Fields: []string{"tags"}},
		},
	}

	s, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)
	assert.Len(t, s, 2)
	assert.Contains(t, s, "title")
	assert.Contains(t, s, "tags")
	assert.NotContains(t, s, "rating")
}

func TestCacheGet_BlanketGrantSeesEverything(t *testing.T) {
	cache := NewCache(func(ctx context.Context, library string) (Schema, error) {
		return fullSchema(), nil
	})

	lib := &config.LibraryConfig{
		Name: "open",
		Permissions: config.Permissions{
			Read:  config.Grant{Allowed: true},
			Write: config.Grant{Allowed: true, Fields: []string{"tags"}},
		},
	}

	s, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)
	assert.Len(t, s, 4)
}

func TestCacheInvalidate(t *testing.T) {
	calls := 0
	cache := NewCache(func(ctx context.Context, library string) (Schema, error) {
		calls++
		return fullSchema(), nil
	})

	lib := &config.LibraryConfig{
		Name:        "main",
		Permissions: config.Permissions{Read: config.Grant{Allowed: true}},
	}

	_, err := cache.Get(context.Background(), lib)
	require.NoError(t, err)

	cache.Invalidate("main")

	_, err = cache.Get(context.Background(), lib)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestParseSchema(t *testing.T) {
	raw := []byte(`{"title": {"datatype": "text"}, "#shelf": {"datatype": "enumeration", "allowed_values": ["a", "b"], "is_custom": true}}`)
	s, err := ParseSchema(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeText, s["title"].Datatype)
	assert.True(t, s["#shelf"].IsCustom)
	assert.Equal(t, []string{"a", "b"}, s["#shelf"].AllowedValues)

	_, err = ParseSchema([]byte(`not json`))
	assert.Error(t, err)
}
