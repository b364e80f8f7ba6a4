// ABOUTME: Field schema types and the per-library schema cache.
// ABOUTME: Schemas are fetched once per library and memoized for the process lifetime.

package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/2389/shelf-gateway/internal/config"
)

// Field datatype tags understood by the validator.
const (
	TypeText        = "text"
	TypeSeries      = "series"
	TypeRating      = "rating"
	TypeDatetime    = "datetime"
	TypeInt         = "int"
	TypeFloat       = "float"
	TypeComposite   = "composite"
	TypeEnumeration = "enumeration"
	TypeComments    = "comments"
	TypeBool        = "bool"
)

// FieldSchema describes one metadata field of a library.
type FieldSchema struct {
	Datatype      string   `json:"datatype"`
	Label         string   `json:"label,omitempty"`
	Separator     string   `json:"separator,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	IsCustom      bool     `json:"is_custom,omitempty"`
}

// Schema maps field names to their descriptions.
type Schema map[string]FieldSchema

// FetchFunc retrieves a library's schema from its backend worker.
type FetchFunc func(ctx context.Context, library string) (Schema, error)

// Cache memoizes library schemas. Library schemas do not change at runtime in
// this design, so an entry lives for the cache's lifetime.
type Cache struct {
	mu      sync.Mutex
	schemas map[string]Schema
	fetch   FetchFunc
}

// NewCache creates a schema cache backed by the given fetch function.
func NewCache(fetch FetchFunc) *Cache {
	return &Cache{
		schemas: make(map[string]Schema),
		fetch:   fetch,
	}
}

// Get returns the schema for a library, fetching and memoizing it on first use.
//
// When neither the read nor the write grant is a blanket boolean true, the
// schema is filtered to the union of the listed fields so the agent only sees
// columns it can touch. The filtered form is what gets cached.
func (c *Cache) Get(ctx context.Context, lib *config.LibraryConfig) (Schema, error) {
	c.mu.Lock()
	if s, ok := c.schemas[lib.Name]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock: the round trip to the worker blocks.
	fetched, err := c.fetch(ctx, lib.Name)
	if err != nil {
		return nil, fmt.Errorf("fetching schema for library %q: %w", lib.Name, err)
	}

	result := filterForPermissions(fetched, lib.Permissions)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schemas[lib.Name]; ok {
		// Another caller fetched concurrently; keep the first entry.
		return s, nil
	}
	c.schemas[lib.Name] = result
	return result, nil
}

// Invalidate drops the cached schema for a library.
func (c *Cache) Invalidate(library string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, library)
}

func filterForPermissions(s Schema, perms config.Permissions) Schema {
	// A blanket grant on either side means the agent should see all columns.
	if (perms.Read.Allowed && !perms.Read.IsList()) ||
		(perms.Write.Allowed && !perms.Write.IsList()) {
		return s
	}

	allowed := make(map[string]struct{})
	for _, f := range perms.Read.Fields {
		allowed[f] = struct{}{}
	}
	for _, f := range perms.Write.Fields {
		allowed[f] = struct{}{}
	}

	filtered := make(Schema, len(allowed))
	for name, field := range s {
		if _, ok := allowed[name]; ok {
			filtered[name] = field
		}
	}
	return filtered
}

// ParseSchema decodes a schema from its wire representation.
func ParseSchema(raw json.RawMessage) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return s, nil
}
