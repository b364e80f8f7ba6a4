// Package library implements the gateway's operation layer.
//
// # Overview
//
// Service sits between the MCP surface and the worker pool. Every operation
// follows the same shape:
//
//  1. Resolve the target library (explicit name, or the configured default).
//  2. Check the library's permission grants.
//  3. Validate and normalize inputs where the operation writes metadata.
//  4. Dispatch to the library's worker and shape the response.
//
// Nothing reaches a worker before its permission check passes, and list-valued
// read grants filter both the request projection and the response records.
//
// # Tool Table
//
// Tools() builds the declarative tool table once from the aggregate
// capabilities of the configuration: write tools only exist when some
// library grants write, import/export tools only when a transfer section is
// configured, and the library selector parameter only appears when more than
// one library is configured. Per-library enforcement still happens on every
// call; the table only decides what is advertised.
//
// # Content Search
//
// SearchBookContent fetches the full book text once, finds minimal windows
// covering all query terms, and caches the rendered matches so paging
// through results does not re-fetch content.
package library
