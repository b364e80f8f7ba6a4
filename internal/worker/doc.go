// Package worker implements the library backend process.
//
// # Overview
//
// A worker owns exactly one library: a directory holding metadata.db, the
// per-book format files under books/<id>/, and an optional columns.toml
// declaring custom metadata columns. The gateway launches one worker per
// library and talks to it over stdio.
//
// # Storage
//
// Metadata lives in SQLite with WAL mode:
//
//   - books: one row per book with the standard fields
//   - custom_values: (book_id, field, value) rows for custom columns
//   - formats: (book_id, format, path) rows for files on disk
//   - books_fts: FTS5 index over title, authors, and comments with
//     porter stemming
//
// The FTS index is maintained in code: every add, update, and delete
// rewrites the affected row.
//
// # Protocol
//
// Server reads one JSON-RPC 2.0 request per stdin line and writes one
// response per stdout line. On startup it announces readiness on stderr:
//
//	{"status":"ready","library":"/path/to/library"}
//
// Unknown methods answer -32601, operation failures -32603, and malformed
// requests -32700. stdout is reserved for the protocol; logs go to stderr.
//
// # Conversion
//
// Only TXT is a supported conversion target. HTML-like sources get their
// markup stripped; everything else is treated as text with control bytes
// removed. Reading book content prefers an existing TXT file and converts
// on demand when the caller allows it.
package worker
