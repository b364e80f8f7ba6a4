// Package schema caches library field schemas and validates metadata writes.
//
// Schemas come from the worker once per library and are memoized until
// Invalidate. Validate normalizes a change set against the field datatypes
// (series strings like "Name [3]" split into name and index, ratings clamp
// to 0..10, datetimes parse to RFC 3339) and rejects the whole set when any
// field fails, so partial updates never reach a worker. Fields with unknown
// datatypes pass through unchanged and are reported as unvalidated.
package schema
