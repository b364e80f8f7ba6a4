// Package permission enforces per-library capability grants.
//
// Absence of a grant means denial. Read and write grants may be field lists,
// in which case field-level checks apply. Denials are *DeniedError so the
// surface layer can render them distinctly from internal failures.
//
// ValidatePathInAllowed guards import/export filesystem access: paths are
// made absolute, symlinks resolved, and the result must sit under one of the
// configured allowed directories.
package permission
