// ABOUTME: Import and export operations gated by per-library path allow-lists.
// ABOUTME: Directory listings scan every allowed root concurrently.

package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"github.com/2389/shelf-gateway/internal/permission"
)

// sourceFormatPriority orders formats by how well they convert and read.
// Used when an export does not name a format.
var sourceFormatPriority = []string{"EPUB", "AZW3", "MOBI", "DOCX", "HTML", "TXT", "PDF"}

// bookExtensions are the file extensions considered importable.
var bookExtensions = map[string]bool{
	".epub": true, ".mobi": true, ".azw3": true, ".azw": true,
	".pdf": true, ".txt": true, ".docx": true, ".html": true,
	".rtf": true, ".odt": true, ".fb2": true,
}

// AddBook imports files into a library. Every path must fall inside the
// import allow-list. Optional metadata changes are applied to the new books
// best-effort, and the source files can be removed afterwards when the
// library's import config permits it.
func (s *Service) AddBook(ctx context.Context, library string, filePaths []string, changes map[string]any, deleteSource bool) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if lib.Import == nil {
		return nil, permission.Denied("Import is not configured for library %q.", lib.Name)
	}
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("add_book requires at least one file path")
	}
	if deleteSource && !lib.Import.AllowDeleteSource {
		return nil, permission.Denied("Deleting source files after import is not allowed for library %q.", lib.Name)
	}

	resolved := make([]string, len(filePaths))
	for i, p := range filePaths {
		abs, err := permission.ValidatePathInAllowed(p, lib.Import.AllowedPaths, "Import")
		if err != nil {
			return nil, err
		}
		resolved[i] = abs
	}

	var imported struct {
		Status  string `json:"status"`
		BookIDs []int  `json:"book_ids"`
	}
	if err := s.call(ctx, lib.Name, "add_book", map[string]any{"file_paths": resolved}, &imported); err != nil {
		return nil, err
	}

	result := map[string]any{
		"library":  lib.Name,
		"status":   imported.Status,
		"book_ids": imported.BookIDs,
	}

	if len(changes) > 0 && len(imported.BookIDs) > 0 {
		updates := make([]map[string]any, 0, len(imported.BookIDs))
		for _, id := range imported.BookIDs {
			entry := map[string]any{"book_id": id}
			if _, err := s.UpdateBook(ctx, lib.Name, id, changes); err != nil {
				s.logger.Warn("post-import metadata update failed",
					"library", lib.Name, "book_id", id, "error", err)
				entry["error"] = err.Error()
			} else {
				entry["status"] = "updated"
			}
			updates = append(updates, entry)
		}
		result["metadata_update"] = updates
	}

	if deleteSource {
		removed := make([]map[string]any, 0, len(resolved))
		for _, p := range resolved {
			entry := map[string]any{"path": p}
			if err := os.Remove(p); err != nil {
				s.logger.Warn("deleting import source failed", "path", p, "error", err)
				entry["error"] = err.Error()
			} else {
				entry["status"] = "deleted"
			}
			removed = append(removed, entry)
		}
		result["delete_source"] = removed
	}

	return result, nil
}

// ExportBook writes one of a book's format files to an allowed destination.
// With no format named, the best available source format is chosen. The
// destination extension is corrected to match the format, and an existing
// destination is only replaced when the export config allows overwrites.
func (s *Service) ExportBook(ctx context.Context, library string, bookID int, format, filePath string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if lib.Export == nil {
		return nil, permission.Denied("Export is not configured for library %q.", lib.Name)
	}

	dest, err := permission.ValidatePathInAllowed(filePath, lib.Export.AllowedPaths, "Export")
	if err != nil {
		return nil, err
	}

	if format == "" {
		format, err = s.pickExportFormat(ctx, lib.Name, bookID)
		if err != nil {
			return nil, err
		}
	}
	format = strings.ToUpper(format)

	dest = correctExtension(dest, format)

	if _, err := os.Stat(dest); err == nil && !lib.Export.AllowOverwriteDestination {
		return nil, permission.Denied("Export denied. Destination %q already exists and overwriting is not allowed.", dest)
	}

	params := map[string]any{"book_id": bookID, "format": format, "file_path": dest}
	var out map[string]any
	if err := s.call(ctx, lib.Name, "export_book", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// pickExportFormat chooses the book's best format by priority, falling back
// to whatever it has.
func (s *Service) pickExportFormat(ctx context.Context, library string, bookID int) (string, error) {
	formats, err := s.bookFormats(ctx, library, bookID)
	if err != nil {
		return "", err
	}
	if len(formats) == 0 {
		return "", fmt.Errorf("book %d has no format files to export", bookID)
	}
	for _, preferred := range sourceFormatPriority {
		for _, f := range formats {
			if f == preferred {
				return preferred, nil
			}
		}
	}
	return formats[0], nil
}

// correctExtension makes the destination file extension match the format.
func correctExtension(path, format string) string {
	want := "." + strings.ToLower(format)
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, want) {
		return path
	}
	return strings.TrimSuffix(path, ext) + want
}

// DirListing is the contents of one allow-listed directory.
type DirListing struct {
	Directory string     `json:"directory"`
	Files     []FileInfo `json:"files,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// FileInfo describes one file in a listing.
type FileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListImportableFiles lists the book files in every import-allowed directory.
func (s *Service) ListImportableFiles(ctx context.Context, library string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if lib.Import == nil {
		return nil, permission.Denied("Import is not configured for library %q.", lib.Name)
	}

	return map[string]any{
		"library":     lib.Name,
		"directories": scanDirs(lib.Import.AllowedPaths, true),
	}, nil
}

// ListExportableFiles lists the export-allowed directories and what already
// sits in them, so a caller can anticipate destination collisions.
func (s *Service) ListExportableFiles(ctx context.Context, library string) (any, error) {
	lib, err := s.library(library)
	if err != nil {
		return nil, err
	}
	if lib.Export == nil {
		return nil, permission.Denied("Export is not configured for library %q.", lib.Name)
	}

	return map[string]any{
		"library":     lib.Name,
		"directories": scanDirs(lib.Export.AllowedPaths, false),
	}, nil
}

// scanDirs reads every directory concurrently. With booksOnly set, files
// without a known book extension are skipped.
func scanDirs(dirs []string, booksOnly bool) []DirListing {
	return iter.Map(dirs, func(dir *string) DirListing {
		return scanDir(*dir, booksOnly)
	})
}

func scanDir(dir string, booksOnly bool) DirListing {
	listing := DirListing{Directory: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		listing.Error = err.Error()
		return listing
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if booksOnly && !bookExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		listing.Files = append(listing.Files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(listing.Files, func(i, j int) bool {
		return listing.Files[i].Name < listing.Files[j].Name
	})
	return listing
}
