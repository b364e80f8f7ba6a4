// ABOUTME: Book text extraction, format conversion, and export for the store.
// ABOUTME: Reading prefers TXT; conversion produces TXT from HTML-ish sources.

package worker

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// conversionPriority orders source formats by how well they convert to text.
var conversionPriority = []string{"TXT", "HTML", "HTM", "EPUB", "AZW3", "MOBI", "DOCX", "RTF", "FB2", "PDF"}

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// BookContent returns a slice of the book's plain text. Without a TXT format
// on disk, autoConvert decides whether to produce one first.
func (s *Store) BookContent(bookID, limit, offset int, autoConvert bool) (map[string]any, error) {
	path, err := s.formatPath(bookID, "TXT")
	if err != nil {
		return nil, err
	}
	if path == "" {
		if !autoConvert {
			return nil, fmt.Errorf("book %d has no TXT format and conversion is not enabled", bookID)
		}
		if _, err := s.ConvertBook(bookID, "TXT"); err != nil {
			return nil, err
		}
		if path, err = s.formatPath(bookID, "TXT"); err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("book %d conversion produced no TXT format", bookID)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading book content: %w", err)
	}
	content := string(data)
	total := len(content)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return map[string]any{
		"content":      content[offset:end],
		"total_length": total,
		"format":       "TXT",
	}, nil
}

// ConvertBook produces the target format from the best available source.
// Only TXT targets are supported. An existing target file is replaced.
func (s *Store) ConvertBook(bookID int, target string) (map[string]any, error) {
	target = strings.ToUpper(target)
	if target != "TXT" {
		return nil, fmt.Errorf("unsupported conversion target %q, only TXT is supported", target)
	}

	formats, err := s.Formats(bookID)
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("book %d has no formats to convert from", bookID)
	}

	source := pickConversionSource(formats, target)
	if source == nil {
		return nil, fmt.Errorf("book %d has no convertible source format", bookID)
	}

	data, err := os.ReadFile(source.Path)
	if err != nil {
		return nil, fmt.Errorf("reading source format: %w", err)
	}
	text := extractText(data, source.Format)

	// Replace an existing TXT file rather than stacking copies.
	if existing, err := s.formatPath(bookID, target); err != nil {
		return nil, err
	} else if existing != "" {
		if err := os.Remove(existing); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if _, err := s.db.Exec("DELETE FROM formats WHERE book_id = ? AND format = ?", bookID, target); err != nil {
			return nil, err
		}
	}

	base := strings.TrimSuffix(filepath.Base(source.Path), filepath.Ext(source.Path))
	dest := filepath.Join(s.bookDir(bookID), base+".txt")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(dest, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("writing converted file: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO formats (book_id, format, path) VALUES (?, ?, ?)",
		bookID, target, dest); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":        "converted",
		"book_id":       bookID,
		"source_format": source.Format,
		"target_format": target,
	}, nil
}

// ExportBook copies one format file to destPath, converting to TXT first if
// the requested format is missing but producible.
func (s *Store) ExportBook(bookID int, format, destPath string) (map[string]any, error) {
	format = strings.ToUpper(format)
	wasConverted := false

	path, err := s.formatPath(bookID, format)
	if err != nil {
		return nil, err
	}
	if path == "" {
		if format != "TXT" {
			return nil, fmt.Errorf("book %d has no %s format", bookID, format)
		}
		if _, err := s.ConvertBook(bookID, "TXT"); err != nil {
			return nil, err
		}
		if path, err = s.formatPath(bookID, format); err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("book %d conversion produced no %s format", bookID, format)
		}
		wasConverted = true
	}

	if err := copyFile(path, destPath); err != nil {
		return nil, fmt.Errorf("exporting book: %w", err)
	}

	return map[string]any{
		"status":        "exported",
		"book_id":       bookID,
		"format":        format,
		"file_path":     destPath,
		"was_converted": wasConverted,
	}, nil
}

// formatPath returns the file path for one format, or "" when absent.
func (s *Store) formatPath(bookID int, format string) (string, error) {
	formats, err := s.Formats(bookID)
	if err != nil {
		return "", err
	}
	for _, f := range formats {
		if f.Format == format {
			return f.Path, nil
		}
	}
	return "", nil
}

func pickConversionSource(formats []FormatEntry, target string) *FormatEntry {
	byName := make(map[string]*FormatEntry, len(formats))
	for i := range formats {
		byName[formats[i].Format] = &formats[i]
	}
	for _, name := range conversionPriority {
		if name == target {
			continue
		}
		if f, ok := byName[name]; ok {
			return f
		}
	}
	for i := range formats {
		if formats[i].Format != target {
			return &formats[i]
		}
	}
	return nil
}

// extractText reduces a source file to plain text. HTML-like sources get
// their tags stripped; everything else keeps printable bytes as-is.
func extractText(data []byte, format string) string {
	text := strings.ReplaceAll(string(data), "\x00", "")
	switch format {
	case "HTML", "HTM", "EPUB", "FB2":
		text = tagRe.ReplaceAllString(text, " ")
		text = html.UnescapeString(text)
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n")) + "\n"
}
