// ABOUTME: SQLite-backed library store owned by one worker process.
// ABOUTME: Schema is created on open; an FTS5 index mirrors the searchable text.

package worker

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389/shelf-gateway/internal/schema"
)

const (
	authorSeparator = " & "
	listSeparator   = ","
)

// fieldColumn whitelists the updatable scalar columns of the books table.
var fieldColumn = map[string]string{
	"title":        "title",
	"series":       "series",
	"series_index": "series_index",
	"rating":       "rating",
	"pubdate":      "pubdate",
	"timestamp":    "timestamp",
	"publisher":    "publisher",
	"comments":     "comments",
}

// listFields maps multi-valued fields to their separators.
var listFields = map[string]string{
	"authors":   authorSeparator,
	"tags":      listSeparator,
	"languages": listSeparator,
}

// searchableColumns can be targeted by field:value query tokens.
var searchableColumns = map[string]bool{
	"title": true, "authors": true, "tags": true, "series": true,
	"publisher": true, "languages": true, "comments": true,
}

// Store is one library's database plus its format files on disk.
type Store struct {
	db      *sql.DB
	root    string
	columns map[string]CustomColumn
	logger  *slog.Logger
}

// OpenStore opens (creating if needed) the library at root. The database
// lives at <root>/metadata.db and format files under <root>/books/<id>/.
func OpenStore(root string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating library root: %w", err)
	}

	columns, err := loadCustomColumns(root)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers from blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, root: root, columns: columns, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("library store opened", "root", root, "custom_columns", len(columns))
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Root returns the library's filesystem root.
func (s *Store) Root() string { return s.root }

func (s *Store) createSchema() error {
	ddl := `
		CREATE TABLE IF NOT EXISTS books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL DEFAULT 'Unknown',
			authors TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			series TEXT,
			series_index REAL,
			rating INTEGER,
			pubdate TEXT,
			timestamp TEXT NOT NULL,
			publisher TEXT,
			languages TEXT NOT NULL DEFAULT '',
			identifiers TEXT NOT NULL DEFAULT '{}',
			comments TEXT
		);

		CREATE TABLE IF NOT EXISTS custom_values (
			book_id INTEGER NOT NULL,
			field TEXT NOT NULL,
			value TEXT,
			PRIMARY KEY (book_id, field),
			FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS formats (
			book_id INTEGER NOT NULL,
			format TEXT NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (book_id, format),
			FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS books_fts USING fts5(
			book_id UNINDEXED, title, authors, comments,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return nil
}

// Schema describes every field of this library, standard and custom.
func (s *Store) Schema() schema.Schema {
	out := schema.Schema{
		"title":        {Datatype: schema.TypeText, Label: "Title"},
		"authors":      {Datatype: schema.TypeText, Label: "Authors", Separator: authorSeparator},
		"tags":         {Datatype: schema.TypeText, Label: "Tags", Separator: listSeparator},
		"series":       {Datatype: schema.TypeSeries, Label: "Series"},
		"series_index": {Datatype: schema.TypeFloat, Label: "Series Index"},
		"rating":       {Datatype: schema.TypeRating, Label: "Rating"},
		"pubdate":      {Datatype: schema.TypeDatetime, Label: "Published"},
		"timestamp":    {Datatype: schema.TypeDatetime, Label: "Date Added"},
		"publisher":    {Datatype: schema.TypeText, Label: "Publisher"},
		"languages":    {Datatype: schema.TypeText, Label: "Languages", Separator: listSeparator},
		"identifiers":  {Datatype: schema.TypeText, Label: "Identifiers"},
		"comments":     {Datatype: schema.TypeComments, Label: "Comments"},
		"formats":      {Datatype: schema.TypeComposite, Label: "Formats"},
	}
	for name, col := range s.columns {
		out["#"+name] = schema.FieldSchema{
			Datatype:      col.Datatype,
			Label:         col.Label,
			Separator:     col.Separator,
			AllowedValues: col.AllowedValues,
			IsCustom:      true,
		}
	}
	return out
}

const bookColumns = "id, title, authors, tags, series, series_index, rating, pubdate, timestamp, publisher, languages, identifiers, comments"

type bookRow struct {
	id          int
	title       string
	authors     string
	tags        string
	series      sql.NullString
	seriesIndex sql.NullFloat64
	rating      sql.NullInt64
	pubdate     sql.NullString
	timestamp   string
	publisher   sql.NullString
	languages   string
	identifiers string
	comments    sql.NullString
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(sc rowScanner) (bookRow, error) {
	var b bookRow
	err := sc.Scan(&b.id, &b.title, &b.authors, &b.tags, &b.series, &b.seriesIndex,
		&b.rating, &b.pubdate, &b.timestamp, &b.publisher, &b.languages,
		&b.identifiers, &b.comments)
	return b, err
}

// record assembles the externally visible book record: lists split, custom
// values attached, formats included.
func (s *Store) record(b bookRow) (map[string]any, error) {
	rec := map[string]any{
		"book_id":   b.id,
		"title":     b.title,
		"authors":   splitList(b.authors, authorSeparator),
		"tags":      splitList(b.tags, listSeparator),
		"languages": splitList(b.languages, listSeparator),
		"timestamp": b.timestamp,
	}
	if b.series.Valid {
		rec["series"] = b.series.String
	}
	if b.seriesIndex.Valid {
		rec["series_index"] = b.seriesIndex.Float64
	}
	if b.rating.Valid {
		rec["rating"] = int(b.rating.Int64)
	}
	if b.pubdate.Valid {
		rec["pubdate"] = b.pubdate.String
	}
	if b.publisher.Valid {
		rec["publisher"] = b.publisher.String
	}
	if b.comments.Valid {
		rec["comments"] = b.comments.String
	}

	var identifiers map[string]string
	if err := json.Unmarshal([]byte(b.identifiers), &identifiers); err == nil && len(identifiers) > 0 {
		rec["identifiers"] = identifiers
	}

	formats, err := s.Formats(b.id)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Format
	}
	rec["formats"] = names

	rows, err := s.db.Query("SELECT field, value FROM custom_values WHERE book_id = ?", b.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var field string
		var value sql.NullString
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		if !value.Valid {
			continue
		}
		name := strings.TrimPrefix(field, "#")
		if col, ok := s.columns[name]; ok && col.Separator != "" {
			rec[field] = splitList(value.String, col.Separator)
		} else {
			rec[field] = value.String
		}
	}
	return rec, rows.Err()
}

// SearchBooks runs a metadata query. Tokens of the form field:value target
// one column; bare words match across title, authors, tags, and comments.
func (s *Store) SearchBooks(query string, limit, offset int, fields []string, textFieldLimit int) ([]map[string]any, error) {
	where, args := buildSearchQuery(query)
	if limit <= 0 {
		limit = 10
	}

	q := fmt.Sprintf("SELECT %s FROM books WHERE %s ORDER BY id LIMIT ? OFFSET ?", bookColumns, where)
	rows, err := s.db.Query(q, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("searching books: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		rec, err := s.record(b)
		if err != nil {
			return nil, err
		}
		applyProjection(rec, fields, textFieldLimit)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildSearchQuery(query string) (string, []any) {
	var clauses []string
	var args []any

	for _, token := range strings.Fields(query) {
		field, value, isPair := strings.Cut(token, ":")
		switch {
		case isPair && searchableColumns[field]:
			clauses = append(clauses, field+" LIKE ?")
			args = append(args, "%"+value+"%")
		case isPair && strings.HasPrefix(field, "#"):
			clauses = append(clauses,
				"EXISTS (SELECT 1 FROM custom_values cv WHERE cv.book_id = books.id AND cv.field = ? AND cv.value LIKE ?)")
			args = append(args, field, "%"+value+"%")
		default:
			clauses = append(clauses, "(title LIKE ? OR authors LIKE ? OR tags LIKE ? OR comments LIKE ?)")
			like := "%" + token + "%"
			args = append(args, like, like, like, like)
		}
	}

	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// GetBookDetails fetches one book's record.
func (s *Store) GetBookDetails(bookID int, fields []string) (map[string]any, error) {
	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM books WHERE id = ?", bookColumns), bookID)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("book %d not found", bookID)
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.record(b)
	if err != nil {
		return nil, err
	}
	applyProjection(rec, fields, 0)
	return rec, nil
}

// UpdateBook applies an already-normalized change set to one book.
func (s *Store) UpdateBook(bookID int, changes map[string]any) error {
	if _, err := s.GetBookDetails(bookID, []string{"book_id"}); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := changes[field]
		switch {
		case field == "identifiers":
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding identifiers: %w", err)
			}
			if _, err := tx.Exec("UPDATE books SET identifiers = ? WHERE id = ?", string(encoded), bookID); err != nil {
				return err
			}
		case listFields[field] != "":
			joined := joinList(value, listFields[field])
			if _, err := tx.Exec(fmt.Sprintf("UPDATE books SET %s = ? WHERE id = ?", field), joined, bookID); err != nil {
				return err
			}
		case fieldColumn[field] != "":
			if _, err := tx.Exec(fmt.Sprintf("UPDATE books SET %s = ? WHERE id = ?", fieldColumn[field]), sqlValue(value), bookID); err != nil {
				return err
			}
		case strings.HasPrefix(field, "#"):
			name := strings.TrimPrefix(field, "#")
			col, known := s.columns[name]
			if !known {
				return fmt.Errorf("unknown custom field %q", field)
			}
			if value == nil {
				if _, err := tx.Exec("DELETE FROM custom_values WHERE book_id = ? AND field = ?", bookID, field); err != nil {
					return err
				}
				continue
			}
			stored := valueToString(value, col.Separator)
			if _, err := tx.Exec(
				"INSERT INTO custom_values (book_id, field, value) VALUES (?, ?, ?) ON CONFLICT(book_id, field) DO UPDATE SET value = excluded.value",
				bookID, field, stored); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown field %q", field)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return s.refreshFTS(bookID)
}

// BulkUpdate sets one field across many books. With oldValue set, only books
// whose current value matches are touched.
func (s *Store) BulkUpdate(field string, oldValue, newValue any, bookIDs []int) (map[string]any, error) {
	ids := bookIDs
	if len(ids) == 0 {
		rows, err := s.db.Query("SELECT id FROM books ORDER BY id")
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	updated := 0
	var errs []string
	for _, id := range ids {
		if oldValue != nil {
			rec, err := s.GetBookDetails(id, nil)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			if fmt.Sprint(rec[field]) != fmt.Sprint(oldValue) {
				continue
			}
		}
		if err := s.UpdateBook(id, map[string]any{field: newValue}); err != nil {
			errs = append(errs, fmt.Sprintf("book %d: %v", id, err))
			continue
		}
		updated++
	}

	return map[string]any{
		"status":          "completed",
		"updated_count":   updated,
		"processed_count": len(ids),
		"errors":          errs,
	}, nil
}

// AddBooks imports files into the library, one new book per file.
func (s *Store) AddBooks(paths []string) ([]int, error) {
	var ids []int
	for _, src := range paths {
		if _, err := os.Stat(src); err != nil {
			return ids, fmt.Errorf("source file %q: %w", src, err)
		}

		base := filepath.Base(src)
		title := strings.TrimSuffix(base, filepath.Ext(base))

		res, err := s.db.Exec("INSERT INTO books (title, timestamp) VALUES (?, ?)",
			title, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return ids, err
		}
		id64, err := res.LastInsertId()
		if err != nil {
			return ids, err
		}
		id := int(id64)

		dest := filepath.Join(s.bookDir(id), base)
		if err := copyFile(src, dest); err != nil {
			return ids, err
		}

		format := strings.ToUpper(strings.TrimPrefix(filepath.Ext(base), "."))
		if format == "" {
			format = "BIN"
		}
		if _, err := s.db.Exec("INSERT INTO formats (book_id, format, path) VALUES (?, ?, ?)",
			id, format, dest); err != nil {
			return ids, err
		}

		if err := s.refreshFTS(id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteBook removes a book entirely, or only the named formats.
func (s *Store) DeleteBook(bookID int, formats []string) (string, error) {
	if _, err := s.GetBookDetails(bookID, []string{"book_id"}); err != nil {
		return "", err
	}

	if len(formats) > 0 {
		for _, format := range formats {
			format = strings.ToUpper(format)
			var path string
			err := s.db.QueryRow("SELECT path FROM formats WHERE book_id = ? AND format = ?", bookID, format).Scan(&path)
			if err == sql.ErrNoRows {
				return "", fmt.Errorf("book %d has no %s format", bookID, format)
			}
			if err != nil {
				return "", err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("removing format file failed", "path", path, "error", err)
			}
			if _, err := s.db.Exec("DELETE FROM formats WHERE book_id = ? AND format = ?", bookID, format); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("Deleted formats [%s] from book %d", strings.Join(formats, ", "), bookID), nil
	}

	if _, err := s.db.Exec("DELETE FROM books WHERE id = ?", bookID); err != nil {
		return "", err
	}
	if _, err := s.db.Exec("DELETE FROM books_fts WHERE book_id = ?", bookID); err != nil {
		return "", err
	}
	if err := os.RemoveAll(s.bookDir(bookID)); err != nil {
		s.logger.Warn("removing book directory failed", "book_id", bookID, "error", err)
	}
	return fmt.Sprintf("Book %d deleted", bookID), nil
}

// FieldValueCounts tallies the distinct values of one field, optionally
// limited to certain books and filtered by a value regex.
func (s *Store) FieldValueCounts(field string, bookIDs []int, pattern string) (map[string]int, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
	}

	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM books ORDER BY id", bookColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wanted := make(map[int]bool, len(bookIDs))
	for _, id := range bookIDs {
		wanted[id] = true
	}

	counts := make(map[string]int)
	addValue := func(v string) {
		if v == "" || (re != nil && !re.MatchString(v)) {
			return
		}
		counts[v]++
	}

	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[b.id] {
			continue
		}
		rec, err := s.record(b)
		if err != nil {
			return nil, err
		}

		switch v := rec[field].(type) {
		case nil:
		case []string:
			for _, item := range v {
				addValue(item)
			}
		case string:
			addValue(v)
		default:
			addValue(fmt.Sprint(v))
		}
	}
	return counts, rows.Err()
}

// FTSSearch queries the full-text index, best matches first.
func (s *Store) FTSSearch(query string) ([]map[string]any, error) {
	rows, err := s.db.Query(`
		SELECT book_id, title, snippet(books_fts, 3, '[', ']', '…', 12)
		FROM books_fts WHERE books_fts MATCH ? ORDER BY rank LIMIT 20`, query)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	hits := make([]map[string]any, 0)
	for rows.Next() {
		var bookID int
		var title, excerpt string
		if err := rows.Scan(&bookID, &title, &excerpt); err != nil {
			return nil, err
		}
		hits = append(hits, map[string]any{
			"book_id": bookID,
			"title":   title,
			"excerpt": excerpt,
		})
	}
	return hits, rows.Err()
}

// FormatEntry is one format file of a book.
type FormatEntry struct {
	Format string
	Path   string
}

// Formats lists a book's format files sorted by format name.
func (s *Store) Formats(bookID int) ([]FormatEntry, error) {
	rows, err := s.db.Query("SELECT format, path FROM formats WHERE book_id = ? ORDER BY format", bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FormatEntry
	for rows.Next() {
		var f FormatEntry
		if err := rows.Scan(&f.Format, &f.Path); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) bookDir(bookID int) string {
	return filepath.Join(s.root, "books", strconv.Itoa(bookID))
}

// refreshFTS rewrites a book's full-text index row.
func (s *Store) refreshFTS(bookID int) error {
	if _, err := s.db.Exec("DELETE FROM books_fts WHERE book_id = ?", bookID); err != nil {
		return err
	}

	row := s.db.QueryRow("SELECT title, authors, comments FROM books WHERE id = ?", bookID)
	var title, authors string
	var comments sql.NullString
	if err := row.Scan(&title, &authors, &comments); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	_, err := s.db.Exec("INSERT INTO books_fts (book_id, title, authors, comments) VALUES (?, ?, ?, ?)",
		bookID, title, authors, comments.String)
	return err
}

func applyProjection(rec map[string]any, fields []string, textFieldLimit int) {
	if len(fields) > 0 {
		keep := make(map[string]bool, len(fields)+1)
		keep["book_id"] = true
		for _, f := range fields {
			keep[f] = true
		}
		for key := range rec {
			if !keep[key] {
				delete(rec, key)
			}
		}
	}

	if textFieldLimit > 0 {
		for key, value := range rec {
			if s, ok := value.(string); ok && len(s) > textFieldLimit {
				rec[key] = s[:textFieldLimit]
			}
		}
	}
}

func splitList(joined, sep string) []string {
	if joined == "" {
		return []string{}
	}
	parts := strings.Split(joined, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinList(value any, sep string) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, sep)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, sep)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func valueToString(value any, sep string) string {
	if sep != "" {
		return joinList(value, sep)
	}
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// sqlValue maps normalized change values to driver-friendly types.
func sqlValue(value any) any {
	switch v := value.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
