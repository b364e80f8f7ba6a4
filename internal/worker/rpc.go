// ABOUTME: Line-delimited JSON-RPC loop a worker process runs over stdio.
// ABOUTME: Requests arrive on stdin, responses leave on stdout, one per line.

package worker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server serves a library's RPC methods over a reader/writer pair, normally
// the process's stdin and stdout. Diagnostics go to diag (normally stderr).
type Server struct {
	store  *Store
	in     io.Reader
	out    io.Writer
	diag   io.Writer
	logger *slog.Logger
}

// NewServer wires a store to its transport streams.
func NewServer(store *Store, in io.Reader, out, diag io.Writer) *Server {
	return &Server{
		store:  store,
		in:     in,
		out:    out,
		diag:   diag,
		logger: slog.Default().With("component", "worker-rpc"),
	}
}

// Run announces readiness on diag and then serves requests until stdin
// closes. Each stdin line is one request; each stdout line one response.
func (s *Server) Run() error {
	fmt.Fprintf(s.diag, "{\"status\":\"ready\",\"library\":%q}\n", s.store.Root())

	reader := bufio.NewReaderSize(s.in, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if strings.TrimSpace(line) != "" {
					s.handleLine(line)
				}
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.handleLine(line)
	}
}

func (s *Server) handleLine(line string) {
	var req rpcRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.respond(rpcResponse{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	result, rerr := s.dispatch(req.Method, req.Params)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	if rerr != nil {
		resp.Error = rerr
	} else {
		resp.Result = result
	}
	s.respond(resp)
}

func (s *Server) respond(resp rpcResponse) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response failed", "error", err)
		return
	}
	fmt.Fprintf(s.out, "%s\n", encoded)
}

func (s *Server) dispatch(method string, params json.RawMessage) (any, *rpcError) {
	handler, ok := s.handlers()[method]
	if !ok {
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", method)}
	}

	result, err := handler(params)
	if err != nil {
		var perr *paramsError
		if errors.As(err, &perr) {
			return nil, &rpcError{Code: codeParseError, Message: perr.Error()}
		}
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return result, nil
}

type paramsError struct{ err error }

func (e *paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &paramsError{err: err}
	}
	return nil
}

func (s *Server) handlers() map[string]func(json.RawMessage) (any, error) {
	return map[string]func(json.RawMessage) (any, error){
		"search_books":           s.handleSearchBooks,
		"get_book_details":       s.handleGetBookDetails,
		"get_book_content":       s.handleGetBookContent,
		"get_library_schema":     s.handleGetLibrarySchema,
		"get_field_value_counts": s.handleGetFieldValueCounts,
		"fts_search":             s.handleFTSSearch,
		"update_book":            s.handleUpdateBook,
		"bulk_update_metadata":   s.handleBulkUpdateMetadata,
		"delete_book":            s.handleDeleteBook,
		"convert_book":           s.handleConvertBook,
		"add_book":               s.handleAddBook,
		"export_book":            s.handleExportBook,
	}
}

func (s *Server) handleSearchBooks(raw json.RawMessage) (any, error) {
	var p struct {
		Query          string   `json:"query"`
		Limit          int      `json:"limit"`
		Offset         int      `json:"offset"`
		Fields         []string `json:"fields"`
		TextFieldLimit int      `json:"text_field_limit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	books, err := s.store.SearchBooks(p.Query, p.Limit, p.Offset, p.Fields, p.TextFieldLimit)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []map[string]any{}
	}
	return books, nil
}

func (s *Server) handleGetBookDetails(raw json.RawMessage) (any, error) {
	var p struct {
		BookID int      `json:"book_id"`
		Fields []string `json:"fields"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.GetBookDetails(p.BookID, p.Fields)
}

func (s *Server) handleGetBookContent(raw json.RawMessage) (any, error) {
	var p struct {
		BookID      int  `json:"book_id"`
		Limit       int  `json:"limit"`
		Offset      int  `json:"offset"`
		AutoConvert bool `json:"auto_convert"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.BookContent(p.BookID, p.Limit, p.Offset, p.AutoConvert)
}

func (s *Server) handleGetLibrarySchema(raw json.RawMessage) (any, error) {
	return s.store.Schema(), nil
}

func (s *Server) handleGetFieldValueCounts(raw json.RawMessage) (any, error) {
	var p struct {
		FieldName string `json:"field_name"`
		Regex     string `json:"regex"`
		BookIDs   []int  `json:"book_ids"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.FieldValueCounts(p.FieldName, p.BookIDs, p.Regex)
}

func (s *Server) handleFTSSearch(raw json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.FTSSearch(p.Query)
}

func (s *Server) handleUpdateBook(raw json.RawMessage) (any, error) {
	var p struct {
		BookID  int            `json:"book_id"`
		Changes map[string]any `json:"changes"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBook(p.BookID, p.Changes); err != nil {
		return nil, err
	}
	return map[string]any{"status": "updated", "book_id": p.BookID, "changes": p.Changes}, nil
}

func (s *Server) handleBulkUpdateMetadata(raw json.RawMessage) (any, error) {
	var p struct {
		FieldName string `json:"field_name"`
		OldValue  any    `json:"old_value"`
		NewValue  any    `json:"new_value"`
		BookIDs   []int  `json:"book_ids"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.BulkUpdate(p.FieldName, p.OldValue, p.NewValue, p.BookIDs)
}

func (s *Server) handleDeleteBook(raw json.RawMessage) (any, error) {
	var p struct {
		BookID  int      `json:"book_id"`
		Formats []string `json:"formats"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.DeleteBook(p.BookID, p.Formats)
}

func (s *Server) handleConvertBook(raw json.RawMessage) (any, error) {
	var p struct {
		BookID       int    `json:"book_id"`
		TargetFormat string `json:"target_format"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.ConvertBook(p.BookID, p.TargetFormat)
}

func (s *Server) handleAddBook(raw json.RawMessage) (any, error) {
	var p struct {
		FilePaths []string `json:"file_paths"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	ids, err := s.store.AddBooks(p.FilePaths)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int{}
	}
	return map[string]any{"status": "added", "book_ids": ids}, nil
}

func (s *Server) handleExportBook(raw json.RawMessage) (any, error) {
	var p struct {
		BookID   int    `json:"book_id"`
		Format   string `json:"format"`
		FilePath string `json:"file_path"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.store.ExportBook(p.BookID, p.Format, p.FilePath)
}
