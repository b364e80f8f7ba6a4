// ABOUTME: HTTP-level tests for the MCP endpoint: sessions, tools, resources.
// ABOUTME: Uses httptest with a stubbed worker sender behind the service.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/library"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

type stubSender struct {
	respond map[string]any
}

func (s *stubSender) Call(ctx context.Context, lib, method string, params any) (json.RawMessage, error) {
	res, ok := s.respond[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %q", method)
	}
	return json.Marshal(res)
}

func testServer(t *testing.T) *Server {
	t.Helper()

	helpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(helpDir, "searching.md"),
		[]byte("# Searching\n\nHow to search.\n"), 0o644))

	cfg := &config.Config{
		SkillsDir: helpDir,
		Libraries: map[string]*config.LibraryConfig{
			"main": {
				Path: "/libs/main",
				Permissions: config.Permissions{
					Read:  config.Grant{Allowed: true},
					Write: config.Grant{Allowed: true},
				},
			},
		},
	}

	sender := &stubSender{respond: map[string]any{
		"search_books": []map[string]any{{"book_id": 1, "title": "Dune"}},
		"get_library_schema": map[string]any{
			"title":  map[string]any{"datatype": "text"},
			"rating": map[string]any{"datatype": "rating"},
		},
	}}

	searches := textsearch.NewCache(10, time.Minute)
	t.Cleanup(searches.Close)

	svc := library.NewService(cfg, sender, searches, nil, nil)
	srv, err := NewServer(svc, nil)
	require.NoError(t, err)
	return srv
}

func post(t *testing.T, srv *Server, session string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Mcp-Session-Id", session)
	}
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	return rec
}

func initialize(t *testing.T, srv *Server) string {
	t.Helper()
	rec := post(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	session := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, session)
	return session
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestInitialize(t *testing.T) {
	srv := testServer(t)
	rec := post(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))

	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
}

func TestPost_RequiresSession(t *testing.T) {
	srv := testServer(t)

	rec := post(t, srv, "", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv, "bogus-session", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPost_NotificationAccepted(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	rec := post(t, srv, session, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPost_InvalidJSON(t *testing.T) {
	srv := testServer(t)
	rec := post(t, srv, "", `{not json`)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCParseError, resp.Error.Code)
}

func TestToolsList(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	rec := post(t, srv, session, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "search_books")
	assert.Contains(t, names, "update_book")
	assert.NotContains(t, names, "delete_book")
}

func TestToolsCall_Success(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	rec := post(t, srv, session,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"search_books","arguments":{"query":"dune"}}}`)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))

	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "Dune")
}

func TestToolsCall_OperationFailureIsToolError(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	// rating 99 fails validation; the agent gets an isError result, not a
	// JSON-RPC error.
	rec := post(t, srv, session,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"update_book","arguments":{"book_id":1,"changes":{"rating":99}}}}`)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPCallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Validation failed")
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	rec := post(t, srv, session,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"no_such_tool"}}`)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
}

func TestResources(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	rec := post(t, srv, session, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	encoded, _ := json.Marshal(resp.Result)
	assert.Contains(t, string(encoded), "shelf://libraries")
	assert.Contains(t, string(encoded), "shelf://help/searching")

	rec = post(t, srv, session,
		`{"jsonrpc":"2.0","id":8,"method":"resources/read","params":{"uri":"shelf://libraries"}}`)
	resp = decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	encoded, _ = json.Marshal(resp.Result)
	assert.Contains(t, string(encoded), "main")

	rec = post(t, srv, session,
		`{"jsonrpc":"2.0","id":9,"method":"resources/read","params":{"uri":"shelf://help/searching"}}`)
	resp = decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	encoded, _ = json.Marshal(resp.Result)
	assert.Contains(t, string(encoded), "How to search.")

	rec = post(t, srv, session,
		`{"jsonrpc":"2.0","id":10,"method":"resources/read","params":{"uri":"shelf://nope"}}`)
	resp = decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
}

func TestDeleteSession(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", session)
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The session is gone now.
	postRec := post(t, srv, session, `{"jsonrpc":"2.0","id":11,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, postRec.Code)
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	srv := testServer(t)
	session := initialize(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":12,"method":"tools/list"}`)))
	req.Header.Set("Mcp-Session-Id", session)
	req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
