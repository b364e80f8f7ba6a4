// ABOUTME: Tests for the stdio RPC loop: framing, dispatch, and error codes.
// ABOUTME: Drives a Server over in-memory streams against a real store.

package worker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRequests feeds newline-delimited requests through a fresh server and
// returns the decoded responses plus the raw diagnostics stream.
func runRequests(t *testing.T, s *Store, requests ...string) ([]rpcResponse, string) {
	t.Helper()

	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out, diag bytes.Buffer

	srv := NewServer(s, in, &out, &diag)
	require.NoError(t, srv.Run())

	var responses []rpcResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line: %s", line)
		responses = append(responses, resp)
	}
	return responses, diag.String()
}

func TestRun_ReadyBanner(t *testing.T) {
	s := newTestStore(t)
	_, diag := runRequests(t, s)

	var banner struct {
		Status  string `json:"status"`
		Library string `json:"library"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(diag)), &banner))
	assert.Equal(t, "ready", banner.Status)
	assert.Equal(t, s.Root(), banner.Library)
}

func TestRun_SearchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	addBook(t, s, "Dune.txt", "spice")

	responses, _ := runRequests(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"search_books","params":{"query":"title:dune"}}`)
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
	assert.Equal(t, "1", string(responses[0].ID))

	encoded, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "Dune")
}

func TestRun_SchemaAndUpdate(t *testing.T) {
	s := newTestStore(t)
	id := addBook(t, s, "Dune.txt", "spice")

	responses, _ := runRequests(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"get_library_schema"}`,
		`{"jsonrpc":"2.0","id":2,"method":"update_book","params":{"book_id":1,"changes":{"rating":8}}}`)
	require.Len(t, responses, 2)
	require.Nil(t, responses[0].Error)
	require.Nil(t, responses[1].Error)

	encoded, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"#genre"`)

	// The update response echoes the applied change set.
	updated, err := json.Marshal(responses[1].Result)
	require.NoError(t, err)
	assert.Contains(t, string(updated), `"status":"updated"`)
	assert.Contains(t, string(updated), `"changes"`)
	assert.Contains(t, string(updated), `"rating":8`)

	rec, err := s.GetBookDetails(id, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, rec["rating"])
}

func TestRun_MethodNotFound(t *testing.T) {
	s := newTestStore(t)
	responses, _ := runRequests(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"no_such_method"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeMethodNotFound, responses[0].Error.Code)
}

func TestRun_OperationErrorIsInternal(t *testing.T) {
	s := newTestStore(t)
	responses, _ := runRequests(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"get_book_details","params":{"book_id":42}}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeInternalError, responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "not found")
}

func TestRun_ParseError(t *testing.T) {
	s := newTestStore(t)
	responses, _ := runRequests(t, s, `{broken`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeParseError, responses[0].Error.Code)
	assert.Equal(t, "null", string(responses[0].ID))
}

func TestRun_SkipsBlankLines(t *testing.T) {
	s := newTestStore(t)
	responses, _ := runRequests(t, s,
		"",
		`{"jsonrpc":"2.0","id":7,"method":"fts_search","params":{"query":"anything"}}`,
		"")
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Error)
}
