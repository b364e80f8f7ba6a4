// ABOUTME: Tests for help topic listing, title extraction, and name sanitizing.
// ABOUTME: Uses a temp directory of markdown fixtures.

package help

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "searching.md"),
		[]byte("# Searching Your Library\n\nUse the search tools.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "permissions.md"),
		[]byte("no heading here, just prose\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("not markdown\n"), 0o644))
	return NewStore(dir)
}

func TestList(t *testing.T) {
	topics, err := fixtureStore(t).List()
	require.NoError(t, err)
	require.Len(t, topics, 2)

	assert.Equal(t, "permissions", topics[0].Name)
	assert.Equal(t, "permissions", topics[0].Title, "falls back to the file name")
	assert.Equal(t, "searching", topics[1].Name)
	assert.Equal(t, "Searching Your Library", topics[1].Title)
}

func TestList_EmptyAndMissingDir(t *testing.T) {
	topics, err := NewStore("").List()
	require.NoError(t, err)
	assert.Empty(t, topics)

	topics, err = NewStore("/no/such/dir").List()
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestTopic(t *testing.T) {
	s := fixtureStore(t)

	body, err := s.Topic("searching")
	require.NoError(t, err)
	assert.Contains(t, body, "Use the search tools.")

	_, err = s.Topic("missing")
	assert.True(t, errors.Is(err, ErrTopicNotFound))
}

func TestTopic_RejectsTraversal(t *testing.T) {
	s := fixtureStore(t)
	for _, bad := range []string{"../etc/passwd", "a/b", ".", "..", "name.md/../x"} {
		_, err := s.Topic(bad)
		assert.True(t, errors.Is(err, ErrTopicNotFound), "name %q", bad)
	}
}
