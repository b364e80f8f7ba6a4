// ABOUTME: Tests for capability grant checks and the allow-list path guard.
// ABOUTME: Covers boolean and field-list grants plus boundary-aware path matching.

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/shelf-gateway/internal/config"
)

func lib(perms config.Permissions) *config.LibraryConfig {
	return &config.LibraryConfig{Name: "test-lib", Permissions: perms}
}

func TestCheckWrite_DeniedWhenAbsent(t *testing.T) {
	err := CheckWrite(lib(config.Permissions{}), []string{"tags"})
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	assert.Contains(t, err.Error(), "test-lib")
}

func TestCheckWrite_BooleanGrant(t *testing.T) {
	l := lib(config.Permissions{Write: config.Grant{Allowed: true}})
	assert.NoError(t, CheckWrite(l, []string{"tags", "rating"}))
}

func TestCheckWrite_FieldList(t *testing.T) {
	l := lib(config.Permissions{Write: config.Grant{Allowed: true, Fields: []string{"tags", "rating"}}})

	assert.NoError(t, CheckWrite(l, []string{"tags"}))
	assert.NoError(t, CheckWrite(l, []string{"tags", "rating"}))

	err := CheckWrite(l, []string{"tags", "title", "comments"})
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	// Names exactly the fields outside the list.
	assert.Contains(t, err.Error(), "comments")
	assert.Contains(t, err.Error(), "title")
	assert.NotContains(t, err.Error(), "denied for fields [tags")
}

func TestCheckWriteField(t *testing.T) {
	l := lib(config.Permissions{Write: config.Grant{Allowed: true, Fields: []string{"tags"}}})

	assert.NoError(t, CheckWriteField(l, "tags"))

	err := CheckWriteField(l, "rating")
	require.Error(t, err)
	assert.True(t, IsDenied(err))

	none := lib(config.Permissions{})
	assert.Error(t, CheckWriteField(none, "tags"))
}

func TestCheckRead(t *testing.T) {
	denied := lib(config.Permissions{})
	assert.Error(t, CheckRead(denied, ""))

	open := lib(config.Permissions{Read: config.Grant{Allowed: true}})
	assert.NoError(t, CheckRead(open, ""))
	assert.NoError(t, CheckRead(open, "title"))

	listed := lib(config.Permissions{Read: config.Grant{Allowed: true, Fields: []string{"title"}}})
	assert.NoError(t, CheckRead(listed, "title"))
	assert.NoError(t, CheckRead(listed, ""), "list grant without a field is not denied")
	err := CheckRead(listed, "comments")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestCheckDeleteConvert(t *testing.T) {
	none := lib(config.Permissions{})
	assert.Error(t, CheckDelete(none))
	assert.Error(t, CheckConvert(none))

	both := lib(config.Permissions{Delete: true, Convert: true})
	assert.NoError(t, CheckDelete(both))
	assert.NoError(t, CheckConvert(both))
}

func TestValidatePathInAllowed_Accepted(t *testing.T) {
	got, err := ValidatePathInAllowed("/data/exports/out.epub", []string{"/data/exports"}, "Export")
	require.NoError(t, err)
	assert.Equal(t, "/data/exports/out.epub", got)
}

func TestValidatePathInAllowed_ExactRoot(t *testing.T) {
	got, err := ValidatePathInAllowed("/data/exports", []string{"/data/exports"}, "Export")
	require.NoError(t, err)
	assert.Equal(t, "/data/exports", got)
}

func TestValidatePathInAllowed_PrefixOnlyRejected(t *testing.T) {
	// "/data/export" must not match "/data/exports/..." — boundary check.
	_, err := ValidatePathInAllowed("/data/exports/out.epub", []string{"/data/export"}, "Export")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	assert.Contains(t, err.Error(), "/data/exports/out.epub")
}

func TestValidatePathInAllowed_TraversalNormalized(t *testing.T) {
	// Relative segments resolve before matching, so escapes are caught.
	_, err := ValidatePathInAllowed("/data/exports/../secrets/key", []string{"/data/exports"}, "Export")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}

func TestValidatePathInAllowed_SecondRootMatches(t *testing.T) {
	got, err := ValidatePathInAllowed("/b/file.txt", []string{"/a", "/b"}, "Import")
	require.NoError(t, err)
	assert.Equal(t, "/b/file.txt", got)
}

func TestValidatePathInAllowed_EmptyAllowList(t *testing.T) {
	_, err := ValidatePathInAllowed("/anything", nil, "Import")
	require.Error(t, err)
	assert.True(t, IsDenied(err))
}
