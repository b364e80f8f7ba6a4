// ABOUTME: Capability grant checks for library operations.
// ABOUTME: Evaluates boolean-or-field-list grants before any mutating call is dispatched.

package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/shelf-gateway/internal/config"
)

// DeniedError is returned when a capability grant or path check denies an
// operation. It is the PermissionError of the system's error taxonomy.
type DeniedError struct {
	Message string
}

func (e *DeniedError) Error() string { return e.Message }

// IsDenied reports whether err is (or wraps) a DeniedError.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// Denied builds a DeniedError for callers with checks of their own, such as
// the import/export configuration gates.
func Denied(format string, args ...any) error {
	return &DeniedError{Message: fmt.Sprintf(format, args...)}
}

func denied(format string, args ...any) error {
	return Denied(format, args...)
}

// CheckWrite verifies the write grant for a set of proposed field names.
// A list grant denies the call naming exactly the fields outside the list.
func CheckWrite(lib *config.LibraryConfig, fields []string) error {
	write := lib.Permissions.Write
	if !write.Allowed {
		return denied("Write access denied for library %q.", lib.Name)
	}

	if write.IsList() && len(fields) > 0 {
		var deniedFields []string
		for _, f := range fields {
			if !write.Contains(f) {
				deniedFields = append(deniedFields, f)
			}
		}
		if len(deniedFields) > 0 {
			sort.Strings(deniedFields)
			return denied("Write access denied for fields [%s] in library %q. Allowed: [%s]",
				strings.Join(deniedFields, ", "), lib.Name, strings.Join(write.Fields, ", "))
		}
	}

	return nil
}

// CheckWriteField verifies the write grant for a single field (bulk updates).
func CheckWriteField(lib *config.LibraryConfig, field string) error {
	write := lib.Permissions.Write
	if !write.Allowed {
		return denied("Write access denied for library %q.", lib.Name)
	}
	if write.IsList() && !write.Contains(field) {
		return denied("Write access denied for field %q in library %q. Allowed: [%s]",
			field, lib.Name, strings.Join(write.Fields, ", "))
	}
	return nil
}

// CheckRead verifies the read grant, optionally for a specific field.
func CheckRead(lib *config.LibraryConfig, field string) error {
	read := lib.Permissions.Read
	if read.IsList() {
		if field != "" && !read.Contains(field) {
			return denied("Read access denied for field %q in library %q.", field, lib.Name)
		}
		return nil
	}
	if !read.Allowed {
		return denied("Read access denied for library %q.", lib.Name)
	}
	return nil
}

// CheckDelete verifies the delete grant.
func CheckDelete(lib *config.LibraryConfig) error {
	if !lib.Permissions.Delete {
		return denied("Delete access denied for library %q.", lib.Name)
	}
	return nil
}

// CheckConvert verifies the convert grant.
func CheckConvert(lib *config.LibraryConfig) error {
	if !lib.Permissions.Convert {
		return denied("Convert access denied for library %q.", lib.Name)
	}
	return nil
}
