// ABOUTME: Allow-list path validation for import and export operations.
// ABOUTME: Accepts a path only under an allowed root at a real separator boundary.

package permission

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ValidatePathInAllowed resolves path against the allow-list and returns its
// absolute form if it lies under one of the allowed roots.
//
// Matching is boundary-aware: "/allowed-extra" does not match an allow-list
// entry "/allowed". Comparison is case-folded on platforms whose filesystems
// are conventionally case-insensitive.
func ValidatePathInAllowed(path string, allowed []string, operation string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", denied("%s denied. Path %q could not be resolved.", operation, path)
	}

	check := foldCase(absPath)

	for _, root := range allowed {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootCheck := foldCase(absRoot)

		if !strings.HasPrefix(check, rootCheck) {
			continue
		}
		if len(check) == len(rootCheck) {
			return absPath, nil
		}
		if next := check[len(rootCheck)]; next == os.PathSeparator || next == '/' {
			return absPath, nil
		}
	}

	return "", denied("%s denied. Path %q is not in allowed_paths.", operation, path)
}

func foldCase(p string) string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(p)
	}
	return p
}
