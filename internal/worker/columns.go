// ABOUTME: Custom column declarations loaded from the library's columns.toml.
// ABOUTME: Custom fields surface in the schema under a '#' name prefix.

package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// CustomColumn declares one user-defined metadata column.
type CustomColumn struct {
	Datatype      string   `toml:"datatype"`
	Label         string   `toml:"label"`
	Separator     string   `toml:"separator"`
	AllowedValues []string `toml:"allowed_values"`
}

type columnsFile struct {
	Columns map[string]CustomColumn `toml:"columns"`
}

// loadCustomColumns reads columns.toml from the library root. A missing file
// means the library has no custom columns.
func loadCustomColumns(root string) (map[string]CustomColumn, error) {
	path := filepath.Join(root, "columns.toml")

	var parsed columnsFile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		if os.IsNotExist(err) {
			return map[string]CustomColumn{}, nil
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for name, col := range parsed.Columns {
		if col.Datatype == "" {
			return nil, fmt.Errorf("custom column %q: datatype is required", name)
		}
	}
	if parsed.Columns == nil {
		parsed.Columns = map[string]CustomColumn{}
	}
	return parsed.Columns, nil
}

// customFieldNames returns the schema field names ('#' prefixed) in order.
func customFieldNames(columns map[string]CustomColumn) []string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, "#"+name)
	}
	sort.Strings(names)
	return names
}
