// ABOUTME: Configuration loading and parsing for shelf-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownLibrary indicates the requested library is not in the configuration.
var ErrUnknownLibrary = errors.New("library not found in configuration")

// Config represents the complete shelf-gateway configuration.
type Config struct {
	Libraries map[string]*LibraryConfig `yaml:"libraries"`
	Server    ServerConfig              `yaml:"server"`
	Worker    WorkerConfig              `yaml:"worker"`
	Logging   LoggingConfig             `yaml:"logging"`

	// SkillsDir is the directory holding markdown help topics.
	SkillsDir string `yaml:"skills_dir"`

	// ExposeResourcesViaTools re-registers resource endpoints as plain tools
	// for agents that have not implemented MCP resources.
	ExposeResourcesViaTools bool `yaml:"expose_resources_via_tools"`

	// baseDir is the directory of the config file, used to resolve relative paths.
	baseDir string
}

// ServerConfig holds the HTTP listen address for the MCP endpoint.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// WorkerConfig holds settings shared by all worker processes.
type WorkerConfig struct {
	// Command is the executable launched for each library worker.
	Command string `yaml:"command"`

	// EnableLogging switches worker stderr capture from throwaway temp files
	// to persistent per-library logs under LogDir.
	EnableLogging bool   `yaml:"enable_logging"`
	LogDir        string `yaml:"log_dir"`

	// IdleTimeout is the global default before an idle worker is reaped.
	// Zero means never reap.
	IdleTimeout time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LibraryConfig describes one configured library.
type LibraryConfig struct {
	// Name is the key the library was registered under. Populated during
	// resolution, not read from YAML.
	Name string `yaml:"-"`

	Path        string `yaml:"path"`
	Description string `yaml:"description"`
	Default     bool   `yaml:"default"`

	Permissions Permissions `yaml:"permissions"`

	Import *TransferConfig `yaml:"import"`
	Export *TransferConfig `yaml:"export"`

	// IdleTimeout overrides worker.idle_timeout for this library's worker.
	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"worker_timeout"`
}

// TransferConfig gates filesystem paths for import or export operations.
type TransferConfig struct {
	AllowedPaths              []string `yaml:"allowed_paths"`
	AllowDeleteSource         bool     `yaml:"allow_delete_source"`
	AllowOverwriteDestination bool     `yaml:"allow_overwrite_destination"`
}

// Permissions holds the four capability grants for a library.
// Read and Write may be booleans or explicit field lists; Delete and Convert
// are plain booleans. Absence of a grant means denial.
type Permissions struct {
	Read    Grant `yaml:"read" json:"read"`
	Write   Grant `yaml:"write" json:"write"`
	Delete  bool  `yaml:"delete" json:"delete"`
	Convert bool  `yaml:"convert" json:"convert"`
}

// Grant is a capability value that is either a boolean or a list of field names.
type Grant struct {
	Allowed bool
	Fields  []string
}

// UnmarshalYAML accepts `true`, `false`, or a sequence of field names.
func (g *Grant) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("grant must be a boolean or a list of fields: %w", err)
		}
		g.Allowed = b
		g.Fields = nil
		return nil
	case yaml.SequenceNode:
		var fields []string
		if err := node.Decode(&fields); err != nil {
			return err
		}
		g.Allowed = len(fields) > 0
		g.Fields = fields
		return nil
	default:
		return fmt.Errorf("grant must be a boolean or a list of fields, got %s", node.Tag)
	}
}

// MarshalYAML renders the grant back to the form it was parsed from.
func (g Grant) MarshalYAML() (any, error) {
	if g.Fields != nil {
		return g.Fields, nil
	}
	return g.Allowed, nil
}

// MarshalJSON mirrors MarshalYAML for the resource surface.
func (g Grant) MarshalJSON() ([]byte, error) {
	if g.Fields != nil {
		return jsonMarshalStrings(g.Fields), nil
	}
	if g.Allowed {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func jsonMarshalStrings(ss []string) []byte {
	out := []byte{'['}
	for i, s := range ss {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, fmt.Sprintf("%q", s)...)
	}
	return append(out, ']')
}

// IsList reports whether the grant is an explicit field list.
func (g Grant) IsList() bool { return g.Fields != nil }

// Contains reports whether a list grant includes the named field.
// A non-list grant answers with its boolean value.
func (g Grant) Contains(field string) bool {
	if !g.IsList() {
		return g.Allowed
	}
	for _, f := range g.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(absPath)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables are replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Libraries) == 0 {
		return fmt.Errorf("at least one library is required")
	}

	defaults := 0
	for name, lib := range c.Libraries {
		if lib == nil {
			return fmt.Errorf("library %q has no configuration body", name)
		}
		if lib.Path == "" {
			return fmt.Errorf("library %q: path is required", name)
		}
		if lib.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one library may be marked default, found %d", defaults)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Worker.IdleTimeoutRaw != "" {
		cfg.Worker.IdleTimeout, err = time.ParseDuration(cfg.Worker.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing worker.idle_timeout %q: %w", cfg.Worker.IdleTimeoutRaw, err)
		}
	}

	for name, lib := range cfg.Libraries {
		if lib == nil || lib.IdleTimeoutRaw == "" {
			continue
		}
		lib.IdleTimeout, err = time.ParseDuration(lib.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing worker_timeout for library %q: %w", name, err)
		}
	}

	return nil
}

// Library resolves a library by name and returns a copy with Name populated and
// every path made absolute relative to the config file's directory.
//
// An empty name selects the library marked default, falling back to the
// lexicographically first entry so resolution is deterministic.
// Returns ErrUnknownLibrary (wrapped) if nothing matches.
func (c *Config) Library(name string) (*LibraryConfig, error) {
	var src *LibraryConfig
	resolved := name

	if name != "" {
		src = c.Libraries[name]
	} else {
		for n, lib := range c.Libraries {
			if lib != nil && lib.Default {
				src = lib
				resolved = n
				break
			}
		}
		if src == nil {
			for _, n := range c.libraryNames() {
				src = c.Libraries[n]
				resolved = n
				break
			}
		}
	}

	if src == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
	}

	lib := *src
	lib.Name = resolved
	lib.Path = c.resolvePath(lib.Path)

	if src.Import != nil {
		imp := *src.Import
		imp.AllowedPaths = c.resolvePaths(src.Import.AllowedPaths)
		lib.Import = &imp
	}
	if src.Export != nil {
		exp := *src.Export
		exp.AllowedPaths = c.resolvePaths(src.Export.AllowedPaths)
		lib.Export = &exp
	}

	return &lib, nil
}

// EffectiveIdleTimeout returns the reaper threshold for a library's worker:
// the library override if set, else the global default. Zero means never reap.
func (c *Config) EffectiveIdleTimeout(lib *LibraryConfig) time.Duration {
	if lib != nil && lib.IdleTimeout != 0 {
		return lib.IdleTimeout
	}
	return c.Worker.IdleTimeout
}

// LibrarySummary is the externally visible description of a configured library.
type LibrarySummary struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Permissions Permissions `json:"permissions"`
}

// ListLibraries returns a summary of every configured library, sorted by name.
func (c *Config) ListLibraries() []LibrarySummary {
	out := make([]LibrarySummary, 0, len(c.Libraries))
	for _, name := range c.libraryNames() {
		lib := c.Libraries[name]
		out = append(out, LibrarySummary{
			Name:        name,
			Description: lib.Description,
			Permissions: lib.Permissions,
		})
	}
	return out
}

func (c *Config) libraryNames() []string {
	names := make([]string, 0, len(c.Libraries))
	for n := range c.Libraries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolvePath makes a path absolute relative to the config file's directory.
func (c *Config) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

func (c *Config) resolvePaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.resolvePath(p)
	}
	return out
}
