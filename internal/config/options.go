package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFileNames are searched, in order, by FindConfig.
var ConfigFileNames = []string{"lunar.yaml", "lunar.yml", "lunar.toml", "lunar.cue"}

// Options is the script-level configuration. It can be built in code or
// loaded from a lunar.yaml, lunar.toml or lunar.cue file.
type Options struct {
	// Dialect selects the compatibility version ("5.2" .. "5.5").
	// Defaults to "5.4".
	Dialect string `yaml:"dialect,omitempty" toml:"dialect,omitempty" json:"dialect,omitempty"`

	// ColonCall selects how host callbacks see calls made with ':'.
	//   - "method":   receiver is passed and the call is flagged as a method call
	//   - "suppress": receiver is passed but the flag is never set
	//   - "userdata": flagged only when the receiver is userdata (default)
	ColonCall string `yaml:"colon_call,omitempty" toml:"colon_call,omitempty" json:"colon_call,omitempty"`

	// RethrowNested makes a rethrown syntax error wrap the original instead
	// of re-raising it unchanged.
	RethrowNested bool `yaml:"rethrow_nested,omitempty" toml:"rethrow_nested,omitempty" json:"rethrow_nested,omitempty"`

	// Sandbox bounds execution. Zero values mean unlimited.
	Sandbox SandboxOptions `yaml:"sandbox,omitempty" toml:"sandbox,omitempty" json:"sandbox,omitempty"`

	// Log configures structured logging.
	Log LogOptions `yaml:"log,omitempty" toml:"log,omitempty" json:"log,omitempty"`

	// Cache configures the compiled chunk cache.
	Cache CacheOptions `yaml:"cache,omitempty" toml:"cache,omitempty" json:"cache,omitempty"`
}

// SandboxOptions limits what a script may consume.
type SandboxOptions struct {
	// MaxInstructions aborts execution after this many VM instructions.
	MaxInstructions int64 `yaml:"max_instructions,omitempty" toml:"max_instructions,omitempty" json:"max_instructions,omitempty"`

	// MaxCallDepth bounds the number of nested (non-tail) call frames.
	// Defaults to DefaultMaxCallDepth.
	MaxCallDepth int `yaml:"max_call_depth,omitempty" toml:"max_call_depth,omitempty" json:"max_call_depth,omitempty"`
}

// LogOptions configures the slog handler tree.
type LogOptions struct {
	// Level is one of debug, info, warn, error. Defaults to warn.
	Level string `yaml:"level,omitempty" toml:"level,omitempty" json:"level,omitempty"`

	// Format is auto, text or json. auto picks text on a terminal.
	Format string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"`

	// File additionally writes JSON records to this path.
	File string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`

	// Journal additionally sends records to the systemd journal.
	Journal bool `yaml:"journal,omitempty" toml:"journal,omitempty" json:"journal,omitempty"`
}

// CacheOptions configures compiled chunk caching.
type CacheOptions struct {
	// Path of the sqlite database backing the persistent cache.
	// Empty keeps the cache in memory only.
	Path string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`

	// MaxEntries bounds the in-memory LRU. Defaults to DefaultCacheEntries.
	MaxEntries int `yaml:"max_entries,omitempty" toml:"max_entries,omitempty" json:"max_entries,omitempty"`

	// Disabled turns caching off entirely.
	Disabled bool `yaml:"disabled,omitempty" toml:"disabled,omitempty" json:"disabled,omitempty"`
}

const (
	DefaultMaxCallDepth = 200000
	DefaultCacheEntries = 64
)

// optionsSchema constrains lunar.cue files.
const optionsSchema = `
dialect?:        "5.2" | "5.3" | "5.4" | "5.5"
colon_call?:     "method" | "suppress" | "userdata"
rethrow_nested?: bool
sandbox?: {
	max_instructions?: int & >=0
	max_call_depth?:   int & >=0
}
log?: {
	level?:   "debug" | "info" | "warn" | "error"
	format?:  "auto" | "text" | "json"
	file?:    string
	journal?: bool
}
cache?: {
	path?:        string
	max_entries?: int & >=0
	disabled?:    bool
}
`

// DefaultOptions returns options with every default filled in.
func DefaultOptions() *Options {
	o := &Options{}
	o.setDefaults()
	return o
}

// LoadConfig reads and parses an options file.
func LoadConfig(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses options from bytes. The format is picked from the
// extension of path, which is otherwise used only for error messages.
func ParseConfig(data []byte, path string) (*Options, error) {
	var opts Options
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &opts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".cue":
		if err := decodeCue(data, path, &opts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported config format", path)
	}
	if err := opts.validate(path); err != nil {
		return nil, err
	}
	opts.setDefaults()
	return &opts, nil
}

func decodeCue(data []byte, path string, target *Options) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + optionsSchema + "})")
	if err := schema.Err(); err != nil {
		return err
	}
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return err
	}
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return unified.Decode(target)
}

// FindConfig searches for a config file starting from dir and walking up
// to parent directories. Returns "" and nil error if none is found.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// validate checks the options for semantic errors.
func (o *Options) validate(path string) error {
	if o.Dialect != "" {
		if _, ok := ParseDialect(o.Dialect); !ok {
			return fmt.Errorf("%s: unknown dialect %q", path, o.Dialect)
		}
	}
	switch o.ColonCall {
	case "", "method", "suppress", "userdata":
	default:
		return fmt.Errorf("%s: colon_call must be one of method, suppress, userdata (got %q)", path, o.ColonCall)
	}
	switch strings.ToLower(o.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: log.level must be one of debug, info, warn, error (got %q)", path, o.Log.Level)
	}
	switch o.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%s: log.format must be one of auto, text, json (got %q)", path, o.Log.Format)
	}
	if o.Sandbox.MaxInstructions < 0 {
		return fmt.Errorf("%s: sandbox.max_instructions must not be negative", path)
	}
	if o.Sandbox.MaxCallDepth < 0 {
		return fmt.Errorf("%s: sandbox.max_call_depth must not be negative", path)
	}
	if o.Cache.MaxEntries < 0 {
		return fmt.Errorf("%s: cache.max_entries must not be negative", path)
	}
	return nil
}

// setDefaults fills in default values for omitted fields.
func (o *Options) setDefaults() {
	if o.Dialect == "" {
		o.Dialect = "5.4"
	}
	if o.ColonCall == "" {
		o.ColonCall = "userdata"
	}
	if o.Sandbox.MaxCallDepth == 0 {
		o.Sandbox.MaxCallDepth = DefaultMaxCallDepth
	}
	if o.Log.Level == "" {
		o.Log.Level = "warn"
	}
	if o.Log.Format == "" {
		o.Log.Format = "auto"
	}
	if o.Cache.MaxEntries == 0 {
		o.Cache.MaxEntries = DefaultCacheEntries
	}
}

// Normalize validates programmatically built options and fills defaults.
func (o *Options) Normalize() error {
	if err := o.validate("options"); err != nil {
		return err
	}
	o.setDefaults()
	return nil
}

// DialectValue returns the parsed dialect, falling back to the default.
func (o *Options) DialectValue() Dialect {
	if d, ok := ParseDialect(o.Dialect); ok {
		return d
	}
	return DefaultDialect
}
