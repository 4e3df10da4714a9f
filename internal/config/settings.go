// Package config loads host settings and the document sources that declare
// extensions and dependencies.
//
// Host settings live in a TOML file. Missing files are not errors: defaults
// apply and SCRIPTHOST_* environment variables override either.
//
// Extension and dependency declarations are YAML documents whose top-level keys
// name an extension folder or a dependency identifier. Key order is preserved
// because it defines discovery and hook order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// DefaultFileName is the settings file looked up when no path is given.
const DefaultFileName = "scripthost.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRIPTHOST_"

// Settings is the host configuration.
type Settings struct {
	Paths     PathSettings      `toml:"paths"`
	Provision ProvisionSettings `toml:"provision"`
	Interop   InteropSettings   `toml:"interop"`
	Log       LogSettings       `toml:"log"`
	Watch     WatchSettings     `toml:"watch"`
	Lua       LuaSettings       `toml:"lua"`
}

// PathSettings locates the host's on-disk layout. Relative entries resolve
// against Data.
type PathSettings struct {
	Data             string `toml:"data"`
	Scripts          string `toml:"scripts"`
	Libraries        string `toml:"libraries"`
	ExtensionsFile   string `toml:"extensions_file"`
	DependenciesFile string `toml:"dependencies_file"`
	MessagesFile     string `toml:"messages_file"`
}

// ProvisionSettings tunes dependency downloads.
type ProvisionSettings struct {
	// Workers bounds concurrent fetches. Zero means one goroutine per dependency.
	Workers   int      `toml:"workers"`
	Timeout   Duration `toml:"timeout"`
	UserAgent string   `toml:"user_agent"`
}

// InteropSettings toggles optional host subsystems.
type InteropSettings struct {
	Placeholders bool `toml:"placeholders"`
}

// LogSettings configures the root logger.
type LogSettings struct {
	Level string `toml:"level"`
}

// WatchSettings configures reload on document change.
type WatchSettings struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`
}

// LuaSettings configures the Lua engine.
type LuaSettings struct {
	CallTimeout Duration `toml:"call_timeout"`
}

// Duration is a time.Duration decoded from strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		Paths: PathSettings{
			Data:             "data",
			Scripts:          "plugins",
			Libraries:        "libs",
			ExtensionsFile:   "plugins.yml",
			DependenciesFile: "dependencies.yml",
		},
		Provision: ProvisionSettings{
			Workers:   0,
			Timeout:   Duration{60 * time.Second},
			UserAgent: "scripthost/1.0",
		},
		Interop: InteropSettings{Placeholders: true},
		Log:     LogSettings{Level: "info"},
		Watch: WatchSettings{
			Enabled:  false,
			Debounce: Duration{500 * time.Millisecond},
		},
		Lua: LuaSettings{CallTimeout: Duration{5 * time.Second}},
	}
}

// ScriptsDir returns the resolved extension source root.
func (s Settings) ScriptsDir() string { return s.resolve(s.Paths.Scripts) }

// LibrariesDir returns the resolved artifact store root.
func (s Settings) LibrariesDir() string { return s.resolve(s.Paths.Libraries) }

// ExtensionsPath returns the resolved extension document path.
func (s Settings) ExtensionsPath() string { return s.resolve(s.Paths.ExtensionsFile) }

// DependenciesPath returns the resolved dependency document path.
func (s Settings) DependenciesPath() string { return s.resolve(s.Paths.DependenciesFile) }

// MessagesPath returns the resolved message catalog override, or "".
func (s Settings) MessagesPath() string {
	if s.Paths.MessagesFile == "" {
		return ""
	}
	return s.resolve(s.Paths.MessagesFile)
}

func (s Settings) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Paths.Data, p)
}

// Validate checks settings for values the host cannot run with.
func (s Settings) Validate() error {
	var errs []error
	if s.Paths.Data == "" {
		errs = append(errs, &ValidationError{Field: "paths.data", Message: "must not be empty"})
	}
	for field, v := range map[string]string{
		"paths.scripts":           s.Paths.Scripts,
		"paths.libraries":         s.Paths.Libraries,
		"paths.extensions_file":   s.Paths.ExtensionsFile,
		"paths.dependencies_file": s.Paths.DependenciesFile,
	} {
		if v == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "must not be empty"})
		}
	}
	if s.Provision.Workers < 0 {
		errs = append(errs, &ValidationError{Field: "provision.workers", Message: "must be >= 0"})
	}
	if s.Provision.Timeout.Duration <= 0 {
		errs = append(errs, &ValidationError{Field: "provision.timeout", Message: "must be positive"})
	}
	if s.Watch.Enabled && s.Watch.Debounce.Duration < 0 {
		errs = append(errs, &ValidationError{Field: "watch.debounce", Message: "must not be negative"})
	}
	if _, err := log.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Field: "log.level", Message: err.Error()})
	}
	return errors.Join(errs...)
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Fs is the file system to read from. Defaults to the OS file system.
	Fs afero.Fs
	// Path is the settings file. Defaults to DefaultFileName.
	Path string
	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load reads settings from the TOML file, applies environment overrides and
// validates the result.
func Load(opts LoadOptions) (Settings, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Path == "" {
		opts.Path = DefaultFileName
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	s := Default()

	data, err := afero.ReadFile(opts.Fs, opts.Path)
	switch {
	case err == nil:
		if err := decode(opts.Path, data, &s); err != nil {
			return Settings{}, err
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return Settings{}, fmt.Errorf("reading settings %s: %w", opts.Path, err)
	}

	if err := applyEnv(&s, opts.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func decode(path string, data []byte, s *Settings) error {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// envSetter applies one environment variable.
type envSetter func(s *Settings, value string) error

// envMapping maps environment variables to settings.
var envMapping = map[string]envSetter{
	EnvPrefix + "DATA_DIR": func(s *Settings, v string) error {
		s.Paths.Data = v
		return nil
	},
	EnvPrefix + "LOG_LEVEL": func(s *Settings, v string) error {
		s.Log.Level = strings.ToLower(v)
		return nil
	},
	EnvPrefix + "PROVISION_WORKERS": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		s.Provision.Workers = n
		return nil
	},
	EnvPrefix + "PROVISION_TIMEOUT": func(s *Settings, v string) error {
		return s.Provision.Timeout.UnmarshalText([]byte(v))
	},
	EnvPrefix + "PLACEHOLDERS": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		s.Interop.Placeholders = b
		return nil
	},
	EnvPrefix + "WATCH": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		s.Watch.Enabled = b
		return nil
	},
}

func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	for name, set := range envMapping {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(s, v); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

// ParseError represents an error while parsing a settings file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
