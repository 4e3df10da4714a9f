// Package console renders operator-facing messages from a keyed template catalog.
//
// Callers never format text themselves. They pass a message key and a flat list
// of placeholder/value pairs:
//
//	r.Report(console.LevelError, "script-register-error",
//	    "<script_name>", name,
//	    "<message>", err.Error(),
//	)
//
// The catalog maps the key to a template and each placeholder is substituted
// with its value. Unknown keys render as the key itself so nothing is dropped.
package console

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultMessages []byte

// Level classifies a console message.
type Level int

const (
	// LevelInfo is a normal progress message.
	LevelInfo Level = iota
	// LevelWarn is a recoverable anomaly.
	LevelWarn
	// LevelError is a failed item.
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Reporter receives keyed console messages.
type Reporter interface {
	Report(level Level, key string, pairs ...string)
}

// Catalog maps message keys to templates.
type Catalog struct {
	templates map[string]string
}

// DefaultCatalog returns the built-in message catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultMessages)
	if err != nil {
		panic(fmt.Sprintf("console: embedded catalog: %v", err))
	}
	return c
}

// ParseCatalog parses a YAML mapping of key to template.
func ParseCatalog(data []byte) (*Catalog, error) {
	templates := make(map[string]string)
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parsing message catalog: %w", err)
	}
	return &Catalog{templates: templates}, nil
}

// Merge returns a catalog where entries of other override entries of c.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	merged := make(map[string]string, len(c.templates)+len(other.templates))
	for k, v := range c.templates {
		merged[k] = v
	}
	for k, v := range other.templates {
		merged[k] = v
	}
	return &Catalog{templates: merged}
}

// Has reports whether the catalog defines key.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Format renders the template for key with the placeholder pairs substituted.
// A trailing unpaired placeholder is ignored.
func (c *Catalog) Format(key string, pairs ...string) string {
	tmpl, ok := c.templates[key]
	if !ok {
		tmpl = key
	}
	if len(pairs) < 2 {
		return tmpl
	}
	if len(pairs)%2 != 0 {
		pairs = pairs[:len(pairs)-1]
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// LogReporter renders messages through a charmbracelet logger.
type LogReporter struct {
	logger   *log.Logger
	catalog  *Catalog
	errStyle lipgloss.Style
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger *log.Logger, catalog *Catalog) *LogReporter {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &LogReporter{
		logger:   logger,
		catalog:  catalog,
		errStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// Report implements Reporter.
func (r *LogReporter) Report(level Level, key string, pairs ...string) {
	msg := r.catalog.Format(key, pairs...)
	switch level {
	case LevelError:
		r.logger.Error(r.errStyle.Render(msg), "key", key)
	case LevelWarn:
		r.logger.Warn(msg, "key", key)
	default:
		r.logger.Info(msg)
	}
}

// Entry is a message captured by a Recorder.
type Entry struct {
	Level Level
	Key   string
	Text  string
	Pairs map[string]string
}

// Recorder captures messages in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	catalog *Catalog
	entries []Entry
}

// NewRecorder creates a recorder rendering with the default catalog.
func NewRecorder() *Recorder {
	return &Recorder{catalog: DefaultCatalog()}
}

// Report implements Reporter.
func (r *Recorder) Report(level Level, key string, pairs ...string) {
	values := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		values[pairs[i]] = pairs[i+1]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		Level: level,
		Key:   key,
		Text:  r.catalog.Format(key, pairs...),
		Pairs: values,
	})
}

// Entries returns a copy of the captured messages.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Keys returns the keys of captured messages with the given level, in order.
func (r *Recorder) Keys(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for _, e := range r.entries {
		if e.Level == level {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Discard drops every message.
type Discard struct{}

// Report implements Reporter.
func (Discard) Report(Level, string, ...string) {}
