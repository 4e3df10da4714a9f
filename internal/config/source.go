package config

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrDocument is wrapped by every malformed document error.
var ErrDocument = errors.New("malformed document")

// Record is one top-level entry of a document: its key and flat attributes.
type Record struct {
	Key   string
	Attrs map[string]string
}

// Get returns the named attribute or "".
func (r Record) Get(name string) string {
	return r.Attrs[name]
}

// GetOr returns the named attribute, or def when it is absent or empty.
func (r Record) GetOr(name, def string) string {
	if v := r.Attrs[name]; v != "" {
		return v
	}
	return def
}

// Source yields the records of a configuration document in key order.
type Source interface {
	Records() ([]Record, error)
}

// YAMLSource reads a YAML document from a file system on every call, so
// repeated reads observe edits made between them.
type YAMLSource struct {
	fs   afero.Fs
	path string
}

// NewYAMLSource creates a source for the YAML document at path.
func NewYAMLSource(fs afero.Fs, path string) *YAMLSource {
	return &YAMLSource{fs: fs, path: path}
}

// Path returns the document path.
func (s *YAMLSource) Path() string {
	return s.path
}

// Records implements Source. A missing or unreadable file is an error.
func (s *YAMLSource) Records() ([]Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	records, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return records, nil
}

// ParseRecords parses a YAML mapping of key to flat attribute mapping.
// Entries with no attributes (`key:` or `key: {}`) yield empty attribute maps.
func ParseRecords(data []byte) ([]Record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocument, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: top level must be a mapping", ErrDocument, root.Line)
	}

	seen := make(map[string]bool, len(root.Content)/2)
	records := make([]Record, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		key := keyNode.Value
		if seen[key] {
			return nil, fmt.Errorf("%w: line %d: duplicate key %q", ErrDocument, keyNode.Line, key)
		}
		seen[key] = true

		attrs, err := flatAttrs(valNode)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrDocument, key, err)
		}
		records = append(records, Record{Key: key, Attrs: attrs})
	}
	return records, nil
}

func flatAttrs(n *yaml.Node) (map[string]string, error) {
	attrs := make(map[string]string)
	switch {
	case n.Kind == yaml.ScalarNode && n.Tag == "!!null":
		return attrs, nil
	case n.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("line %d: value must be a mapping", n.Line)
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: attribute %q must be a scalar", v.Line, k.Value)
		}
		if v.Tag == "!!null" {
			attrs[k.Value] = ""
			continue
		}
		attrs[k.Value] = v.Value
	}
	return attrs, nil
}

// StaticSource is an in-memory Source.
type StaticSource struct {
	Items []Record
	Err   error
}

// Records implements Source.
func (s *StaticSource) Records() ([]Record, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Record, len(s.Items))
	copy(out, s.Items)
	return out, nil
}
