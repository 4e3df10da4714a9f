package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/dshills/scripthost/internal/config"
)

// SourceExt is the extension of script source files.
const SourceExt = ".lua"

// Unit is one configured extension folder and its script sources.
type Unit struct {
	Folder      string
	Name        string
	Author      string
	Version     string
	Description string

	// Sources are absolute script paths, sorted.
	Sources []string

	// Err is set when the folder exists but could not be listed.
	Err error
}

// Discovery produces the configured extension units.
type Discovery interface {
	Discover() ([]Unit, error)
}

// Loader discovers extension units from a document source and a scripts
// directory.
type Loader struct {
	fs   afero.Fs
	root string
	src  config.Source
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFs sets the file system used to list sources.
func WithFs(fsys afero.Fs) LoaderOption {
	return func(l *Loader) {
		l.fs = fsys
	}
}

// NewLoader creates a loader reading unit records from src and listing
// sources under root.
func NewLoader(root string, src config.Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:   afero.NewOsFs(),
		root: root,
		src:  src,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Root returns the scripts directory.
func (l *Loader) Root() string {
	return l.root
}

// Discover reads the document and lists each unit's sources.
// Units keep document key order. A folder that is missing or escapes the
// scripts directory yields a unit with no sources, and one that cannot be
// listed carries the cause in Unit.Err. Only a document read failure is an
// error.
func (l *Loader) Discover() ([]Unit, error) {
	records, err := l.src.Records()
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(records))
	for _, rec := range records {
		u := Unit{
			Folder:      rec.Key,
			Name:        rec.GetOr("name", rec.Key),
			Author:      rec.Get("author"),
			Version:     rec.Get("version"),
			Description: rec.Get("description"),
		}

		sources, err := l.sources(rec.Key)
		if err != nil {
			u.Err = fmt.Errorf("listing sources of %q: %w", rec.Key, err)
		}
		u.Sources = sources
		units = append(units, u)
	}

	return units, nil
}

// sources lists the script files of a folder.
func (l *Loader) sources(folder string) ([]string, error) {
	if !filepath.IsLocal(folder) {
		return nil, nil
	}
	dir := filepath.Join(l.root, folder)

	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // A folder without scripts is not an error
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SourceExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	return paths, nil
}

// ExtensionName returns the registry name of a unit source: "folder/file.lua".
func ExtensionName(u Unit, source string) string {
	return u.Folder + "/" + filepath.Base(source)
}
