package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/scripthost/internal/checksum"
	"github.com/dshills/scripthost/internal/console"
)

// Default fetch settings.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "scripthost/1.0"
)

// Fetcher downloads and verifies a single artifact into a library root.
// It is safe for concurrent use on distinct descriptors.
type Fetcher struct {
	fs        afero.Fs
	root      string
	client    *http.Client
	timeout   time.Duration
	userAgent string
	reporter  console.Reporter
	logger    *log.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout bounds each fetch, covering both the artifact and its digest.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent request header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithReporter sets the console reporter.
func WithReporter(r console.Reporter) FetcherOption {
	return func(f *Fetcher) {
		if r != nil {
			f.reporter = r
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a fetcher storing artifacts under root on fs.
func NewFetcher(fs afero.Fs, root string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		fs:        fs,
		root:      root,
		client:    http.DefaultClient,
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		reporter:  console.Discard{},
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Root returns the library root.
func (f *Fetcher) Root() string {
	return f.root
}

// LocalPath returns the canonical file for d.
func (f *Fetcher) LocalPath(d Descriptor) string {
	return filepath.Join(f.root, filepath.FromSlash(d.RelPath()))
}

// QuarantinePath returns the file a mismatching download of d is kept under.
func (f *Fetcher) QuarantinePath(d Descriptor, actual string) string {
	return f.LocalPath(d) + "_" + actual
}

// Fetch resolves d to a local file.
//
// An existing canonical file is reused without touching the network and
// without re-verification. Otherwise the artifact and its reference digest are
// downloaded; a matching artifact is stored at the canonical path and a
// mismatching one is quarantined next to it and reported as ErrIntegrity.
func (f *Fetcher) Fetch(ctx context.Context, d Descriptor) (Resolved, error) {
	canonical := f.LocalPath(d)
	pairs := coordinatePairs(d)

	exists, err := afero.Exists(f.fs, canonical)
	if err != nil {
		return Resolved{}, &FetchError{Descriptor: d, Kind: KindStorage, Err: err}
	}
	if exists {
		f.reporter.Report(console.LevelInfo, "maven-dependency-exists", pairs...)
		f.logger.Debug("reusing cached artifact without verification", "dependency", d, "path", canonical)
		return Resolved{Descriptor: d, Path: canonical}, nil
	}

	f.reporter.Report(console.LevelInfo, "maven-dependency-start-download", pairs...)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	reference, err := f.get(ctx, d, d.ChecksumURL())
	if err != nil {
		return Resolved{}, err
	}
	data, err := f.get(ctx, d, d.URL())
	if err != nil {
		return Resolved{}, err
	}

	actual := checksum.Sum(data)
	if checksum.Equal(actual, string(reference)) {
		if err := f.store(canonical, data); err != nil {
			return Resolved{}, &FetchError{Descriptor: d, Kind: KindStorage, Err: err}
		}
		f.reporter.Report(console.LevelInfo, "libs-download-sha512-done", pairs...)
		f.logger.Debug("artifact stored", "dependency", d, "bytes", len(data), "elapsed", time.Since(start))
		return Resolved{Descriptor: d, Path: canonical}, nil
	}

	expected := strings.TrimSpace(string(reference))
	if ref, perr := checksum.ParseReference(expected); perr == nil {
		expected = ref
	}
	quarantine := f.QuarantinePath(d, actual)
	if err := f.quarantine(quarantine, data); err != nil {
		return Resolved{}, &FetchError{Descriptor: d, Kind: KindStorage, Err: err}
	}

	f.reporter.Report(console.LevelError, "libs-download-sha512-error", append(pairs,
		"<expected_sha512>", expected,
		"<err_sha512>", actual,
		"<new_file_name>", filepath.Base(quarantine),
	)...)
	return Resolved{}, &FetchError{
		Descriptor: d,
		Kind:       KindIntegrity,
		URL:        d.URL(),
		Expected:   expected,
		Actual:     actual,
		Quarantine: quarantine,
	}
}

// Audit re-verifies the cached file of d against its published digest. It
// never writes: a mismatch is returned as ErrIntegrity and the file is left
// in place. A missing file is ErrStorage.
func (f *Fetcher) Audit(ctx context.Context, d Descriptor) error {
	canonical := f.LocalPath(d)
	data, err := afero.ReadFile(f.fs, canonical)
	if err != nil {
		return &FetchError{Descriptor: d, Kind: KindStorage, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	reference, err := f.get(ctx, d, d.ChecksumURL())
	if err != nil {
		return err
	}
	expected, err := checksum.ParseReference(string(reference))
	if err != nil {
		return &FetchError{Descriptor: d, Kind: KindIntegrity, URL: d.ChecksumURL(), Err: err}
	}
	if actual := checksum.Sum(data); actual != expected {
		return &FetchError{
			Descriptor: d,
			Kind:       KindIntegrity,
			URL:        d.URL(),
			Expected:   expected,
			Actual:     actual,
		}
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, d Descriptor, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Descriptor: d, Kind: KindTransport, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(d, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{
			Descriptor: d,
			Kind:       KindStatus,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(d, url, err)
	}
	return body, nil
}

func classify(d Descriptor, url string, err error) error {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &FetchError{Descriptor: d, Kind: kind, URL: url, Err: err}
}

// store writes data to a temporary sibling and renames it into place, so the
// canonical path only ever holds a complete file.
func (f *Fetcher) store(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(f.fs, dir, filepath.Base(path)+".part-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := f.fs.Rename(tmpName, path); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// quarantine keeps the first copy of a mismatching download.
func (f *Fetcher) quarantine(path string, data []byte) error {
	exists, err := afero.Exists(f.fs, path)
	if err != nil {
		return err
	}
	if exists {
		f.logger.Debug("quarantine file already present", "path", path)
		return nil
	}
	return f.store(path, data)
}

func coordinatePairs(d Descriptor) []string {
	return []string{
		"<groupId>", d.GroupID,
		"<artifactId>", d.ArtifactID,
		"<version>", d.Version,
		"<repository>", d.Repository,
	}
}
