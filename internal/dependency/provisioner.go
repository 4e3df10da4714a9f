package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/scheduler"
)

// ArtifactFetcher resolves one descriptor. *Fetcher implements it.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, d Descriptor) (Resolved, error)
}

// Provisioner resolves a batch of descriptors in parallel and waits for all of
// them before returning.
type Provisioner struct {
	fetcher  ArtifactFetcher
	sched    *scheduler.Scheduler
	set      *Set
	workers  int
	reporter console.Reporter
	logger   *log.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithWorkers bounds concurrent fetches. Zero or less runs every fetch at once.
func WithWorkers(n int) ProvisionerOption {
	return func(p *Provisioner) { p.workers = n }
}

// WithProvisionReporter sets the console reporter.
func WithProvisionReporter(r console.Reporter) ProvisionerOption {
	return func(p *Provisioner) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithProvisionLogger sets the diagnostic logger.
func WithProvisionLogger(l *log.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvisioner creates a provisioner. A nil set gets a fresh one.
func NewProvisioner(f ArtifactFetcher, sched *scheduler.Scheduler, set *Set, opts ...ProvisionerOption) *Provisioner {
	if set == nil {
		set = NewSet()
	}
	p := &Provisioner{
		fetcher:  f,
		sched:    sched,
		set:      set,
		reporter: console.Discard{},
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Set returns the provisioned dependency set.
func (p *Provisioner) Set() *Set {
	return p.set
}

// ProvisionAll fetches every descriptor concurrently and returns the ones that
// resolved, in input order. Failures, including panics, are reported per
// descriptor and never abort the others.
func (p *Provisioner) ProvisionAll(ctx context.Context, descs []Descriptor) []Resolved {
	results := make([]Resolved, len(descs))

	group := p.sched.Group(ctx, p.workers)
	for i, d := range descs {
		group.Go(func(ctx context.Context) error {
			r, err := p.fetchOne(ctx, d)
			if err != nil {
				p.set.Fail(d, err)
				p.reporter.Report(console.LevelError, "maven-dependency-download-error",
					"<dependency>", d.Coordinates(),
					"<message>", err.Error(),
				)
				return err
			}
			results[i] = r
			p.set.Add(r)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		p.logger.Debug("provisioning finished with failures", "err", err)
	}

	out := make([]Resolved, 0, len(descs))
	for _, r := range results {
		if r.Available() {
			out = append(out, r)
		}
	}

	p.reporter.Report(console.LevelInfo, "provision-summary",
		"<resolved>", strconv.Itoa(len(out)),
		"<total>", strconv.Itoa(len(descs)),
	)
	return out
}

func (p *Provisioner) fetchOne(ctx context.Context, d Descriptor) (r Resolved, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = Resolved{}
			err = fmt.Errorf("fetch panic: %v", rec)
		}
	}()
	r, err = p.fetcher.Fetch(ctx, d)
	if err == nil && !r.Available() {
		err = errors.New("fetcher returned no path")
	}
	return r, err
}

// Provision reads the dependency document from src, replaces the set with a
// fresh run and provisions every valid entry. Invalid entries are reported and
// skipped. Only a document that cannot be read at all is an error.
func (p *Provisioner) Provision(ctx context.Context, src config.Source) ([]Resolved, error) {
	descs, err := p.descriptors(src)
	if err != nil {
		return nil, err
	}
	p.set.Reset()
	return p.ProvisionAll(ctx, descs), nil
}

// Auditor re-verifies cached artifacts.
type Auditor interface {
	Audit(ctx context.Context, d Descriptor) error
}

// AuditResult is the verdict for one cached artifact. A nil Err means the
// file matches its published digest.
type AuditResult struct {
	Descriptor
	Err error
}

// Audit re-verifies the cached file of every valid entry of src, concurrently
// and without writing. Results keep document order.
func (p *Provisioner) Audit(ctx context.Context, src config.Source) ([]AuditResult, error) {
	auditor, ok := p.fetcher.(Auditor)
	if !ok {
		return nil, errors.New("fetcher cannot audit cached artifacts")
	}
	descs, err := p.descriptors(src)
	if err != nil {
		return nil, err
	}

	results := make([]AuditResult, len(descs))
	group := p.sched.Group(ctx, p.workers)
	for i, d := range descs {
		group.Go(func(ctx context.Context) error {
			results[i] = AuditResult{Descriptor: d, Err: auditor.Audit(ctx, d)}
			return results[i].Err
		})
	}
	_ = group.Wait()
	return results, nil
}

// descriptors reads src and keeps its valid entries, reporting the rest.
func (p *Provisioner) descriptors(src config.Source) ([]Descriptor, error) {
	records, err := src.Records()
	if err != nil {
		return nil, fmt.Errorf("reading dependencies: %w", err)
	}

	descs := make([]Descriptor, 0, len(records))
	for _, rec := range records {
		d, err := FromRecord(rec)
		if err != nil {
			p.reporter.Report(console.LevelWarn, "maven-dependency-invalid",
				"<dependency>", rec.Key,
				"<message>", err.Error(),
			)
			continue
		}
		descs = append(descs, d)
	}
	return descs, nil
}
