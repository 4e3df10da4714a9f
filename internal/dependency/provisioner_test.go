package dependency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scripthost/internal/checksum"
	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/scheduler"
)

// fetchFunc adapts a function to ArtifactFetcher.
type fetchFunc func(ctx context.Context, d Descriptor) (Resolved, error)

func (f fetchFunc) Fetch(ctx context.Context, d Descriptor) (Resolved, error) { return f(ctx, d) }

func named(artifact string) Descriptor {
	return Descriptor{GroupID: "org.example", ArtifactID: artifact, Version: "1.0", Repository: "https://repo/"}
}

func TestProvisionAllReturnsResolvedSubsetInOrder(t *testing.T) {
	fetcher := fetchFunc(func(_ context.Context, d Descriptor) (Resolved, error) {
		switch d.ArtifactID {
		case "broken":
			return Resolved{}, &FetchError{Descriptor: d, Kind: KindStatus, StatusCode: 404}
		case "explodes":
			panic("boom")
		}
		return Resolved{Descriptor: d, Path: "/libs/" + d.FileName()}, nil
	})
	rec := console.NewRecorder()
	p := NewProvisioner(fetcher, scheduler.New(nil), nil, WithProvisionReporter(rec))

	descs := []Descriptor{named("a"), named("broken"), named("b"), named("explodes"), named("c")}
	got := p.ProvisionAll(context.Background(), descs)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ArtifactID)
	assert.Equal(t, "b", got[1].ArtifactID)
	assert.Equal(t, "c", got[2].ArtifactID)

	assert.Equal(t, 3, p.Set().Len())
	failures := p.Set().Failures()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures["org.example:broken:1.0"], ErrStatus)
	assert.ErrorContains(t, failures["org.example:explodes:1.0"], "boom")

	assert.Len(t, rec.Keys(console.LevelError), 2)
	assert.Equal(t, []string{"provision-summary"}, rec.Keys(console.LevelInfo))
}

func TestProvisionAllRunsConcurrently(t *testing.T) {
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	fetcher := fetchFunc(func(ctx context.Context, d Descriptor) (Resolved, error) {
		started.Done()
		select {
		case <-release:
			return Resolved{Descriptor: d, Path: d.FileName()}, nil
		case <-time.After(2 * time.Second):
			return Resolved{}, errors.New("fetches were serialized")
		}
	})
	p := NewProvisioner(fetcher, scheduler.New(nil), nil)

	descs := []Descriptor{named("a"), named("b"), named("c"), named("d")}
	assert.Len(t, p.ProvisionAll(context.Background(), descs), n)
}

func TestProvisionAllRespectsWorkerLimit(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	fetcher := fetchFunc(func(_ context.Context, d Descriptor) (Resolved, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return Resolved{Descriptor: d, Path: d.FileName()}, nil
	})
	p := NewProvisioner(fetcher, scheduler.New(nil), nil, WithWorkers(2))

	descs := []Descriptor{named("a"), named("b"), named("c"), named("d"), named("e")}
	assert.Len(t, p.ProvisionAll(context.Background(), descs), 5)
	assert.LessOrEqual(t, peak, 2)
}

func TestProvisionAllEmpty(t *testing.T) {
	p := NewProvisioner(fetchFunc(nil), scheduler.New(nil), nil)
	assert.Empty(t, p.ProvisionAll(context.Background(), nil))
}

func TestProvisionFromSource(t *testing.T) {
	payload := "print('hi')"
	_, srv := newRepo(t, map[string]string{
		artifactPath:             payload,
		artifactPath + ".sha512": checksum.Sum([]byte(payload)),
	})
	fs := afero.NewMemMapFs()
	rec := console.NewRecorder()
	f := NewFetcher(fs, "/libs", WithReporter(rec))
	p := NewProvisioner(f, scheduler.New(nil), nil, WithProvisionReporter(rec))

	p.Set().Add(Resolved{Descriptor: named("stale"), Path: "/old"})

	src := &config.StaticSource{Items: []config.Record{
		{Key: "lib", Attrs: map[string]string{
			"groupId": "org.example", "artifactId": "lib", "version": "1.0", "repository": srv.URL + "/",
		}},
		{Key: "missing", Attrs: map[string]string{
			"groupId": "org.example", "artifactId": "missing", "version": "1.0", "repository": srv.URL + "/",
		}},
		{Key: "junk", Attrs: map[string]string{"groupId": "org.example"}},
	}}

	got, err := p.Provision(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lib", got[0].ArtifactID)

	_, stale := p.Set().Lookup("org.example:stale:1.0")
	assert.False(t, stale, "a new run replaces the set")
	r, ok := p.Set().Lookup("org.example:lib:1.0")
	require.True(t, ok)
	assert.Equal(t, got[0].Path, r.Path)

	assert.Equal(t, []string{"maven-dependency-invalid"}, rec.Keys(console.LevelWarn))
	assert.Equal(t, []string{"maven-dependency-download-error"}, rec.Keys(console.LevelError))
}

func TestProvisionUnreadableSource(t *testing.T) {
	p := NewProvisioner(fetchFunc(nil), scheduler.New(nil), nil)
	_, err := p.Provision(context.Background(), &config.StaticSource{Err: errors.New("no file")})
	assert.ErrorContains(t, err, "reading dependencies")
}

func TestProvisionConcurrentFetchesAgainstServer(t *testing.T) {
	files := map[string]string{}
	var descs []Descriptor
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, ok := files[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		d := named(name)
		d.Repository = srv.URL + "/"
		payload := "artifact " + name
		files["/"+d.RelPath()] = payload
		files["/"+d.RelPath()+".sha512"] = checksum.Sum([]byte(payload))
		descs = append(descs, d)
	}

	fs := afero.NewMemMapFs()
	p := NewProvisioner(NewFetcher(fs, "/libs"), scheduler.New(nil), nil, WithWorkers(3))
	got := p.ProvisionAll(context.Background(), descs)
	require.Len(t, got, len(descs))
	for i, r := range got {
		assert.Equal(t, descs[i].ArtifactID, r.ArtifactID)
		data, err := afero.ReadFile(fs, r.Path)
		require.NoError(t, err)
		assert.Equal(t, "artifact "+r.ArtifactID, string(data))
	}
}

func TestProvisionerAudit(t *testing.T) {
	good, bad := "good bytes", "bad bytes"
	_, srv := newRepo(t, map[string]string{
		"/org/example/good/1.0/good-1.0.jar.sha512": checksum.Sum([]byte(good)),
		"/org/example/bad/1.0/bad-1.0.jar.sha512":   checksum.Sum([]byte("something else")),
	})
	fs := afero.NewMemMapFs()
	f := NewFetcher(fs, "/libs")

	src := &config.StaticSource{Items: []config.Record{
		{Key: "org.example:good:1.0", Attrs: map[string]string{"repository": srv.URL}},
		{Key: "org.example:bad:1.0", Attrs: map[string]string{"repository": srv.URL}},
		{Key: "org.example:absent:1.0", Attrs: map[string]string{"repository": srv.URL}},
		{Key: "invalid", Attrs: map[string]string{}},
	}}
	for name, body := range map[string]string{"good": good, "bad": bad} {
		d := Descriptor{GroupID: "org.example", ArtifactID: name, Version: "1.0", Repository: srv.URL}
		require.NoError(t, afero.WriteFile(fs, f.LocalPath(d), []byte(body), 0o644))
	}

	rec := console.NewRecorder()
	p := NewProvisioner(f, scheduler.New(nil), nil, WithProvisionReporter(rec))
	results, err := p.Audit(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "good", results[0].ArtifactID)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrIntegrity)
	assert.ErrorIs(t, results[2].Err, ErrStorage)
	assert.Equal(t, []string{"maven-dependency-invalid"}, rec.Keys(console.LevelWarn))
	assert.Zero(t, p.Set().Len(), "audit leaves the set alone")
}

func TestProvisionerAuditNeedsAuditor(t *testing.T) {
	p := NewProvisioner(fetchFunc(nil), scheduler.New(nil), nil)
	_, err := p.Audit(context.Background(), &config.StaticSource{})
	assert.Error(t, err)
}
