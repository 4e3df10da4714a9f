package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/interop"
)

// staticDiscovery returns fixed units.
type staticDiscovery struct {
	units []Unit
	err   error
}

func (d *staticDiscovery) Discover() ([]Unit, error) {
	return d.units, d.err
}

// script is the behavior of one fake extension.
type script struct {
	onLoad   func(ctx context.Context, b Binder) error
	onUnload func(ctx context.Context, b Binder) error
	onReload func(ctx context.Context, b Binder) error
}

type fakeExecutor struct {
	name   string
	binder Binder
	script script
	trace  *trace
	closed bool
}

func (e *fakeExecutor) Name() string { return e.name }
func (e *fakeExecutor) Valid() bool  { return !e.closed }

func (e *fakeExecutor) Invoke(ctx context.Context, hook string) error {
	e.trace.add(e.name + ":" + hook)
	var fn func(context.Context, Binder) error
	switch hook {
	case HookLoad:
		fn = e.script.onLoad
	case HookUnload:
		fn = e.script.onUnload
	case HookReload:
		fn = e.script.onReload
	}
	if fn == nil {
		return nil
	}
	return fn(ctx, e.binder)
}

func (e *fakeExecutor) Close() error {
	if e.closed {
		return errors.New("closed twice")
	}
	e.closed = true
	e.trace.add(e.name + ":close")
	return nil
}

type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, s)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

func (t *trace) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

type fixture struct {
	coord    *Coordinator
	hub      *interop.Hub
	recorder *console.Recorder
	trace    *trace
	binders  map[string]Binder
}

// newFixture builds a coordinator over one unit per folder, each with a single
// main.lua source driven by scripts[folder].
func newFixture(t *testing.T, folders []string, scripts map[string]script) *fixture {
	t.Helper()
	f := &fixture{
		hub:      interop.NewHub(true),
		recorder: console.NewRecorder(),
		trace:    &trace{},
		binders:  make(map[string]Binder),
	}

	units := make([]Unit, len(folders))
	for i, folder := range folders {
		units[i] = Unit{Folder: folder, Name: folder, Sources: []string{"/scripts/" + folder + "/main.lua"}}
	}

	factory := FactoryFunc(func(ctx context.Context, src Source, b Binder) (Executor, error) {
		sc, ok := scripts[src.Unit.Folder]
		if !ok {
			return nil, fmt.Errorf("no script for %s", src.Unit.Folder)
		}
		f.binders[src.Name] = b
		return &fakeExecutor{name: src.Name, binder: b, script: sc, trace: f.trace}, nil
	})

	f.coord = NewCoordinator(&staticDiscovery{units: units}, factory, nil, f.hub, WithReporter(f.recorder))
	return f
}

// registerAll registers one entry of every kind for b.
func registerAll(b Binder, tag string) error {
	noop := func(context.Context, interop.Event) error { return nil }
	if _, err := b.Command(tag, func(context.Context, []string) error { return nil }); err != nil {
		return err
	}
	if _, err := b.Listen("topic", noop); err != nil {
		return err
	}
	if _, err := b.On("topic", func(interop.Event) {}); err != nil {
		return err
	}
	if _, err := b.Placeholder(tag, func(context.Context, string) (string, error) { return tag, nil }); err != nil {
		return err
	}
	return nil
}

func hubTotal(h *interop.Hub) int {
	n := 0
	for _, k := range interop.TeardownPlan(true) {
		n += h.Count(k)
	}
	return n
}

func TestCoordinatorRegisterIsolatesFailure(t *testing.T) {
	scripts := map[string]script{
		"alpha": {onLoad: func(_ context.Context, b Binder) error { return registerAll(b, "alpha") }},
		"beta": {onLoad: func(_ context.Context, b Binder) error {
			if err := registerAll(b, "beta"); err != nil {
				return err
			}
			return errors.New("beta refuses")
		}},
		"gamma": {onLoad: func(_ context.Context, b Binder) error { return registerAll(b, "gamma") }},
	}
	f := newFixture(t, []string{"alpha", "beta", "gamma"}, scripts)

	report, err := f.coord.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if want := []string{"alpha/main.lua", "gamma/main.lua"}; !slices.Equal(report.Loaded, want) {
		t.Errorf("Loaded = %v, want %v", report.Loaded, want)
	}
	if len(report.Failed) != 1 || report.Failed[0].Extension != "beta/main.lua" {
		t.Fatalf("Failed = %v, want beta/main.lua", report.Failed)
	}
	if report.Failed[0].Phase != PhaseLoad {
		t.Errorf("Phase = %q, want %q", report.Failed[0].Phase, PhaseLoad)
	}
	if report.Err() == nil {
		t.Error("Report.Err() = nil with a failure")
	}

	if f.coord.State() != StateLoaded {
		t.Errorf("State() = %v, want loaded", f.coord.State())
	}
	if f.coord.Registry().Len() != 2 {
		t.Errorf("registry has %d executors, want 2", f.coord.Registry().Len())
	}
	if f.hub.Commands.Has("beta") {
		t.Error("beta's command survived its failure")
	}
	if got := f.hub.Count(interop.KindListener); got != 4 {
		t.Errorf("listeners = %d, want 4 (two plain, two adapters' underlying)", got)
	}
	if len(f.coord.Registry().RegistrationsFor("beta/main.lua")) != 0 {
		t.Error("beta's registrations still recorded")
	}

	wantInfo := []string{"script-registered", "script-registered"}
	if got := f.recorder.Keys(console.LevelInfo); !slices.Equal(got, wantInfo) {
		t.Errorf("info keys = %v, want %v", got, wantInfo)
	}
	if got := f.recorder.Keys(console.LevelError); !slices.Equal(got, []string{"script-register-error"}) {
		t.Errorf("error keys = %v", got)
	}
}

func TestCoordinatorCreateFailure(t *testing.T) {
	f := newFixture(t, []string{"missing", "alpha"}, map[string]script{"alpha": {}})

	report, err := f.coord.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Phase != PhaseCreate {
		t.Fatalf("Failed = %v, want one create failure", report.Failed)
	}
	if !slices.Equal(report.Loaded, []string{"alpha/main.lua"}) {
		t.Errorf("Loaded = %v", report.Loaded)
	}
}

func TestCoordinatorHookPanic(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{
		"alpha": {onLoad: func(context.Context, Binder) error { panic("kaboom") }},
	})

	report, err := f.coord.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(report.Failed) != 1 || !errors.Is(report.Failed[0], ErrHookPanic) {
		t.Fatalf("Failed = %v, want ErrHookPanic", report.Failed)
	}
	if !slices.Contains(f.trace.list(), "alpha/main.lua:close") {
		t.Error("panicking extension was not closed")
	}
}

func TestCoordinatorDiscoveryError(t *testing.T) {
	coord := NewCoordinator(&staticDiscovery{err: errors.New("unreadable")}, nil, nil, nil)

	if _, err := coord.Register(context.Background()); err == nil {
		t.Fatal("Register() should fail when discovery fails")
	}
	if coord.State() != StateUnloaded {
		t.Errorf("State() = %v, want unloaded", coord.State())
	}
}

func TestCoordinatorIsolatesUnlistableFolder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, path := range []string{"/scripts/alpha/main.lua", "/scripts/gamma/main.lua"} {
		if err := afero.WriteFile(fsys, path, []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := afero.WriteFile(fsys, "/scripts/beta", []byte("not a folder"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &config.StaticSource{Items: []config.Record{
		{Key: "alpha", Attrs: map[string]string{}},
		{Key: "beta", Attrs: map[string]string{}},
		{Key: "gamma", Attrs: map[string]string{}},
	}}

	tr := &trace{}
	factory := FactoryFunc(func(_ context.Context, src Source, b Binder) (Executor, error) {
		return &fakeExecutor{name: src.Name, binder: b, script: script{
			onLoad: func(_ context.Context, b Binder) error { return registerAll(b, src.Unit.Folder) },
		}, trace: tr}, nil
	})
	recorder := console.NewRecorder()
	hub := interop.NewHub(true)
	coord := NewCoordinator(NewLoader("/scripts", src, WithFs(fsys)), factory, nil, hub, WithReporter(recorder))

	report, err := coord.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if want := []string{"alpha/main.lua", "gamma/main.lua"}; !slices.Equal(report.Loaded, want) {
		t.Errorf("Loaded = %v, want %v", report.Loaded, want)
	}
	if len(report.Failed) != 1 || report.Failed[0].Extension != "beta" || report.Failed[0].Phase != PhaseCreate {
		t.Fatalf("Failed = %v, want beta at create", report.Failed)
	}
	if coord.State() != StateLoaded {
		t.Errorf("State() = %v, want loaded", coord.State())
	}
	if !hub.Commands.Has("alpha") || !hub.Commands.Has("gamma") {
		t.Errorf("commands = %v, want alpha and gamma", hub.Commands.Names())
	}
	if got := recorder.Keys(console.LevelError); !slices.Equal(got, []string{"script-register-error"}) {
		t.Errorf("error keys = %v", got)
	}

	// Reload keeps the healthy extensions.
	report, err = coord.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(report.Loaded) != 2 || len(report.Failed) != 1 {
		t.Errorf("Reload() loaded %v failed %v", report.Loaded, report.Failed)
	}
}

func TestCoordinatorNoFactory(t *testing.T) {
	units := []Unit{{Folder: "alpha", Sources: []string{"/scripts/alpha/main.lua"}}}
	coord := NewCoordinator(&staticDiscovery{units: units}, nil, nil, nil)

	report, err := coord.Register(context.Background())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(report.Failed) != 1 || !errors.Is(report.Failed[0], ErrNoFactory) {
		t.Errorf("Failed = %v, want ErrNoFactory", report.Failed)
	}
}

func TestCoordinatorStateGuards(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{"alpha": {}})
	ctx := context.Background()

	if err := f.coord.Unload(ctx); err != nil {
		t.Errorf("Unload() while unloaded error = %v, want no-op", err)
	}
	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := f.coord.Register(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Register() error = %v, want ErrInvalidState", err)
	}
	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if err := f.coord.Unload(ctx); err != nil {
		t.Errorf("second Unload() error = %v, want no-op", err)
	}
}

func TestCoordinatorTeardownOrder(t *testing.T) {
	load := func(tag string) script {
		return script{onLoad: func(_ context.Context, b Binder) error { return registerAll(b, tag) }}
	}
	f := newFixture(t, []string{"alpha", "beta"}, map[string]script{"alpha": load("alpha"), "beta": load("beta")})
	ctx := context.Background()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var kinds []interop.Kind
	var errs []error
	f.hub.OnUnregister(func(reg interop.Registration, err error) {
		kinds = append(kinds, reg.Kind)
		if err != nil {
			errs = append(errs, err)
		}
	})

	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	want := []interop.Kind{
		interop.KindCommand, interop.KindCommand,
		interop.KindPlaceholder, interop.KindPlaceholder,
		interop.KindEasyListener, interop.KindEasyListener,
		interop.KindListener, interop.KindListener,
	}
	if !slices.Equal(kinds, want) {
		t.Errorf("unregister order = %v, want %v", kinds, want)
	}
	if len(errs) != 0 {
		t.Errorf("unregister errors = %v", errs)
	}
	if n := hubTotal(f.hub); n != 0 {
		t.Errorf("%d registrations left after Unload()", n)
	}
	if f.recorder.Keys(console.LevelWarn) != nil {
		t.Errorf("teardown warnings = %v", f.recorder.Keys(console.LevelWarn))
	}
}

func TestCoordinatorTeardownWithoutPlaceholders(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{
		"alpha": {onLoad: func(_ context.Context, b Binder) error {
			_, err := b.Command("alpha", func(context.Context, []string) error { return nil })
			return err
		}},
	})
	f.hub = interop.NewHub(false)
	f.coord.hub = f.hub
	ctx := context.Background()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := f.binders["alpha/main.lua"].Placeholder("alpha", func(context.Context, string) (string, error) { return "", nil })
	if !errors.Is(err, interop.ErrDisabled) {
		t.Errorf("Placeholder() error = %v, want ErrDisabled", err)
	}
	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if f.hub.Commands.Len() != 0 {
		t.Error("command left after Unload()")
	}
}

func TestCoordinatorSweepsUnrecorded(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{
		"alpha": {onLoad: func(context.Context, Binder) error { return nil }},
	})
	ctx := context.Background()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	// Registered straight into the hub, bypassing the binder's record.
	if _, err := f.hub.Commands.Register("alpha/main.lua", "stray", func(context.Context, []string) error { return nil }); err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if f.hub.Commands.Has("stray") {
		t.Error("unrecorded command survived Unload()")
	}
}

func TestCoordinatorBinderRefusedWhenInactive(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{"alpha": {}})
	ctx := context.Background()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	b := f.binders["alpha/main.lua"]
	if err := b.SetContext("k", "v"); err != nil {
		t.Fatalf("SetContext() while loaded error = %v", err)
	}
	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	if _, err := b.Command("late", func(context.Context, []string) error { return nil }); !errors.Is(err, ErrNotActive) {
		t.Errorf("Command() after unload error = %v, want ErrNotActive", err)
	}
	if _, err := b.Listen("late", func(context.Context, interop.Event) error { return nil }); !errors.Is(err, ErrNotActive) {
		t.Errorf("Listen() after unload error = %v, want ErrNotActive", err)
	}
	if err := b.SetContext("k", "v"); !errors.Is(err, ErrNotActive) {
		t.Errorf("SetContext() after unload error = %v, want ErrNotActive", err)
	}
	if f.hub.Commands.Has("late") {
		t.Error("inactive extension registered a command")
	}
}

func TestCoordinatorReload(t *testing.T) {
	load := func(tag string) script {
		return script{onLoad: func(_ context.Context, b Binder) error { return registerAll(b, tag) }}
	}
	f := newFixture(t, []string{"alpha", "beta"}, map[string]script{"alpha": load("alpha"), "beta": load("beta")})
	ctx := context.Background()

	var events []EventType
	unsubscribe := f.coord.Subscribe(func(ev Event) {
		events = append(events, ev.Type)
	})
	defer unsubscribe()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	before := hubTotal(f.hub)
	f.trace.reset()

	report, err := f.coord.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(report.Loaded) != 2 {
		t.Errorf("Loaded = %v", report.Loaded)
	}

	want := []string{
		"alpha/main.lua:onReload", "beta/main.lua:onReload",
		"alpha/main.lua:onUnload", "beta/main.lua:onUnload",
		"alpha/main.lua:close", "beta/main.lua:close",
		"alpha/main.lua:onLoad", "beta/main.lua:onLoad",
	}
	if got := f.trace.list(); !slices.Equal(got, want) {
		t.Errorf("hook order = %v, want %v", got, want)
	}
	if after := hubTotal(f.hub); after != before {
		t.Errorf("registrations after reload = %d, want %d", after, before)
	}
	if f.coord.State() != StateLoaded {
		t.Errorf("State() = %v, want loaded", f.coord.State())
	}

	wantEvents := []EventType{EventLoaded, EventLoaded, EventUnloaded, EventLoaded, EventLoaded, EventReloaded}
	if !slices.Equal(events, wantEvents) {
		t.Errorf("events = %v, want %v", events, wantEvents)
	}
}

func TestCoordinatorReloadFromUnloaded(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{"alpha": {}})

	report, err := f.coord.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(report.Loaded) != 1 {
		t.Errorf("Loaded = %v", report.Loaded)
	}
	if slices.Contains(f.trace.list(), "alpha/main.lua:onReload") {
		t.Error("onReload ran with nothing loaded")
	}
}

func TestCoordinatorUnloadHookErrorReported(t *testing.T) {
	f := newFixture(t, []string{"alpha"}, map[string]script{
		"alpha": {onUnload: func(context.Context, Binder) error { return errors.New("bye failed") }},
	})
	ctx := context.Background()

	if _, err := f.coord.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := f.coord.Unload(ctx); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if !slices.Contains(f.recorder.Keys(console.LevelError), "script-hook-error") {
		t.Errorf("error keys = %v, want script-hook-error", f.recorder.Keys(console.LevelError))
	}
	if f.coord.State() != StateUnloaded {
		t.Errorf("State() = %v, want unloaded", f.coord.State())
	}
}
