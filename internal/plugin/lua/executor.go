package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scripthost/internal/dependency"
	"github.com/dshills/scripthost/internal/plugin"
	"github.com/dshills/scripthost/internal/scheduler"
)

// ModuleExtension is the dependency extension preloaded as a Lua module.
const ModuleExtension = "lua"

// Script is a plugin.Executor backed by one Lua state.
type Script struct {
	name   string
	state  *State
	bridge *Bridge
	binder plugin.Binder
	sched  *scheduler.Scheduler
}

// Name implements plugin.Executor.
func (s *Script) Name() string {
	return s.name
}

// Invoke calls the named global hook. A missing hook is a no-op.
func (s *Script) Invoke(ctx context.Context, hook string) error {
	_, err := s.state.CallGlobal(ctx, hook)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

// Valid implements plugin.Executor.
func (s *Script) Valid() bool {
	return !s.state.IsClosed()
}

// Close implements plugin.Executor.
func (s *Script) Close() error {
	return s.state.Close()
}

// State returns the script's Lua state.
func (s *Script) State() *State {
	return s.state
}

// call runs a Lua callback registered through the host API. Callbacks run on
// the primary context; a call already on it, or made while no loop is running,
// runs inline.
func (s *Script) call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	var results []lua.LValue
	task := func(ctx context.Context) error {
		var err error
		results, err = s.state.Call(ctx, fn, args...)
		return err
	}
	if s.sched == nil || !s.sched.PrimaryRunning() {
		return results, task(ctx)
	}
	err := s.sched.RunSync(ctx, scheduler.PlacementPrimary, task)
	return results, err
}

// post runs a Lua callback with data without waiting for it. With a primary loop the
// call is posted behind the task currently running there; posting never blocks,
// so an emit on the loop may reach any number of easy listeners.
func (s *Script) post(fn *lua.LFunction, data map[string]string, onErr func(error)) {
	task := func(ctx context.Context) error {
		if _, err := s.state.Call(ctx, fn, s.bridge.FromStringMap(data)); err != nil {
			onErr(err)
		}
		return nil
	}
	if s.sched == nil || !s.sched.PrimaryRunning() {
		_ = task(context.Background())
		return
	}
	s.sched.Run(context.Background(), scheduler.PlacementPrimary, scheduler.ModeAsync, task)
}

// Factory creates Scripts. It implements plugin.Factory.
type Factory struct {
	fs          afero.Fs
	deps        *dependency.Set
	sched       *scheduler.Scheduler
	callTimeout time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDependencies preloads the lua artifacts of set into every script.
func WithDependencies(set *dependency.Set) FactoryOption {
	return func(f *Factory) {
		f.deps = set
	}
}

// WithScheduler routes host callbacks through the primary loop of s.
func WithScheduler(s *scheduler.Scheduler) FactoryOption {
	return func(f *Factory) {
		f.sched = s
	}
}

// WithFactoryCallTimeout sets the per-call timeout of created states.
func WithFactoryCallTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		f.callTimeout = d
	}
}

// NewFactory creates a factory reading sources from fsys.
func NewFactory(fsys afero.Fs, opts ...FactoryOption) *Factory {
	f := &Factory{
		fs:          fsys,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New implements plugin.Factory. It runs the script's top level; a compile or
// runtime error there fails creation.
func (f *Factory) New(ctx context.Context, src plugin.Source, binder plugin.Binder) (plugin.Executor, error) {
	code, err := afero.ReadFile(f.fs, src.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.Path, err)
	}

	state, err := NewState(WithCallTimeout(f.callTimeout))
	if err != nil {
		return nil, err
	}

	s := &Script{
		name:   src.Name,
		state:  state,
		bridge: NewBridge(state.L),
		binder: binder,
		sched:  f.sched,
	}

	logger := binder.Logger()
	state.Sandbox().installPrint(func(line string) { logger.Info(line) })
	s.installHostAPI()

	if err := f.preload(state); err != nil {
		_ = state.Close()
		return nil, err
	}

	if err := state.Load(ctx, src.Name, code); err != nil {
		_ = state.Close()
		return nil, err
	}
	return s, nil
}

// preload registers each resolved lua dependency as a module named by its
// artifact id.
func (f *Factory) preload(state *State) error {
	if f.deps == nil {
		return nil
	}
	for _, dep := range f.deps.Resolved() {
		if !strings.EqualFold(dep.Ext(), ModuleExtension) {
			continue
		}
		code, err := afero.ReadFile(f.fs, dep.Path)
		if err != nil {
			return fmt.Errorf("reading dependency %s: %w", dep, err)
		}
		chunk := filepath.Base(dep.Path)
		state.Sandbox().Preload(dep.ArtifactID, func(L *lua.LState) int {
			fn, err := L.LoadString(string(code))
			if err != nil {
				L.RaiseError("loading %s: %v", chunk, err)
				return 0
			}
			L.Push(fn)
			L.Call(0, 1)
			return 1
		})
	}
	return nil
}
