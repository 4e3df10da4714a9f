package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single call into Lua.
const DefaultCallTimeout = 5 * time.Second

// State wraps gopher-lua with a sandbox and per-call timeouts.
//
// gopher-lua's LState is not goroutine-safe. A State is only ever used from the
// host's primary loop; nested calls made from inside Lua (a hook emitting an
// event to a listener in the same script) run on that same goroutine.
type State struct {
	L *lua.LState

	callTimeout time.Duration
	sandbox     *Sandbox
	closed      atomic.Bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallTimeout sets the timeout for each call into Lua. Zero disables it.
func WithCallTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.callTimeout = d
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // We'll open selectively
	})
	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L)
	if err := state.sandbox.Install(); err != nil {
		L.Close()
		return nil, err
	}

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)

	// Not opened: io, os, debug, channel.
}

// Load compiles src under the given chunk name and runs it.
func (s *State) Load(ctx context.Context, name string, src []byte) error {
	if s.closed.Load() {
		return ErrStateClosed
	}
	fn, err := s.L.Load(bytes.NewReader(src), name)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", name, err)
	}
	_, err = s.Call(ctx, fn)
	return err
}

// Call calls fn with args and returns every result.
func (s *State) Call(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	if s.closed.Load() {
		return nil, ErrStateClosed
	}

	var results []lua.LValue
	err := s.withContext(ctx, func() error {
		top := s.L.GetTop()
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...); err != nil {
			return err
		}
		n := s.L.GetTop() - top
		results = make([]lua.LValue, n)
		for i := 0; i < n; i++ {
			results[i] = s.L.Get(top + i + 1)
		}
		s.L.Pop(n)
		return nil
	})
	return results, err
}

// CallGlobal calls the named global function. found is false, and err nil,
// when no such function exists.
func (s *State) CallGlobal(ctx context.Context, name string, args ...lua.LValue) (found bool, err error) {
	if s.closed.Load() {
		return false, ErrStateClosed
	}
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return false, nil
	}
	_, err = s.Call(ctx, fn, args...)
	return true, err
}

// withContext runs fn with ctx installed on the LState, restoring the
// enclosing call's context afterwards.
func (s *State) withContext(ctx context.Context, fn func() error) (err error) {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	prev := s.L.Context()
	s.L.SetContext(ctx)
	defer func() {
		if prev != nil {
			s.L.SetContext(prev)
		} else {
			s.L.RemoveContext()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	err = fn()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return err
}

// Context returns the context of the call currently running, or Background.
func (s *State) Context() context.Context {
	if ctx := s.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	if s.closed.Load() {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	return s.closed.Load()
}

// Close releases all resources associated with the Lua state.
// After Close is called, all other methods will return ErrStateClosed.
func (s *State) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.L.Close()
	return nil
}
