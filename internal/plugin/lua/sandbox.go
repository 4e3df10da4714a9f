package lua

import (
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// builtinModules are always requirable.
var builtinModules = map[string]bool{
	"string":    true,
	"table":     true,
	"math":      true,
	"coroutine": true,
}

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	// modules preloaded by the host that require may resolve
	modules map[string]bool
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:       L,
		modules: make(map[string]bool),
	}
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() error {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	return s.installSafeRequire()
}

// installSafeRequire clears the on-disk search paths and replaces require with
// a version that only resolves built-in and allowed modules.
func (s *Sandbox) installSafeRequire() error {
	pkg, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return errors.New("lua package library not open")
	}
	s.L.SetField(pkg, "path", lua.LString(""))
	s.L.SetField(pkg, "cpath", lua.LString(""))

	originalRequire := s.L.GetGlobal("require")
	if originalRequire == lua.LNil {
		return errors.New("lua require not available")
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.Allowed(name) {
			L.RaiseError("%s: %q", ErrModuleUnavailable, name)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
	return nil
}

// Preload registers a module loader and allows require to resolve it.
func (s *Sandbox) Preload(name string, loader lua.LGFunction) {
	s.L.PreloadModule(name, loader)
	s.modules[name] = true
}

// Allowed reports whether require may resolve name.
func (s *Sandbox) Allowed(name string) bool {
	return builtinModules[name] || s.modules[name]
}

// Modules returns the preloaded module names.
func (s *Sandbox) Modules() []string {
	out := make([]string, 0, len(s.modules))
	for name := range s.modules {
		out = append(out, name)
	}
	return out
}

// installPrint routes print to out, joining arguments with tabs.
func (s *Sandbox) installPrint(out func(string)) {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		out(strings.Join(parts, "\t"))
		return 0
	}))
}
