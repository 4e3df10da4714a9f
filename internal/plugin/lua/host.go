package lua

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scripthost/internal/interop"
)

// HostModule is the name of the global host API table.
const HostModule = "host"

// installHostAPI registers the host table.
func (s *Script) installHostAPI() {
	L := s.state.L
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"name":        s.luaName,
		"log":         s.luaLog,
		"command":     s.luaCommand,
		"listen":      s.luaListen,
		"on":          s.luaOn,
		"placeholder": s.luaPlaceholder,
		"emit":        s.luaEmit,
		"set_context": s.luaSetContext,
		"get_context": s.luaGetContext,
	})
	L.SetGlobal(HostModule, mod)
}

// name() -> string
func (s *Script) luaName(L *lua.LState) int {
	L.Push(lua.LString(s.name))
	return 1
}

// log(...) -> nil
func (s *Script) luaLog(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.binder.Logger().Info(strings.Join(parts, " "))
	return 0
}

// command(name, fn(args)) -> nil
// fn may return false, message to fail the command.
func (s *Script) luaCommand(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	_, err := s.binder.Command(name, func(ctx context.Context, args []string) error {
		ret, err := s.call(ctx, fn, s.bridge.FromStrings(args))
		if err != nil {
			return err
		}
		return resultError(ret)
	})
	if err != nil {
		L.RaiseError("host.command(%q): %v", name, err)
	}
	return 0
}

// listen(topic, fn(data, topic)) -> nil
func (s *Script) luaListen(L *lua.LState) int {
	topic := L.CheckString(1)
	fn := L.CheckFunction(2)

	_, err := s.binder.Listen(topic, func(ctx context.Context, ev interop.Event) error {
		ret, err := s.call(ctx, fn, s.bridge.FromStringMap(ev.Data), lua.LString(ev.Topic))
		if err != nil {
			return err
		}
		return resultError(ret)
	})
	if err != nil {
		L.RaiseError("host.listen(%q): %v", topic, err)
	}
	return 0
}

// on(topic, fn(data)) -> nil
// With a primary loop, fn runs after the emitting task returns.
func (s *Script) luaOn(L *lua.LState) int {
	topic := L.CheckString(1)
	fn := L.CheckFunction(2)

	logger := s.binder.Logger()
	_, err := s.binder.On(topic, func(ev interop.Event) {
		s.post(fn, ev.Data, func(err error) {
			logger.Warn("easy listener failed", "topic", ev.Topic, "err", err)
		})
	})
	if err != nil {
		L.RaiseError("host.on(%q): %v", topic, err)
	}
	return 0
}

// placeholder(identifier, fn(param) -> string) -> nil
func (s *Script) luaPlaceholder(L *lua.LState) int {
	identifier := L.CheckString(1)
	fn := L.CheckFunction(2)

	_, err := s.binder.Placeholder(identifier, func(ctx context.Context, param string) (string, error) {
		ret, err := s.call(ctx, fn, lua.LString(param))
		if err != nil {
			return "", err
		}
		if len(ret) == 0 || ret[0] == lua.LNil {
			return "", nil
		}
		return L.ToStringMeta(ret[0]).String(), nil
	})
	if err != nil {
		L.RaiseError("host.placeholder(%q): %v", identifier, err)
	}
	return 0
}

// emit(topic, data) -> nil
func (s *Script) luaEmit(L *lua.LState) int {
	topic := L.CheckString(1)
	data := s.bridge.ToStringMap(L.OptTable(2, nil))

	if err := s.binder.Emit(s.state.Context(), interop.Event{Topic: topic, Data: data}); err != nil {
		L.RaiseError("host.emit(%q): %v", topic, err)
	}
	return 0
}

// set_context(key, value) -> nil
func (s *Script) luaSetContext(L *lua.LState) int {
	key := L.CheckString(1)
	value, ok := s.bridge.ToString(L.Get(2))
	if !ok {
		L.ArgError(2, "string, number or boolean expected")
		return 0
	}
	if err := s.binder.SetContext(key, value); err != nil {
		L.RaiseError("host.set_context(%q): %v", key, err)
	}
	return 0
}

// get_context(owner, key) -> string | nil
func (s *Script) luaGetContext(L *lua.LState) int {
	owner := L.CheckString(1)
	key := L.CheckString(2)
	v, ok := s.binder.Context(owner, key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

// resultError turns a `false, message` callback result into an error.
func resultError(ret []lua.LValue) error {
	if len(ret) == 0 || ret[0] != lua.LFalse {
		return nil
	}
	if len(ret) > 1 {
		return fmt.Errorf("%s", ret[1].String())
	}
	return fmt.Errorf("handler returned false")
}
