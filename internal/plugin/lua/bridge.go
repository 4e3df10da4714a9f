package lua

import (
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// Bridge provides conversions between host string data and Lua tables.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToStringMap flattens a Lua table into string keys and values. Keys and
// values that are neither strings nor numbers are skipped; booleans become
// "true"/"false".
func (b *Bridge) ToStringMap(t *lua.LTable) map[string]string {
	out := make(map[string]string)
	if t == nil {
		return out
	}
	t.ForEach(func(k, v lua.LValue) {
		key, ok := scalar(k)
		if !ok {
			return
		}
		val, ok := scalar(v)
		if !ok {
			return
		}
		out[key] = val
	})
	return out
}

// FromStringMap builds a Lua table from m, inserting keys in sorted order.
func (b *Bridge) FromStringMap(m map[string]string) *lua.LTable {
	t := b.L.CreateTable(0, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.RawSetString(k, lua.LString(m[k]))
	}
	return t
}

// FromStrings builds a Lua array from values.
func (b *Bridge) FromStrings(values []string) *lua.LTable {
	t := b.L.CreateTable(len(values), 0)
	for _, v := range values {
		t.Append(lua.LString(v))
	}
	return t
}

// ToString converts a scalar Lua value to a string.
func (b *Bridge) ToString(lv lua.LValue) (string, bool) {
	return scalar(lv)
}

func scalar(lv lua.LValue) (string, bool) {
	switch v := lv.(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	case lua.LBool:
		if v {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}
