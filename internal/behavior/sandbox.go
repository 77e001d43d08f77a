package behavior

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// scriptGlobals are the globals a behavior script may see besides the
// primbus module. Anything else the base library defines is removed.
var scriptGlobals = map[string]bool{
	"_G": true, "_VERSION": true,
	"assert": true, "error": true, "pcall": true, "xpcall": true,
	"ipairs": true, "pairs": true, "next": true, "select": true, "unpack": true,
	"tonumber": true, "tostring": true, "type": true,
	"getmetatable": true, "setmetatable": true, "rawequal": true, "rawget": true, "rawset": true,
	"print": true,
	lua.MathLibName: true, lua.StringLibName: true, lua.TabLibName: true,
}

// strippedMembers are library functions scripts may not call.
// math.randomseed would reseed the process-wide source.
var strippedMembers = map[string][]string{
	lua.MathLibName:   {"randomseed"},
	lua.StringLibName: {"dump"},
}

// NewSandboxedState creates the Lua state a behavior runs in: the globals
// in scriptGlobals, with print routed to logger. Scripts get no file or
// process access.
func NewSandboxedState(logger zerolog.Logger) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	globals := L.G.Global
	var drop []lua.LValue
	globals.ForEach(func(k, _ lua.LValue) {
		if name, ok := k.(lua.LString); !ok || !scriptGlobals[string(name)] {
			drop = append(drop, k)
		}
	})
	for _, k := range drop {
		globals.RawSet(k, lua.LNil)
	}
	for lib, members := range strippedMembers {
		if tbl, ok := globals.RawGetString(lib).(*lua.LTable); ok {
			for _, m := range members {
				tbl.RawSetString(m, lua.LNil)
			}
		}
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.Get(i).String()
		}
		logger.Info().Str("source", "print").Msg(strings.Join(parts, "\t"))
		return 0
	}))

	return L
}
