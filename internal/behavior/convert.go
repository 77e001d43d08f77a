package behavior

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// TableToFloats reads the array part of tbl as numbers. Any other element,
// including a nil hole, is an error.
func TableToFloats(tbl *lua.LTable) ([]float64, error) {
	n := tbl.MaxN()
	out := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		v, ok := tbl.RawGetInt(i).(lua.LNumber)
		if !ok {
			return nil, fmt.Errorf("element %d is %s, want number", i, tbl.RawGetInt(i).Type())
		}
		out = append(out, float64(v))
	}
	return out, nil
}

// TableToBools reads the array part of tbl as booleans. Lua truthiness is not
// applied: any other element, including a nil hole, is an error.
func TableToBools(tbl *lua.LTable) ([]bool, error) {
	n := tbl.MaxN()
	out := make([]bool, 0, n)
	for i := 1; i <= n; i++ {
		v, ok := tbl.RawGetInt(i).(lua.LBool)
		if !ok {
			return nil, fmt.Errorf("element %d is %s, want boolean", i, tbl.RawGetInt(i).Type())
		}
		out = append(out, bool(v))
	}
	return out, nil
}

// StringsToTable converts a string slice to a 1-based Lua array.
func StringsToTable(L *lua.LState, s []string) *lua.LTable {
	tbl := L.NewTable()
	for _, v := range s {
		tbl.Append(lua.LString(v))
	}
	return tbl
}

// EventToLua converts an Event to the table handlers receive.
//
//	registration: {subject, kind, name, version, robot_id, primitives}
//	heartbeat:    {subject, kind, name, robot_id, status, last_primitive (unix s), executed, rejected}
func EventToLua(L *lua.LState, ev Event) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "subject", lua.LString(ev.Subject))
	L.SetField(tbl, "kind", lua.LString(ev.Kind))

	if reg := ev.Registration; reg != nil {
		L.SetField(tbl, "name", lua.LString(reg.Name))
		L.SetField(tbl, "version", lua.LString(reg.Version))
		L.SetField(tbl, "robot_id", lua.LNumber(reg.RobotID))
		L.SetField(tbl, "primitives", StringsToTable(L, reg.Primitives))
	}
	if hb := ev.Heartbeat; hb != nil {
		setHeartbeatFields(L, tbl, hb)
	}
	return tbl
}

func setHeartbeatFields(L *lua.LState, tbl *lua.LTable, hb *protocol.Heartbeat) {
	L.SetField(tbl, "name", lua.LString(hb.Name))
	L.SetField(tbl, "robot_id", lua.LNumber(hb.RobotID))
	L.SetField(tbl, "status", lua.LString(hb.Status))
	var last lua.LNumber
	if !hb.LastPrimitive.IsZero() {
		last = lua.LNumber(hb.LastPrimitive.Unix())
	}
	L.SetField(tbl, "last_primitive", last)
	L.SetField(tbl, "executed", lua.LNumber(hb.Executed))
	L.SetField(tbl, "rejected", lua.LNumber(hb.Rejected))
}
