package behavior

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

// dispatchTimeout bounds a dispatch issued outside a timed handler.
const dispatchTimeout = 5 * time.Second

// handlerEntry binds a subject pattern to a Lua callback.
type handlerEntry struct {
	Pattern string
	Fn      *lua.LFunction
}

// module is the Go side of the "primbus" global. Each script gets its own.
type module struct {
	name       string
	dispatcher Dispatcher
	logger     zerolog.Logger
	handlers   []handlerEntry
	dispatched atomic.Int64
}

func registerModule(L *lua.LState, m *module) {
	mod := L.NewTable()

	L.SetField(mod, "name", lua.LString(m.name))
	L.SetField(mod, "on", L.NewFunction(m.luaOn))
	L.SetField(mod, "move", L.NewFunction(m.luaMove))
	L.SetField(mod, "send", L.NewFunction(m.luaSend))
	L.SetField(mod, "types", L.NewFunction(m.luaTypes))
	L.SetField(mod, "log", L.NewFunction(m.luaLog))

	L.SetGlobal("primbus", mod)
}

func (m *module) matches(subject string) bool {
	for _, h := range m.handlers {
		if SubjectMatches(h.Pattern, subject) {
			return true
		}
	}
	return false
}

// luaOn registers a handler: primbus.on(pattern, fn)
func (m *module) luaOn(L *lua.LState) int {
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)

	m.handlers = append(m.handlers, handlerEntry{Pattern: pattern, Fn: fn})
	m.logger.Debug().Str("pattern", pattern).Msg("registered handler")
	return 0
}

// luaMove dispatches a Move: primbus.move(robot_id, {x=, y=, orientation=, dribbler=, autokick=})
// x and y are required; orientation defaults to 0 and the flags to false.
// Returns the dispatch id.
func (m *module) luaMove(L *lua.LState) int {
	robotID := checkRobotID(L, 1)
	opts := L.CheckTable(2)

	x := fieldNumber(L, opts, "x", true)
	y := fieldNumber(L, opts, "y", true)
	mv := primitive.NewMove(robotID, primitive.MoveParams{
		Destination:      primitive.Point{X: x, Y: y},
		FinalOrientation: fieldNumber(L, opts, "orientation", false),
		Dribbler:         fieldBool(L, opts, "dribbler"),
		Autokick:         fieldBool(L, opts, "autokick"),
	})
	return m.dispatch(L, primitive.Encode(mv))
}

// luaSend dispatches a raw record: primbus.send(name, robot_id, {params...}, {flags...})
// The record is validated exactly as one arriving over the API.
func (m *module) luaSend(L *lua.LState) int {
	name := L.CheckString(1)
	robotID := checkRobotID(L, 2)
	params, err := TableToFloats(L.CheckTable(3))
	if err != nil {
		L.ArgError(3, "parameters: "+err.Error())
	}
	flags, err := TableToBools(L.CheckTable(4))
	if err != nil {
		L.ArgError(4, "flags: "+err.Error())
	}
	return m.dispatch(L, primitive.Message{Name: name, RobotID: robotID, Parameters: params, Flags: flags})
}

// luaTypes returns the dispatchable primitive names: primbus.types()
func (m *module) luaTypes(L *lua.LState) int {
	tbl := L.NewTable()
	for _, name := range m.dispatcher.Types() {
		tbl.Append(lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

// luaLog logs a message: primbus.log(level, message)
func (m *module) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch strings.ToLower(level) {
	case "debug":
		m.logger.Debug().Msg(message)
	case "warn":
		m.logger.Warn().Msg(message)
	case "error":
		m.logger.Error().Msg(message)
	default:
		m.logger.Info().Msg(message)
	}
	return 0
}

func (m *module) dispatch(L *lua.LState, msg primitive.Message) int {
	ctx := L.Context()
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
	}

	res, err := m.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		L.RaiseError("dispatch %s to robot %d: %s", msg.Name, msg.RobotID, err)
		return 0
	}
	m.dispatched.Add(1)
	m.logger.Debug().
		Str("primitive", res.Name).
		Uint32("robot_id", res.RobotID).
		Str("id", res.ID).
		Msg("dispatched primitive")

	L.Push(lua.LString(res.ID))
	return 1
}

func fieldNumber(L *lua.LState, tbl *lua.LTable, key string, required bool) float64 {
	switch v := tbl.RawGetString(key).(type) {
	case lua.LNumber:
		return float64(v)
	case *lua.LNilType:
		if required {
			L.RaiseError("move: %s is required", key)
		}
		return 0
	default:
		L.RaiseError("move: %s is %s, want number", key, v.Type())
		return 0
	}
}

func fieldBool(L *lua.LState, tbl *lua.LTable, key string) bool {
	switch v := tbl.RawGetString(key).(type) {
	case lua.LBool:
		return bool(v)
	case *lua.LNilType:
		return false
	default:
		L.RaiseError("move: %s is %s, want boolean", key, v.Type())
		return false
	}
}

func checkRobotID(L *lua.LState, n int) uint32 {
	v := L.CheckNumber(n)
	if v < 0 || v > lua.LNumber(^uint32(0)) || v != lua.LNumber(int64(v)) {
		L.ArgError(n, "robot id must be a non-negative integer")
	}
	return uint32(v)
}
