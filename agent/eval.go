package agent

import (
	"fmt"

	"github.com/nodetap/nodetap/internal/ipc"
	lua "github.com/yuin/gopher-lua"
)

// handleEval runs caller-supplied code in a fresh interpreter. Gated by
// the eval flag independently of the injection flag; a disabled gate is
// answered with a normal explanatory result, not treated as a fault.
func (a *Agent) handleEval(req *ipc.EvalRequest) {
	if !a.evalEnabled {
		_ = a.w.Send(ipc.TypeEvalResponse, ipc.EvalResponse{
			ID:    req.ID,
			Error: "evaluation is disabled; launch the supervisor with --eval to enable it",
		})
		return
	}
	result, err := a.evaluate(req.Code)
	if err != nil {
		_ = a.w.Send(ipc.TypeEvalResponse, ipc.EvalResponse{ID: req.ID, Error: err.Error()})
		return
	}
	_ = a.w.Send(ipc.TypeEvalResponse, ipc.EvalResponse{ID: req.ID, Success: true, Result: Snapshot(result)})
}

// evaluate executes a Lua chunk with the agent's state surface exposed as
// get(key)/set(key, value)/keys(). The chunk's first return value, if
// any, is the result.
func (a *Agent) evaluate(code string) (any, error) {
	L := lua.NewState()
	defer L.Close()
	a.registerStateAPI(L)

	base := L.GetTop()
	if err := L.DoString(code); err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	if L.GetTop() > base {
		return luaToGo(L.Get(base + 1)), nil
	}
	return nil, nil
}

func (a *Agent) registerStateAPI(L *lua.LState) {
	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		v, ok := a.Get(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, v))
		return 1
	}))
	L.SetGlobal("set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		a.Set(key, luaToGo(L.Get(2)))
		return 0
	}))
	L.SetGlobal("keys", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		for _, k := range a.stateKeys() {
			tbl.Append(lua.LString(k))
		}
		L.Push(tbl)
		return 1
	}))
}

func luaToGo(v lua.LValue) any {
	switch lv := v.(type) {
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		// Array part wins when contiguous; otherwise a map.
		maxN := lv.MaxN()
		if maxN > 0 {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(lv.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			m[fmt.Sprint(luaToGo(k))] = luaToGo(val)
		})
		return m
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(gv)
	case int:
		return lua.LNumber(gv)
	case int64:
		return lua.LNumber(gv)
	case float64:
		return lua.LNumber(gv)
	case string:
		return lua.LString(gv)
	case []any:
		tbl := L.NewTable()
		for _, item := range gv {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range gv {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(gv))
	}
}
