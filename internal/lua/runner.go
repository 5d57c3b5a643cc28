// Package lua runs user-supplied Lua snippets for the code integration.
// Scripts run in a fresh state with only the base, table, string and math
// libraries plus a minimal os module; they cannot touch files or the
// network.
package lua

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// EntryPoint is the global function every script must define.
const EntryPoint = "main"

// Run loads source and calls main(inputs). The returned Lua value is
// converted to Go: tables with consecutive integer keys 1..n become []any,
// other tables map[string]any, numbers float64.
func Run(ctx context.Context, source string, inputs map[string]any) (any, error) {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	openSafeLibs(lState)
	lState.SetContext(ctx)

	if err := lState.DoString(source); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal(EntryPoint)
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function %s(inputs)", EntryPoint)
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%s must be a function, got %s", EntryPoint, fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(toLua(lState, inputs))
	if err := lState.PCall(1, 1, nil); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s(): %w", EntryPoint, err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)
	return fromLua(ret), nil
}

func openSafeLibs(l *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		l.Push(l.NewFunction(lib.fn))
		l.Push(lua.LString(lib.name))
		l.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		l.SetGlobal(name, lua.LNil)
	}
	l.SetGlobal("os", osModule(l))
}

// osModule provides a minimal os table: time and date.
func osModule(lState *lua.LState) *lua.LTable {
	mod := lState.NewTable()
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.SetField(mod, "date", lState.NewFunction(func(ls *lua.LState) int {
		layout := ls.OptString(1, time.RFC3339)
		ls.Push(lua.LString(time.Now().UTC().Format(layout)))
		return 1
	}))
	return mod
}

func toLua(l *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case []any:
		t := l.NewTable()
		for _, e := range x {
			t.Append(toLua(l, e))
		}
		return t
	case map[string]any:
		t := l.NewTable()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(l, x[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case *lua.LTable:
		if n := x.MaxN(); n > 0 && n == countKeys(x) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(x.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			out[k.String()] = fromLua(val)
		})
		return out
	default:
		return v.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
