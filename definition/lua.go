// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/Shopify/go-lua"

	"github.com/sam-fredrickson/metaflow"
)

// luaNode returns a leaf that runs script with its input bound to the
// global "input". The script's first return value is the result.
func luaNode(name, script string, opts ...metaflow.NodeOption) (*metaflow.SimpleFunction, error) {
	// Compile once up front so syntax errors surface when building.
	if err := lua.LoadString(lua.NewState(), script); err != nil {
		return nil, fmt.Errorf("compile lua: %w", err)
	}

	opts = append([]metaflow.NodeOption{metaflow.WithName(name)}, opts...)
	return metaflow.NewNode(func(_ context.Context, args ...any) (any, error) {
		var input any
		if len(args) > 0 {
			input = args[0]
		}
		return runLua(script, input)
	}, opts...)
}

func runLua(script string, input any) (any, error) {
	l := lua.NewState()
	openSandbox(l)

	pushValue(l, input)
	l.SetGlobal("input")

	top := l.Top()
	if err := lua.DoString(l, script); err != nil {
		return nil, fmt.Errorf("lua: %w", err)
	}
	if l.Top() == top {
		return nil, nil
	}
	return pullValue(l, top+1), nil
}

// openSandbox loads the side-effect free standard libraries only.
func openSandbox(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}
}

// pushValue converts a Go value to Lua. Lists become 1-based sequences and
// maps become tables; anything else is pushed as its string form.
func pushValue(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
		return
	case bool:
		l.PushBoolean(x)
		return
	case string:
		l.PushString(x)
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		l.PushInteger(int(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		l.PushInteger(int(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		l.PushNumber(rv.Float())
	case reflect.String:
		l.PushString(rv.String())
	case reflect.Slice, reflect.Array:
		l.NewTable()
		for i := range rv.Len() {
			l.PushInteger(i + 1)
			pushValue(l, rv.Index(i).Interface())
			l.SetTable(-3)
		}
	case reflect.Map:
		l.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			l.PushString(fmt.Sprint(iter.Key().Interface()))
			pushValue(l, iter.Value().Interface())
			l.SetTable(-3)
		}
	default:
		l.PushString(fmt.Sprint(v))
	}
}

// pullValue converts the Lua value at idx to Go. Integral numbers become
// int, tables with keys 1..n become []any and other tables map[string]any.
func pullValue(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int(n)
		}
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		return pullTable(l, idx)
	}
	return nil
}

func pullTable(l *lua.State, idx int) any {
	l.PushValue(idx)
	defer l.Pop(1)

	entries := map[string]any{}
	indexed := map[int]any{}
	sequence := true

	l.PushNil()
	for l.Next(-2) {
		value := pullValue(l, -1)
		if l.TypeOf(-2) == lua.TypeNumber {
			n, _ := l.ToNumber(-2)
			if i := int(n); float64(i) == n && i >= 1 {
				indexed[i] = value
				entries[fmt.Sprint(i)] = value
				l.Pop(1)
				continue
			}
			sequence = false
			entries[fmt.Sprint(n)] = value
		} else {
			sequence = false
			// ToString would convert the key in place and confuse Next.
			l.PushValue(-2)
			key, _ := l.ToString(-1)
			l.Pop(1)
			entries[key] = value
		}
		l.Pop(1)
	}

	if sequence && len(indexed) > 0 {
		out := make([]any, len(indexed))
		for i := 1; i <= len(indexed); i++ {
			v, ok := indexed[i]
			if !ok {
				return entries
			}
			out[i-1] = v
		}
		return out
	}
	if len(entries) == 0 {
		return []any{}
	}
	return entries
}
