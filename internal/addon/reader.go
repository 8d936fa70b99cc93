// Package addon reads and writes the game addon's declarative text dumps:
// per-account saved variables, the BaseData reference tables, and the
// AppData export the addon consumes on next launch.
package addon

import (
	"context"
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Evaluation caps. The dumps are data declarations and parse in well under
// a second; a chunk that outlives the deadline is runaway control flow and
// must not wedge the worker.
const (
	maxDumpLen  = 8 << 20
	evalTimeout = 3 * time.Second
)

// table is a decoded saved-variables table. Keys are string or int,
// values are string, float64, bool or nested *table.
type table struct {
	m map[any]any
}

// evalTable evaluates one dump in a throwaway Lua state with no libraries
// opened (the format is data declarations only) and extracts the top-level
// binding the file declares. Oversized or non-terminating chunks error out
// like any other malformed file.
func evalTable(src string) (*table, string, error) {
	if len(src) > maxDumpLen {
		return nil, "", fmt.Errorf("dump too large: %d bytes", len(src))
	}

	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer vm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	vm.SetContext(ctx)

	before := make(map[string]bool)
	vm.G.Global.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			before[string(s)] = true
		}
	})

	if err := vm.DoString(src); err != nil {
		return nil, "", fmt.Errorf("evaluate dump: %w", err)
	}

	// The addon's variable name is not assumed; take the new table binding.
	var names []string
	bindings := make(map[string]*lua.LTable)
	vm.G.Global.ForEach(func(k, v lua.LValue) {
		s, ok := k.(lua.LString)
		if !ok || before[string(s)] {
			return
		}
		if t, ok := v.(*lua.LTable); ok {
			bindings[string(s)] = t
			names = append(names, string(s))
		}
	})
	if len(names) == 0 {
		return nil, "", fmt.Errorf("dump declares no table binding")
	}
	sort.Strings(names)
	name := names[0]

	decoded, ok := fromLua(bindings[name]).(*table)
	if !ok {
		return nil, "", fmt.Errorf("binding %s is not a table", name)
	}
	return decoded, name, nil
}

func fromLua(v lua.LValue) any {
	switch lv := v.(type) {
	case lua.LString:
		return string(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LBool:
		return bool(lv)
	case *lua.LTable:
		t := &table{m: make(map[any]any)}
		lv.ForEach(func(k, val lua.LValue) {
			switch key := k.(type) {
			case lua.LString:
				t.m[string(key)] = fromLua(val)
			case lua.LNumber:
				t.m[int(key)] = fromLua(val)
			}
		})
		return t
	default:
		return nil
	}
}

// subTable returns a nested table, or nil when absent or mistyped.
func (t *table) subTable(key any) *table {
	if t == nil {
		return nil
	}
	sub, _ := t.m[key].(*table)
	return sub
}

func (t *table) str(key any, def string) string {
	if t == nil {
		return def
	}
	if s, ok := t.m[key].(string); ok {
		return s
	}
	return def
}

func (t *table) num(key any, def float64) float64 {
	if t == nil {
		return def
	}
	if n, ok := t.m[key].(float64); ok {
		return n
	}
	return def
}

func (t *table) intval(key any, def int) int {
	return int(t.num(key, float64(def)))
}

func (t *table) int64val(key any, def int64) int64 {
	return int64(t.num(key, float64(def)))
}

// stringKeys returns the table's string keys ascending.
func (t *table) stringKeys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	sort.Strings(keys)
	return keys
}

// intKeys returns the table's integer keys ascending.
func (t *table) intKeys() []int {
	if t == nil {
		return nil
	}
	keys := make([]int, 0, len(t.m))
	for k := range t.m {
		if i, ok := k.(int); ok {
			keys = append(keys, i)
		}
	}
	sort.Ints(keys)
	return keys
}
