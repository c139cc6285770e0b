package scripting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/harun/resolvemcp/pkg/resolve"
)

const (
	handleMeta = "resolve.Object"
	// ResultGlobal is the variable a script assigns to return a value.
	ResultGlobal = "result"
	maxDepth     = 16
	// hookInstructions is how often the VM checks for cancellation.
	hookInstructions = 1000
)

// removed from the base library after it is opened.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "require", "module", "collectgarbage"}

// protectedCallGuard rewraps pcall and xpcall so an interrupted script cannot
// catch its own cancellation.
const protectedCallGuard = `
local check, pcall_, xpcall_, pack, unpack = ...
local function rethrow(r)
	check()
	return unpack(r, 1, r.n)
end
pcall = function(...) return rethrow(pack(pcall_(...))) end
xpcall = function(...) return rethrow(pack(xpcall_(...))) end
`

// handle is the userdata behind every object exposed to a script.
type handle struct {
	ctx context.Context
	obj resolve.Object
}

// Scope holds the objects a script can see. Nil entries are exposed as nil.
type Scope struct {
	Resolve        resolve.Object
	ProjectManager resolve.Object
	Project        resolve.Object
}

type sandbox struct {
	l      *lua.State
	ctx    context.Context
	output []string
}

func newSandbox(ctx context.Context, scope Scope) *sandbox {
	l := lua.NewState()
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	for _, name := range unsafeGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}

	s := &sandbox{l: l, ctx: ctx}
	s.guardProtectedCalls()
	lua.SetDebugHook(l, s.interrupt, lua.MaskCount, hookInstructions)

	lua.NewMetaTable(l, handleMeta)
	l.PushGoFunction(s.index)
	l.SetField(-2, "__index")
	l.PushGoFunction(func(l *lua.State) int {
		h := lua.CheckUserData(l, 1, handleMeta).(*handle)
		l.PushString(fmt.Sprintf("%s: %T", handleMeta, h.obj))
		return 1
	})
	l.SetField(-2, "__tostring")
	l.Pop(1)

	l.PushGoFunction(s.print)
	l.SetGlobal("print")

	s.setGlobal("resolve", scope.Resolve)
	s.setGlobal("project_manager", scope.ProjectManager)
	s.setGlobal("project", scope.Project)
	l.PushNil()
	l.SetGlobal(ResultGlobal)
	return s
}

// interrupt aborts the script once its context is done.
func (s *sandbox) interrupt(l *lua.State, _ lua.Debug) {
	s.raiseIfDone(l)
}

func (s *sandbox) raiseIfDone(l *lua.State) {
	if err := s.ctx.Err(); err != nil {
		lua.Errorf(l, "script interrupted: %s", err.Error())
	}
}

func (s *sandbox) guardProtectedCalls() {
	l := s.l
	if err := lua.LoadString(l, protectedCallGuard); err != nil {
		panic(fmt.Sprintf("load protected call guard: %v", err))
	}
	l.PushGoFunction(func(l *lua.State) int {
		s.raiseIfDone(l)
		return 0
	})
	l.Global("pcall")
	l.Global("xpcall")
	l.Global("table")
	l.Field(-1, "pack")
	l.Field(-2, "unpack")
	l.Remove(-3)
	l.Call(5, 0)
}

func (s *sandbox) setGlobal(name string, obj resolve.Object) {
	if obj == nil {
		s.l.PushNil()
	} else {
		s.pushHandle(obj)
	}
	s.l.SetGlobal(name)
}

// run executes code and returns the converted value of the result global.
func (s *sandbox) run(code string) (any, error) {
	l := s.l
	if err := lua.LoadString(l, code); err != nil {
		return nil, fmt.Errorf("%s", errorMessage(l, err))
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("%s", errorMessage(l, err))
	}
	l.Global(ResultGlobal)
	v := s.toGo(-1, 0)
	l.Pop(1)
	return v, nil
}

func errorMessage(l *lua.State, err error) string {
	if l.Top() > 0 {
		if msg, ok := l.ToString(-1); ok && msg != "" {
			return msg
		}
	}
	return err.Error()
}

func (s *sandbox) pushHandle(obj resolve.Object) {
	s.l.PushUserData(&handle{ctx: s.ctx, obj: obj})
	lua.SetMetaTableNamed(s.l, handleMeta)
}

// index resolves obj.Method to a function that forwards to the application.
// Both obj:Method(...) and obj.Method(...) are accepted.
func (s *sandbox) index(l *lua.State) int {
	h := lua.CheckUserData(l, 1, handleMeta).(*handle)
	method := lua.CheckString(l, 2)

	l.PushGoFunction(func(l *lua.State) int {
		n := l.Top()
		first := 1
		if n >= 1 {
			if self, ok := l.ToUserData(1).(*handle); ok && self == h {
				first = 2
			}
		}
		args := make([]any, 0, n)
		for i := first; i <= n; i++ {
			args = append(args, s.toGo(i, 0))
		}

		v, err := h.obj.Call(h.ctx, method, args...)
		if err != nil {
			lua.Errorf(l, "%s: %s", method, err.Error())
			return 0
		}
		s.pushGo(v, 0)
		return 1
	})
	return 1
}

func (s *sandbox) print(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, formatValue(s.toGo(i, 0)))
	}
	s.output = append(s.output, strings.Join(parts, "\t"))
	return 0
}

func formatValue(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprint(v)
}

// toGo converts the Lua value at index. Whole numbers become int.
func (s *sandbox) toGo(index, depth int) any {
	l := s.l
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n)
	case lua.TypeString:
		str, _ := l.ToString(index)
		return str
	case lua.TypeUserData:
		if h, ok := l.ToUserData(index).(*handle); ok {
			return h.obj
		}
		return nil
	case lua.TypeTable:
		if depth >= maxDepth {
			return nil
		}
		return s.tableToGo(index, depth+1)
	default:
		return "<" + lua.TypeNameOf(l, index) + ">"
	}
}

// tableToGo returns []any for sequences and map[string]any otherwise.
func (s *sandbox) tableToGo(index, depth int) any {
	l := s.l
	index = l.AbsIndex(index)

	seq := map[int]any{}
	fields := map[string]any{}

	l.PushNil()
	for l.Next(index) {
		v := s.toGo(-1, depth)
		switch l.TypeOf(-2) {
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			if i := int(n); float64(i) == n && i >= 1 {
				seq[i] = v
			} else {
				fields[strconv.FormatFloat(n, 'g', -1, 64)] = v
			}
		case lua.TypeString:
			k, _ := l.ToString(-2)
			fields[k] = v
		}
		l.Pop(1)
	}

	if len(fields) == 0 {
		list := make([]any, len(seq))
		contiguous := true
		for i := 1; i <= len(seq); i++ {
			v, ok := seq[i]
			if !ok {
				contiguous = false
				break
			}
			list[i-1] = v
		}
		if contiguous {
			return list
		}
	}
	for i, v := range seq {
		fields[strconv.Itoa(i)] = v
	}
	return fields
}

func (s *sandbox) pushGo(v any, depth int) {
	l := s.l
	if depth >= maxDepth {
		l.PushNil()
		return
	}
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case int:
		l.PushInteger(x)
	case int32:
		l.PushInteger(int(x))
	case int64:
		l.PushInteger(int(x))
	case float32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case string:
		l.PushString(x)
	case []string:
		l.NewTable()
		for i, e := range x {
			l.PushString(e)
			l.RawSetInt(-2, i+1)
		}
	case []any:
		l.NewTable()
		for i, e := range x {
			s.pushGo(e, depth+1)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.NewTable()
		for _, k := range keys {
			s.pushGo(x[k], depth+1)
			l.SetField(-2, k)
		}
	case resolve.Object:
		s.pushHandle(x)
	default:
		l.PushString(fmt.Sprint(x))
	}
}

func normalizeNumber(n float64) any {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1<<53 {
		return int(n)
	}
	return n
}
