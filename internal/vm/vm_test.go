package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/parser"
)

func newTestRuntime(t *testing.T, opts *config.Options) *Runtime {
	t.Helper()
	rt, err := NewRuntime(opts)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt
}

func runScript(t *testing.T, code string) DynValue {
	t.Helper()
	return runDialect(t, "", code)
}

func runDialect(t *testing.T, dialect, code string) DynValue {
	t.Helper()
	rt := newTestRuntime(t, &config.Options{Dialect: dialect})
	v, err := rt.DoString(code, "test")
	if err != nil {
		t.Fatalf("DoString(%q): %v", code, err)
	}
	return v
}

func runError(t *testing.T, code string) error {
	t.Helper()
	rt := newTestRuntime(t, nil)
	_, err := rt.DoString(code, "test")
	if err == nil {
		t.Fatalf("DoString(%q): expected an error", code)
	}
	return err
}

func expectNumber(t *testing.T, v DynValue, want float64) {
	t.Helper()
	v = v.ToScalar()
	if v.Type() != TypeNumber || v.Number() != want {
		t.Fatalf("expected %v, got %s (%s)", want, v.String(), v.TypeName())
	}
}

func expectString(t *testing.T, v DynValue, want string) {
	t.Helper()
	v = v.ToScalar()
	if v.Type() != TypeString || v.Str() != want {
		t.Fatalf("expected %q, got %s (%s)", want, v.String(), v.TypeName())
	}
}

func TestTailCallsKeepDepthBounded(t *testing.T) {
	for _, n := range []int{20000, 70000} {
		rt := newTestRuntime(t, &config.Options{Sandbox: config.SandboxOptions{MaxCallDepth: 100}})
		code := `
local function sum(n, acc)
  if n == 0 then return acc end
  return sum(n - 1, acc + n)
end
return sum(...)`
		fn, err := rt.LoadString(code, "tail")
		if err != nil {
			t.Fatalf("LoadString: %v", err)
		}
		v, err := rt.Call(NewClosureValue(fn), NewNumber(float64(n)), NewNumber(0))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		expectNumber(t, v, float64(n)*float64(n+1)/2)
	}
}

func TestHostTrampolinedTailCalls(t *testing.T) {
	rt := newTestRuntime(t, &config.Options{Sandbox: config.SandboxOptions{MaxCallDepth: 100}})
	rt.SetGlobal("bounce", NewCallback("bounce", func(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		return NewTailCallRequest(args.Get(0), args.Slice(1)...), nil
	}))
	v, err := rt.DoString(`
local function f(n)
  if n == 0 then return "done" end
  return bounce(f, n - 1)
end
return f(50000)`, "bounce")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectString(t, v, "done")
}

func TestCallDepthLimit(t *testing.T) {
	rt := newTestRuntime(t, &config.Options{Sandbox: config.SandboxOptions{MaxCallDepth: 50}})
	_, err := rt.DoString(`
local function f(n) if n == 0 then return 0 end return 1 + f(n - 1) end
return f(100)`, "depth")
	if err == nil || !strings.Contains(err.Error(), "call depth limit of 50 exceeded") {
		t.Fatalf("expected call depth error, got %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		code string
		want float64
	}{
		{"return 1 << 3", 8},
		{"return (-8) >> 2", -2},
		{"return 1 << 64", 0},
		{"return (-1) >> 70", -1},
		{"return (-1) >> (1 << 63)", 0},
		{"return 5 << (1 << 63)", 0},
		{"return -5 // 2", -3},
		{"return 5 // 2", 2},
		{"return 5 // -2", -3},
		{"return -5 % 3", 1},
		{"return 5 % -3", -1},
		{"return 2^10", 1024},
		{"return 0x10", 16},
		{"return 0x1p1", 2},
		{"return 0x1.fp3", 15.5},
		{"return '10' + 5", 15},
		{"return 6 & 3 | 8", 10},
		{"return 5 ~ 3", 6},
		{"return ~0", -1},
		{"return #'hello'", 5},
		{"return #{1, 2, 3}", 3},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			expectNumber(t, runScript(t, tt.code), tt.want)
		})
	}
}

func TestBitwiseOnFloatFails(t *testing.T) {
	for _, code := range []string{"return 1.5 | 1", "local x = 2.25 return x << 1", "return ~0.5"} {
		err := runError(t, code)
		if !strings.Contains(err.Error(), "bitwise operation on a float value") {
			t.Errorf("%q: unexpected error %v", code, err)
		}
	}
}

func TestDialectGating(t *testing.T) {
	rt := newTestRuntime(t, &config.Options{Dialect: "5.2"})
	for _, code := range []string{"return 1 << 2", "return 7 // 2", "local x <const> = 1"} {
		if _, err := rt.LoadString(code, "gate"); err == nil {
			t.Errorf("%q: expected a syntax error under 5.2", code)
		}
	}
}

func TestBreak(t *testing.T) {
	v := runScript(t, `
local count = 0
for i = 1, 3 do
  for j = 1, 10 do
    if j > 2 then break end
    count = count + 1
  end
end
return count`)
	expectNumber(t, v, 6)

	for _, code := range []string{"break", "while true do local f = function() break end end"} {
		err := runError(t, code)
		if !strings.Contains(err.Error(), "not inside a loop") {
			t.Errorf("%q: unexpected error %v", code, err)
		}
	}
}

func TestControlFlow(t *testing.T) {
	tests := []struct {
		name string
		code string
		want float64
	}{
		{"while", "local i, s = 0, 0 while i < 10 do i = i + 1 s = s + i end return s", 55},
		{"repeat", "local i = 0 repeat i = i + 1 local done = i >= 5 until done return i", 5},
		{"numeric for step", "local s = 0 for i = 10, 1, -3 do s = s + i end return s", 22},
		{"float for", "local n = 0 for i = 0, 1, 0.25 do n = n + 1 end return n", 5},
		{"generic for", "local s = 0 for _, v in ipairs({4, 5, 6}) do s = s + v end return s", 15},
		{"pairs", "local s = 0 for k, v in pairs({a = 1, b = 2, 3}) do s = s + v end return s", 6},
		{"goto continue", `
local s = 0
for i = 1, 5 do
  if i % 2 == 0 then goto continue end
  s = s + i
  ::continue::
end
return s`, 9},
		{"elseif", "local x = 7 if x < 5 then return 1 elseif x < 10 then return 2 else return 3 end", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectNumber(t, runScript(t, tt.code), tt.want)
		})
	}
}

func TestNumericForStringCoercion(t *testing.T) {
	expectNumber(t, runDialect(t, "5.3", "local n = 0 for i = '1', '3' do n = n + i end return n"), 6)

	rt := newTestRuntime(t, nil)
	_, err := rt.DoString("for i = '1', 3 do end", "for")
	if err == nil || !strings.Contains(err.Error(), "'for' initial value must be a number") {
		t.Fatalf("expected for error, got %v", err)
	}
}

func TestClosures(t *testing.T) {
	v := runScript(t, `
local function counter()
  local n = 0
  return function() n = n + 1 return n end
end
local a, b = counter(), counter()
a() a()
return a() * 10 + b()`)
	expectNumber(t, v, 31)

	v = runScript(t, `
local fns = {}
for i = 1, 3 do fns[i] = function() return i end end
return fns[1]() + fns[2]() * 10 + fns[3]() * 100`)
	expectNumber(t, v, 321)
}

func TestMultipleResults(t *testing.T) {
	v := runScript(t, `
local function three() return 1, 2, 3 end
local t = {three(), three()}
local a, b = (three())
return #t, select('#', three()), b, select(2, three())`)
	got := v.TupleValues()
	want := []float64{4, 3}
	for i, w := range want {
		expectNumber(t, got[i], w)
	}
	if !got[2].IsNil() {
		t.Fatalf("expected nil for truncated call, got %s", got[2])
	}
	expectNumber(t, got[3], 2)
	if len(got) != 5 {
		t.Fatalf("expected 5 values, got %d", len(got))
	}
}

func TestMetatables(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"index table", `
local base = {greet = "hi"}
local obj = setmetatable({}, {__index = base})
return obj.greet`, "hi"},
		{"index function", `
local obj = setmetatable({}, {__index = function(_, k) return k .. "!" end})
return obj.x`, "x!"},
		{"newindex", `
local log = {}
local obj = setmetatable({}, {__newindex = function(t, k, v) rawset(t, k, v .. "?") end})
obj.a = "b"
return obj.a`, "b?"},
		{"add", `
local mt = {__add = function(a, b) return a.v + b.v end}
local x, y = setmetatable({v = 2}, mt), setmetatable({v = 3}, mt)
return tostring(x + y)`, "5"},
		{"concat", `
local obj = setmetatable({}, {__concat = function(a, b) return "cat" end})
return obj .. "x"`, "cat"},
		{"call", `
local obj = setmetatable({}, {__call = function(self, a) return "called " .. a end})
return obj("x")`, "called x"},
		{"eq and lt", `
local mt = {__eq = function() return true end, __lt = function(a, b) return a.v < b.v end}
local a, b = setmetatable({v = 1}, mt), setmetatable({v = 2}, mt)
return tostring(a == b) .. tostring(a < b) .. tostring(b < a)`, "truetruefalse"},
		{"len", `return tostring(#setmetatable({}, {__len = function() return 42 end}))`, "42"},
		{"tostring", `return tostring(setmetatable({}, {__tostring = function() return "obj" end}))`, "obj"},
		{"unm", `return tostring(-setmetatable({}, {__unm = function() return 7 end}))`, "7"},
		{"protected", `
local obj = setmetatable({}, {__metatable = "locked"})
local ok, err = pcall(setmetatable, obj, {})
return tostring(getmetatable(obj)) .. " " .. tostring(ok)`, "locked false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectString(t, runScript(t, tt.code), tt.want)
		})
	}
}

func TestLeFallbackByDialect(t *testing.T) {
	code := `
local mt = {__lt = function(a, b) return a.v < b.v end}
local a, b = setmetatable({v = 1}, mt), setmetatable({v = 2}, mt)
return a <= b`
	if v := runDialect(t, "5.3", code); !v.CastToBool() {
		t.Fatalf("5.3: expected __le emulated with __lt")
	}
	rt := newTestRuntime(t, &config.Options{Dialect: "5.4"})
	if _, err := rt.DoString(code, "le"); err == nil || !strings.Contains(err.Error(), "attempt to compare two table values") {
		t.Fatalf("5.4: expected compare error, got %v", err)
	}
}

func TestToBeClosed(t *testing.T) {
	v := runScript(t, `
local log = ""
local function closer(name)
  return setmetatable({}, {__close = function(_, err) log = log .. name .. (err and "!" or "") end})
end
do
  local a <close> = closer("a")
  local b <close> = closer("b")
end
pcall(function()
  local c <close> = closer("c")
  error("boom")
end)
return log`)
	expectString(t, v, "bac!")

	err := runError(t, "local x <close> = {}")
	if !strings.Contains(err.Error(), "variable 'x' got a non-closable value") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestConstAssignmentRejected(t *testing.T) {
	err := runError(t, "local x <const> = 1; x = 2")
	var se *diagnostics.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected a syntax error, got %T: %v", err, err)
	}
}

func TestProtectedCalls(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"error value", `local ok, e = pcall(error, "plain") return tostring(ok) .. " " .. e`, "false plain"},
		{"level 0", `local ok, e = pcall(function() error("bare", 0) end) return e`, "bare"},
		{"positioned", `local ok, e = pcall(function() error("boom") end) return e`, "test:(1,35-48): boom"},
		{"table value", `local ok, e = pcall(error, {code = 7}) return tostring(e.code)`, "7"},
		{"runtime error", `local ok, e = pcall(function() local t = nil; return t.x end) return e`, "test:(1,55-57): attempt to index a nil value (local 't')"},
		{"success", `return select(2, pcall(function(a, b) return a .. b end, "x", "y"))`, "xy"},
		{"xpcall", `
local ok, e = xpcall(function() error("e", 0) end, function(m) return "handled: " .. m end)
return tostring(ok) .. " " .. e`, "false handled: e"},
		{"nested", `
local ok, e = pcall(function()
  local ok2, e2 = pcall(error, "inner", 0)
  error("outer:" .. e2, 0)
end)
return e`, "outer:inner"},
		{"assert", `local ok, e = pcall(assert, false, "nope") return e`, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runScript(t, tt.code)
			if tt.name == "positioned" || tt.name == "runtime error" {
				s := v.ToScalar().Str()
				if !strings.HasPrefix(s, "test:(1,") || !strings.HasSuffix(s, strings.SplitN(tt.want, ": ", 2)[1]) {
					t.Fatalf("expected %q, got %q", tt.want, s)
				}
				return
			}
			expectString(t, v, tt.want)
		})
	}
}

func TestUncaughtErrorDecoration(t *testing.T) {
	err := runError(t, "local x = nil\nreturn x.field")
	if !strings.HasPrefix(err.Error(), "test:(2,") {
		t.Fatalf("expected a position prefix, got %q", err.Error())
	}
	var re *diagnostics.RuntimeError
	if !errors.As(err, &re) || len(re.CallStack) == 0 {
		t.Fatalf("expected a runtime error with a call stack, got %v", err)
	}

	rt := newTestRuntime(t, &config.Options{Dialect: "5.3"})
	_, err = rt.DoString("return nil + 1", "compat")
	if err == nil || !strings.HasSuffix(err.Error(), "[compatibility: Lua 5.3]") {
		t.Fatalf("expected compatibility suffix, got %v", err)
	}
}

func TestPrint(t *testing.T) {
	rt := newTestRuntime(t, nil)
	var out bytes.Buffer
	rt.SetOutput(&out)
	if _, err := rt.DoString(`print("a", 1, 2.5, nil, true)`, "print"); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if got := out.String(); got != "a\t1\t2.5\tnil\ttrue\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestBaseLibrary(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"return type(nil) .. type(1) .. type('') .. type({}) .. type(print)", "nilnumberstringtablefunction"},
		{"return tostring(tonumber('0x1F'))", "31"},
		{"return tostring(tonumber('ff', 16))", "255"},
		{"return tostring(tonumber('z'))", "nil"},
		{"return tostring(rawequal({}, {}))", "false"},
		{"return tostring(rawlen({1, 2}))", "2"},
		{"return tostring(select(-1, 'a', 'b'))", "b"},
		{"return tostring(table.unpack({7, 8}))", "7"},
		{"return _VERSION", "Lua 5.4"},
		{"return tostring(_G == _ENV)", "true"},
		{"local t = setmetatable({}, {__index = function() return 1 end}) return tostring(rawget(t, 'x'))", "nil"},
		{"return tostring(next({}))", "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			expectString(t, runScript(t, tt.code), tt.want)
		})
	}

	if v := runDialect(t, "5.2", "return unpack({1, 2})"); len(v.TupleValues()) != 2 {
		t.Fatalf("5.2 unpack: expected 2 values, got %s", v)
	}
	rt := newTestRuntime(t, nil)
	if v := rt.GetGlobal("unpack"); v.IsNotNil() {
		t.Fatalf("unpack should only be global in 5.2")
	}
}

func TestPairsMetamethod(t *testing.T) {
	v := runScript(t, `
local obj = setmetatable({}, {__pairs = function(t)
  local i = 0
  return function() i = i + 1 if i <= 3 then return i, i * 2 end end, t, nil
end})
local s = 0
for k, v in pairs(obj) do s = s + k + v end
return s`)
	expectNumber(t, v, 18)
}

func TestHostCallbacks(t *testing.T) {
	rt := newTestRuntime(t, &config.Options{ColonCall: "method"})
	var sawMethod bool
	rt.SetGlobal("obj", NewTableValue(NewTable()))
	rt.Globals().GetStr("obj").Table().SetStr("m", NewCallback("m", func(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		sawMethod = args.IsMethodCall
		return NewTuple(NewNumber(float64(args.Count())), NewString("ok")), nil
	}))
	v, err := rt.DoString("local n, s = obj:m(1, 2) return n, s", "host")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	vals := v.TupleValues()
	expectNumber(t, vals[0], 3)
	expectString(t, vals[1], "ok")
	if !sawMethod {
		t.Fatalf("expected IsMethodCall under the method policy")
	}

	rt.SetGlobal("fail", NewCallback("fail", func(_ *ExecutionContext, _ *CallbackArguments) (DynValue, error) {
		return Nil, errors.New("host failure")
	}))
	v, err = rt.DoString("local ok, e = pcall(fail) return e", "host")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if s := v.ToScalar().Str(); !strings.Contains(s, "host failure") {
		t.Fatalf("expected host error message, got %q", s)
	}
}

func TestNestedHostCallIntoScript(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.SetGlobal("apply", NewCallback("apply", func(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		return ctx.Call(args.Get(0), args.Slice(1)...)
	}))
	v, err := rt.DoString("return apply(function(a, b) return a * b end, 6, 7)", "nested")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectNumber(t, v, 42)
}

func TestInstructionLimit(t *testing.T) {
	rt := newTestRuntime(t, &config.Options{Sandbox: config.SandboxOptions{MaxInstructions: 5000}})
	_, err := rt.DoString("pcall(function() while true do end end)", "loop")
	if !IsSandboxViolation(err) {
		t.Fatalf("expected a sandbox violation, got %v", err)
	}

	// The budget is per outermost call.
	if _, err := rt.DoString("local s = 0 for i = 1, 100 do s = s + i end return s", "small"); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt.SetContext(ctx)
	_, err := rt.DoString("while true do end", "cancel")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGlobalsFromHost(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.SetGlobal("x", NewNumber(20))
	if _, err := rt.DoString("y = x + 1", "globals"); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectNumber(t, rt.GetGlobal("y"), 21)
}

func TestConstantFolding(t *testing.T) {
	tree, err := parser.Parse("return 2^10 + 1 - -(3 * 2)", "fold", 0, config.DefaultDialect)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	chunk, err := Compile(tree, config.DefaultDialect)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	found := false
	for _, ins := range chunk.Code {
		switch ins.Op {
		case OP_ADD, OP_SUB, OP_POW, OP_MUL, OP_NEG:
			t.Fatalf("expected folded arithmetic, found %s", ins.Op)
		case OP_LITERAL:
			if ins.Value.Type() == TypeNumber && ins.Value.Number() == 1031 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("folded literal 1031 not emitted:\n%s", strings.Join(Disassemble(chunk), "\n"))
	}
}

func TestDisassemble(t *testing.T) {
	rt := newTestRuntime(t, nil)
	fn, err := rt.LoadString("local function f(a) return a + 1 end return f(1)", "dis")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	lines := Disassemble(fn.Chunk())
	if len(lines) != fn.Chunk().Len() {
		t.Fatalf("expected one line per instruction, got %d for %d", len(lines), fn.Chunk().Len())
	}
	if !strings.Contains(lines[0], "BEGINFN") || !strings.Contains(lines[0], "main chunk") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"CLOSURE", "L", "RET"} {
		if !strings.Contains(joined, want) {
			t.Errorf("disassembly lacks %q", want)
		}
	}
}

func TestTracebackMarksTailCalls(t *testing.T) {
	rt := newTestRuntime(t, nil)
	_, err := rt.DoString(`local function inner() error("boom") end
local function outer() return inner() end
local r = outer()
return r`, "tb")
	var re *diagnostics.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected a runtime error, got %v", err)
	}
	if len(re.CallStack) != 2 {
		t.Fatalf("expected inner and the main chunk, got %+v", re.CallStack)
	}
	if !re.CallStack[0].TailCall || re.CallStack[1].TailCall {
		t.Fatalf("tail call flags = %+v", re.CallStack)
	}
	tb := re.Traceback()
	rest := tb
	for _, want := range []string{"in function 'inner'", "(...tail calls...)", "in main chunk"} {
		i := strings.Index(rest, want)
		if i < 0 {
			t.Fatalf("expected %q in order in traceback:\n%s", want, tb)
		}
		rest = rest[i+len(want):]
	}
}
