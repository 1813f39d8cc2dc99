package vm

import (
	"strings"
	"testing"
)

func TestCoroutineGenerator(t *testing.T) {
	v := runScript(t, `
local co = coroutine.create(function(a, b)
  local c = coroutine.yield(a + b)
  local d, e = coroutine.yield(c * 2)
  return d + e
end)
local out = {}
local function step(...)
  local ok, v = coroutine.resume(co, ...)
  out[#out + 1] = tostring(ok) .. ":" .. tostring(v) .. ":" .. coroutine.status(co)
end
step(1, 2)
step(10)
step(3, 4)
step()
return table.unpack(out)`)
	want := []string{
		"true:3:suspended",
		"true:20:suspended",
		"true:7:dead",
		"false:cannot resume dead coroutine:dead",
	}
	got := v.TupleValues()
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i := range want {
		expectString(t, got[i], want[i])
	}
}

func TestCoroutineWrapAndStatus(t *testing.T) {
	v := runScript(t, `
local gen = coroutine.wrap(function()
  for i = 1, 3 do coroutine.yield(i) end
end)
local s = gen() + gen() + gen()
local inner
local co = coroutine.create(function()
  inner = coroutine.status(coroutine.running())
  local _, isMain = coroutine.running()
  return isMain
end)
local _, isMain = coroutine.resume(co)
local _, mainFlag = coroutine.running()
return s, inner, isMain, mainFlag, coroutine.isyieldable()`)
	got := v.TupleValues()
	expectNumber(t, got[0], 6)
	expectString(t, got[1], "running")
	if got[2].CastToBool() {
		t.Fatalf("coroutine.running inside a coroutine reported main")
	}
	if !got[3].CastToBool() {
		t.Fatalf("coroutine.running outside coroutines should report main")
	}
	if got[4].CastToBool() {
		t.Fatalf("main chunk should not be yieldable")
	}
}

func TestCoroutineNormalStatus(t *testing.T) {
	v := runScript(t, `
local outer
outer = coroutine.create(function()
  local inner = coroutine.create(function() return coroutine.status(outer) end)
  local _, s = coroutine.resume(inner)
  return s
end)
local _, s = coroutine.resume(outer)
return s`)
	expectString(t, v, "normal")
}

func TestYieldAcrossPCall(t *testing.T) {
	v := runScript(t, `
local co = coroutine.wrap(function()
  local ok, v = pcall(function()
    local x = coroutine.yield("first")
    error("after " .. x, 0)
  end)
  coroutine.yield(v)
  return "end"
end)
return co(), co("resume"), co()`)
	got := v.TupleValues()
	expectString(t, got[0], "first")
	expectString(t, got[1], "after resume")
	expectString(t, got[2], "end")
}

func TestCoroutineErrors(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{`local ok, e = pcall(coroutine.yield, 1) return e`, "attempt to yield from outside a coroutine"},
		{`
local co = coroutine.create(function() error("inside", 0) end)
local ok, e = coroutine.resume(co)
return tostring(ok) .. " " .. e .. " " .. coroutine.status(co)`, "false inside dead"},
		{`
local co
co = coroutine.create(function() return coroutine.resume(co) end)
local _, ok, e = coroutine.resume(co)
return e`, "cannot resume non-suspended coroutine"},
	}
	for _, tt := range tests {
		v := runScript(t, tt.code)
		if s := v.ToScalar().Str(); !strings.Contains(s, tt.want) {
			t.Errorf("expected %q in %q", tt.want, s)
		}
	}
}

func TestYieldAcrossHostCall(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.SetGlobal("apply", NewCallback("apply", func(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		return ctx.Call(args.Get(0))
	}))
	v, err := rt.DoString(`
local co = coroutine.create(function()
  apply(function() coroutine.yield(1) end)
end)
local ok, e = coroutine.resume(co)
return e`, "boundary")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if s := v.ToScalar().Str(); !strings.Contains(s, "attempt to yield across a C-call boundary") {
		t.Fatalf("unexpected message %q", s)
	}
}

func TestHostResume(t *testing.T) {
	rt := newTestRuntime(t, nil)
	fn, err := rt.LoadString(`return function(n) for i = 1, n do coroutine.yield(i * i) end return "done" end`, "host")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	body, err := rt.Call(NewClosureValue(fn))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	co := rt.NewCoroutine(body)
	var squares []float64
	for i := 0; ; i++ {
		v, err := co.Resume(NewNumber(3))
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if co.Status() == CoroutineDead {
			expectString(t, v, "done")
			break
		}
		squares = append(squares, v.Number())
		if i > 5 {
			t.Fatalf("coroutine did not finish")
		}
	}
	if len(squares) != 3 || squares[2] != 9 {
		t.Fatalf("unexpected yields %v", squares)
	}
	if _, err := co.Resume(); err == nil {
		t.Fatalf("resuming a dead coroutine should fail")
	}
}
