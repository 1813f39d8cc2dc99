package vm

import (
	"testing"

	"github.com/funvibe/lunar/internal/diagnostics"
)

// scriptedDebugger replays a fixed list of actions and records where the
// VM paused.
type scriptedDebugger struct {
	caps    DebuggerCaps
	actions []DebuggerAction
	svc     *DebugService

	sources     []*SourceCode
	bytecode    [][]string
	pausedLines []int
	locals      [][]Variable
	breakpoints []diagnostics.SourceRef
	exceptions  int
	ended       int
}

func (d *scriptedDebugger) Capabilities() DebuggerCaps { return d.caps }
func (d *scriptedDebugger) SetSourceCode(src *SourceCode) { d.sources = append(d.sources, src) }
func (d *scriptedDebugger) SetByteCode(lines []string) { d.bytecode = append(d.bytecode, lines) }
func (d *scriptedDebugger) IsPauseRequested() bool { return false }
func (d *scriptedDebugger) SetDebugService(svc *DebugService) { d.svc = svc }
func (d *scriptedDebugger) SignalExecutionEnded() { d.ended++ }
func (d *scriptedDebugger) RefreshBreakpoints(refs []diagnostics.SourceRef) { d.breakpoints = refs }

func (d *scriptedDebugger) SignalRuntimeException(_ *diagnostics.RuntimeError) bool {
	d.exceptions++
	return false
}

func (d *scriptedDebugger) GetAction(_ int, ref *diagnostics.SourceRef) DebuggerAction {
	if len(d.actions) == 0 {
		return DebuggerAction{Action: ActionRun}
	}
	a := d.actions[0]
	d.actions = d.actions[1:]
	if a.Action == ActionRun || a.Action == ActionStepIn || a.Action == ActionStepOver || a.Action == ActionStepOut {
		d.pausedLines = append(d.pausedLines, ref.FromLine)
		d.locals = append(d.locals, d.svc.Locals())
	}
	return a
}

func movement(a DebuggerActionType) DebuggerAction { return DebuggerAction{Action: a} }

const debugScript = `local a = 1
local b = 2
local c = a + b
return c`

func attach(t *testing.T, d *scriptedDebugger) *Runtime {
	t.Helper()
	rt := newTestRuntime(t, nil)
	rt.AttachDebugger(d)
	return rt
}

func expectLines(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("paused at lines %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paused at lines %v, want %v", got, want)
		}
	}
}

func TestDebuggerStepOver(t *testing.T) {
	d := &scriptedDebugger{
		caps: CanDebugSourceCode | CanDebugByteCode,
		actions: []DebuggerAction{
			movement(ActionStepOver),
			movement(ActionStepOver),
			movement(ActionStepOver),
			movement(ActionRun),
		},
	}
	rt := attach(t, d)
	v, err := rt.DoString(debugScript, "dbg")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectNumber(t, v, 3)
	expectLines(t, d.pausedLines, []int{1, 2, 3, 4})
	if len(d.sources) != 1 || d.sources[0].Line(3) != "local c = a + b" {
		t.Fatalf("source not announced: %+v", d.sources)
	}
	if len(d.bytecode) != 1 || len(d.bytecode[0]) == 0 {
		t.Fatalf("bytecode not announced")
	}
	if d.ended != 1 {
		t.Fatalf("expected one execution-ended signal, got %d", d.ended)
	}

	last := d.locals[3]
	found := false
	for _, v := range last {
		if v.Name == "c" && v.Value.Number() == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("local c not visible at line 4: %+v", last)
	}
}

func TestDebuggerBreakpoints(t *testing.T) {
	d := &scriptedDebugger{
		caps: CanDebugSourceCode,
		actions: []DebuggerAction{
			{Action: ActionToggleBreakpoint, SourceID: 0, SourceLine: 3, SourceCol: 1},
			movement(ActionRun),
			movement(ActionRun),
		},
	}
	rt := attach(t, d)
	if _, err := rt.DoString(debugScript, "dbg"); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectLines(t, d.pausedLines, []int{1, 3})
	if len(d.breakpoints) != 1 || d.breakpoints[0].FromLine != 3 {
		t.Fatalf("unexpected breakpoint snapshot %+v", d.breakpoints)
	}
}

func TestDebuggerBreakpointInLoop(t *testing.T) {
	d := &scriptedDebugger{
		caps: CanDebugSourceCode,
		actions: []DebuggerAction{
			{Action: ActionResetBreakpoints, SourceID: 0, Lines: []int{3}},
			movement(ActionRun),
			movement(ActionRun),
			movement(ActionRun),
			movement(ActionRun),
		},
	}
	rt := attach(t, d)
	_, err := rt.DoString(`local s = 0
for i = 1, 3 do
  s = s + i
end
return s`, "loop")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectLines(t, d.pausedLines, []int{1, 3, 3, 3})
}

func TestDebuggerStepInAndOut(t *testing.T) {
	d := &scriptedDebugger{
		caps: CanDebugSourceCode,
		actions: []DebuggerAction{
			movement(ActionStepOver), // line 1: function definition
			movement(ActionStepIn),   // line 4: call
			movement(ActionStepOver), // line 1: entry of f
			movement(ActionStepOut),  // line 2: inside f
			movement(ActionRun),      // line 4: storing the result
		},
	}
	rt := attach(t, d)
	v, err := rt.DoString(`local function f(x)
  return x * 2
end
local y = f(21)
return y`, "steps")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	expectNumber(t, v, 42)
	expectLines(t, d.pausedLines, []int{1, 4, 1, 2, 4})
}

func TestDebugServiceInspection(t *testing.T) {
	d := &scriptedDebugger{caps: CanDebugSourceCode}
	rt := attach(t, d)
	svc := rt.DebugService()
	if svc == nil || svc.Runtime() != rt {
		t.Fatalf("debug service not installed")
	}
	rt.SetGlobal("answer", NewNumber(42))
	found := false
	for _, g := range svc.Globals() {
		if g.Name == "answer" {
			found = true
		}
	}
	if !found {
		t.Fatalf("global not listed")
	}
	v, err := svc.Eval("answer + 1")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	expectNumber(t, v, 43)
	if svc.CallStack() != nil {
		t.Fatalf("no call stack expected while not paused")
	}
}
