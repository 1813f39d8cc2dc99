package debugcli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/vm"
)

const script = `g = 10
local b = 2
local function scale(x)
  return x * b
end
return scale(3)`

func run(t *testing.T, commands string, setup func(*CLI)) (vm.DynValue, string) {
	t.Helper()
	var out bytes.Buffer
	cli := New(strings.NewReader(commands), &out)
	if setup != nil {
		setup(cli)
	}
	rt, err := vm.NewRuntime(nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	rt.SetOutput(io.Discard)
	rt.AttachDebugger(cli)
	v, err := rt.DoString(script, "dbg")
	if err != nil {
		t.Fatalf("DoString: %v\n%s", err, out.String())
	}
	return v, out.String()
}

func expectOutput(t *testing.T, out string, wants ...string) {
	t.Helper()
	rest := out
	for _, w := range wants {
		i := strings.Index(rest, w)
		if i < 0 {
			t.Fatalf("expected %q in order in output:\n%s", w, out)
		}
		rest = rest[i+len(w):]
	}
}

func TestBreakpointSession(t *testing.T) {
	commands := strings.Join([]string{
		"help",
		"b 4",
		"l",
		"c",
		"p x",
		"locals",
		"bt",
		"p g * 2",
		"d 4",
		"l",
		"c",
	}, "\n")
	v, out := run(t, commands, nil)
	if v.ToScalar().Number() != 6 {
		t.Fatalf("script returned %v", v)
	}
	expectOutput(t, out,
		"Loaded dbg (source 0, 6 lines)",
		"Stopped at dbg:(1,",
		"Debugger commands:",
		"Breakpoints:\n  1. dbg:4",
		"Stopped at dbg:(4,",
		"    4    return x * b",
		"3\n",
		"x = 3",
		"#0 function 'scale'",
		"(...tail calls...)",
		"20\n",
		"No breakpoints set.",
		"Execution finished.",
	)
}

func TestSteppingAndSource(t *testing.T) {
	commands := strings.Join([]string{
		"n",
		"src 1",
		"p nosuch.field",
		"frobnicate",
		"b",
		"b other:3",
		"quit",
	}, "\n")
	_, out := run(t, commands, nil)
	expectOutput(t, out,
		"Stopped at dbg:(1,",
		"Stopped at dbg:(2,",
		">   2  local b = 2",
		"Evaluation error:",
		"Unknown command: frobnicate",
		"Usage: break [chunk:]<line>",
		"Unknown chunk: other",
	)
	if strings.Contains(out, "Execution finished.") {
		t.Fatalf("a detached debugger should stay quiet:\n%s", out)
	}
}

func TestEOFDetaches(t *testing.T) {
	v, out := run(t, "", nil)
	if v.ToScalar().Number() != 6 {
		t.Fatalf("script returned %v", v)
	}
	expectOutput(t, out, "Stopped at dbg:(1,", "Detaching debugger (EOF).")
}

func TestByteCodeListing(t *testing.T) {
	_, out := run(t, "dis\nc", func(c *CLI) { c.ShowByteCode = true })
	expectOutput(t, out, "Stopped at dbg:(1,", "> ")

	_, out = run(t, "dis\nc", nil)
	expectOutput(t, out, "No bytecode available")
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"x", true},
		{"_tmp1", true},
		{"1x", false},
		{"a.b", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidIdentifier(tt.in); got != tt.want {
			t.Errorf("isValidIdentifier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
