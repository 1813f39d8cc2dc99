// Package debugcli is a line-oriented debugger for the command line. It
// implements vm.Debugger and reads one command per line.
package debugcli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/vm"
)

// CLI provides a command-line interface for the debugger.
type CLI struct {
	scanner *bufio.Scanner
	output  io.Writer
	svc     *vm.DebugService

	// ShowByteCode asks the VM for disassembly; the dis command needs it.
	ShowByteCode bool
	// BreakOnError pauses before a runtime error unwinds.
	BreakOnError bool

	sources     []*vm.SourceCode
	bytecode    map[int][]string
	breakpoints []diagnostics.SourceRef

	detached bool
	// reprompt skips the location banner after a breakpoint command, when
	// the VM asks again for the same stop.
	reprompt bool
}

// New creates a CLI debugger reading commands from in.
func New(in io.Reader, out io.Writer) *CLI {
	return &CLI{
		scanner:  bufio.NewScanner(in),
		output:   out,
		bytecode: make(map[int][]string),
	}
}

func (cli *CLI) Capabilities() vm.DebuggerCaps {
	caps := vm.CanDebugSourceCode | vm.HasLineBasedBreakpoints
	if cli.ShowByteCode {
		caps |= vm.CanDebugByteCode
	}
	return caps
}

func (cli *CLI) SetDebugService(svc *vm.DebugService) { cli.svc = svc }

func (cli *CLI) SetSourceCode(src *vm.SourceCode) {
	cli.sources = append(cli.sources, src)
	fmt.Fprintf(cli.output, "Loaded %s (source %d, %d lines)\n", src.Name, src.ID, len(src.Lines))
}

// SetByteCode receives the disassembly of the source announced last.
func (cli *CLI) SetByteCode(lines []string) {
	if n := len(cli.sources); n > 0 {
		cli.bytecode[cli.sources[n-1].ID] = lines
	}
}

func (cli *CLI) IsPauseRequested() bool { return false }

func (cli *CLI) SignalRuntimeException(err *diagnostics.RuntimeError) bool {
	if cli.detached || !cli.BreakOnError {
		return false
	}
	fmt.Fprintf(cli.output, "Runtime error: %s\n", err.Message)
	return true
}

func (cli *CLI) RefreshBreakpoints(refs []diagnostics.SourceRef) {
	cli.breakpoints = refs
}

func (cli *CLI) SignalExecutionEnded() {
	if !cli.detached {
		fmt.Fprintf(cli.output, "Execution finished.\n")
	}
}

// GetAction prints the stop and runs commands until one resumes the
// script. EOF and quit detach the debugger and let the script finish.
func (cli *CLI) GetAction(ip int, ref *diagnostics.SourceRef) vm.DebuggerAction {
	if cli.detached {
		return vm.DebuggerAction{Action: vm.ActionRun}
	}
	if cli.reprompt {
		cli.reprompt = false
	} else {
		cli.printLocation(ref)
	}

	for {
		fmt.Fprintf(cli.output, "(lunar) ")
		if !cli.scanner.Scan() {
			if err := cli.scanner.Err(); err != nil {
				fmt.Fprintf(cli.output, "\nDebugger error: %v\n", err)
			} else {
				fmt.Fprintf(cli.output, "\nDetaching debugger (EOF).\n")
			}
			cli.detached = true
			return vm.DebuggerAction{Action: vm.ActionRun}
		}

		parts := strings.Fields(cli.scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help", "h":
			printHelp(cli.output)
		case "continue", "c":
			return vm.DebuggerAction{Action: vm.ActionRun}
		case "step", "s":
			return vm.DebuggerAction{Action: vm.ActionStepIn}
		case "stepover", "so", "next", "n":
			return vm.DebuggerAction{Action: vm.ActionStepOver}
		case "stepout", "out", "finish", "fin":
			return vm.DebuggerAction{Action: vm.ActionStepOut}
		case "break", "b":
			if a, ok := cli.breakpointAction(vm.ActionSetBreakpoint, args, ref); ok {
				cli.reprompt = true
				return a
			}
		case "delete", "d":
			if a, ok := cli.breakpointAction(vm.ActionClearBreakpoint, args, ref); ok {
				cli.reprompt = true
				return a
			}
		case "list", "l":
			cli.handleListBreakpoints()
		case "locals", "vars":
			cli.printVariables(cli.svc.Locals(), "No locals.")
		case "upvalues", "up":
			cli.printVariables(cli.svc.Upvalues(), "No upvalues.")
		case "globals":
			cli.printVariables(cli.svc.Globals(), "No globals.")
		case "backtrace", "bt":
			cli.printCallStack()
		case "print", "p":
			cli.handlePrint(args)
		case "source", "src":
			cli.printSource(ref, args)
		case "dis":
			cli.printByteCode(ip, ref)
		case "quit", "q", "exit":
			cli.detached = true
			return vm.DebuggerAction{Action: vm.ActionRun}
		default:
			fmt.Fprintf(cli.output, "Unknown command: %s. Type 'help' for help.\n", cmd)
		}
	}
}

func printHelp(output io.Writer) {
	help := `Debugger commands:
  help, h                  - Show this help
  continue, c              - Continue until the next breakpoint
  step, s                  - Step into calls
  stepover, so, next, n    - Step over calls
  stepout, out, finish     - Run until the current function returns
  break, b [chunk:]<line>  - Set a breakpoint
  delete, d [chunk:]<line> - Remove a breakpoint
  list, l                  - List breakpoints
  locals, vars             - Show local variables
  upvalues, up             - Show captured variables
  globals                  - Show global variables
  backtrace, bt            - Show the call stack
  print, p <expr>          - Evaluate an expression
  source, src [n]          - Show n lines around the current one
  dis                      - Show bytecode around the current instruction
  quit, q, exit            - Detach and let the script finish
`
	fmt.Fprint(output, help)
}

func (cli *CLI) source(id int) *vm.SourceCode {
	for _, src := range cli.sources {
		if src.ID == id {
			return src
		}
	}
	return nil
}

func (cli *CLI) sourceName(id int) string {
	if src := cli.source(id); src != nil {
		return src.Name
	}
	return "?"
}

func (cli *CLI) printLocation(ref *diagnostics.SourceRef) {
	if ref == nil {
		fmt.Fprintf(cli.output, "Stopped.\n")
		return
	}
	fmt.Fprintf(cli.output, "Stopped at %s\n", ref.FormatLocation(cli.sourceName(ref.SourceID)))
	if src := cli.source(ref.SourceID); src != nil {
		if text := src.Line(ref.FromLine); text != "" {
			fmt.Fprintf(cli.output, "%5d  %s\n", ref.FromLine, text)
		}
	}
}

// breakpointAction parses "[chunk:]line" into a breakpoint request.
func (cli *CLI) breakpointAction(kind vm.DebuggerActionType, args []string, ref *diagnostics.SourceRef) (vm.DebuggerAction, bool) {
	if len(args) == 0 {
		fmt.Fprintf(cli.output, "Usage: %s [chunk:]<line>\n", map[vm.DebuggerActionType]string{
			vm.ActionSetBreakpoint:   "break",
			vm.ActionClearBreakpoint: "delete",
		}[kind])
		return vm.DebuggerAction{}, false
	}

	arg := args[0]
	sourceID := -1
	if ref != nil {
		sourceID = ref.SourceID
	}
	if i := strings.LastIndexByte(arg, ':'); i >= 0 {
		name := arg[:i]
		arg = arg[i+1:]
		sourceID = -1
		for _, src := range cli.sources {
			if src.Name == name {
				sourceID = src.ID
			}
		}
		if sourceID < 0 {
			fmt.Fprintf(cli.output, "Unknown chunk: %s\n", name)
			return vm.DebuggerAction{}, false
		}
	}
	if sourceID < 0 {
		fmt.Fprintf(cli.output, "No current chunk; use chunk:line.\n")
		return vm.DebuggerAction{}, false
	}

	line, err := strconv.Atoi(arg)
	if err != nil || line < 1 {
		fmt.Fprintf(cli.output, "Invalid line number: %s\n", arg)
		return vm.DebuggerAction{}, false
	}
	return vm.DebuggerAction{Action: kind, SourceID: sourceID, SourceLine: line, SourceCol: 1}, true
}

func (cli *CLI) handleListBreakpoints() {
	if len(cli.breakpoints) == 0 {
		fmt.Fprintf(cli.output, "No breakpoints set.\n")
		return
	}
	fmt.Fprintf(cli.output, "Breakpoints:\n")
	for i, bp := range cli.breakpoints {
		fmt.Fprintf(cli.output, "  %d. %s:%d\n", i+1, cli.sourceName(bp.SourceID), bp.FromLine)
	}
}

func (cli *CLI) printVariables(vars []vm.Variable, empty string) {
	if len(vars) == 0 {
		fmt.Fprintln(cli.output, empty)
		return
	}
	for _, v := range vars {
		fmt.Fprintf(cli.output, "  %s = %s\n", v.Name, inspect(v.Value))
	}
}

func (cli *CLI) printCallStack() {
	stack := cli.svc.CallStack()
	if len(stack) == 0 {
		fmt.Fprintf(cli.output, "No call stack.\n")
		return
	}
	for i, e := range stack {
		fmt.Fprintf(cli.output, "  #%d %s at %s\n", i, e.Name, e.Location)
		if e.TailCall {
			fmt.Fprintf(cli.output, "     (...tail calls...)\n")
		}
	}
}

// handlePrint looks a single name up among the locals first, then
// evaluates the text as an expression over the globals.
func (cli *CLI) handlePrint(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(cli.output, "Usage: print <expression>\n")
		return
	}
	if len(args) == 1 && isValidIdentifier(args[0]) {
		for _, group := range [][]vm.Variable{cli.svc.Locals(), cli.svc.Upvalues()} {
			for i := len(group) - 1; i >= 0; i-- {
				if group[i].Name == args[0] {
					fmt.Fprintln(cli.output, inspect(group[i].Value))
					return
				}
			}
		}
	}

	v, err := cli.svc.Eval(strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(cli.output, "Evaluation error: %v\n", err)
		return
	}
	fmt.Fprintln(cli.output, inspect(v))
}

func (cli *CLI) printSource(ref *diagnostics.SourceRef, args []string) {
	if ref == nil {
		return
	}
	src := cli.source(ref.SourceID)
	if src == nil || src.Code == "" {
		fmt.Fprintf(cli.output, "No source available.\n")
		return
	}
	around := 3
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n >= 0 {
			around = n
		}
	}
	for l := ref.FromLine - around; l <= ref.FromLine+around; l++ {
		if l < 1 || l > len(src.Lines) {
			continue
		}
		marker := " "
		if l == ref.FromLine {
			marker = ">"
		}
		fmt.Fprintf(cli.output, "%s%4d  %s\n", marker, l, src.Lines[l-1])
	}
}

func (cli *CLI) printByteCode(ip int, ref *diagnostics.SourceRef) {
	if ref == nil {
		return
	}
	lines := cli.bytecode[ref.SourceID]
	if len(lines) == 0 {
		fmt.Fprintf(cli.output, "No bytecode available; start the debugger with bytecode enabled.\n")
		return
	}
	for i := ip - 3; i <= ip+3; i++ {
		if i < 0 || i >= len(lines) {
			continue
		}
		marker := " "
		if i == ip {
			marker = ">"
		}
		fmt.Fprintf(cli.output, "%s %s\n", marker, lines[i])
	}
}

// inspect renders strings quoted and everything else as tostring would
// without metamethods.
func inspect(v vm.DynValue) string {
	v = v.ToScalar()
	if v.Type() == vm.TypeString {
		return strconv.Quote(v.Str())
	}
	return v.String()
}

// isValidIdentifier checks if a string is a valid identifier
func isValidIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	if !((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z') || s[0] == '_') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') ||
			(s[i] >= '0' && s[i] <= '9') || s[i] == '_') {
			return false
		}
	}
	return true
}
