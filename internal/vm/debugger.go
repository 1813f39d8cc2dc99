package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/funvibe/lunar/internal/diagnostics"
)

// DebuggerCaps declares what a debugger wants from the VM. The VM reads
// them once, when the debugger is attached.
type DebuggerCaps int

const (
	CanDebugSourceCode DebuggerCaps = 1 << iota
	CanDebugByteCode
	// HasLineBasedBreakpoints makes a breakpoint fire once per line
	// instead of once per statement.
	HasLineBasedBreakpoints
)

// DebuggerActionType is what the debugger asks the VM to do next.
type DebuggerActionType int

const (
	// ActionNone makes the VM ask again.
	ActionNone DebuggerActionType = iota
	ActionRun
	ActionStepIn
	ActionStepOver
	ActionStepOut
	ActionSetBreakpoint
	ActionToggleBreakpoint
	ActionClearBreakpoint
	ActionResetBreakpoints
	ActionRefresh
)

var actionNames = [...]string{
	ActionNone:             "none",
	ActionRun:              "run",
	ActionStepIn:           "step-in",
	ActionStepOver:         "step-over",
	ActionStepOut:          "step-out",
	ActionSetBreakpoint:    "set-breakpoint",
	ActionToggleBreakpoint: "toggle-breakpoint",
	ActionClearBreakpoint:  "clear-breakpoint",
	ActionResetBreakpoints: "reset-breakpoints",
	ActionRefresh:          "refresh",
}

func (a DebuggerActionType) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// DebuggerAction is a request from the debugger. The source fields are
// used by the breakpoint actions; Lines only by ActionResetBreakpoints.
type DebuggerAction struct {
	Action     DebuggerActionType
	SourceID   int
	SourceLine int
	SourceCol  int
	Lines      []int
}

// Debugger observes execution. GetAction blocks until the user decides;
// the VM calls it in a loop until it gets a movement action.
type Debugger interface {
	Capabilities() DebuggerCaps
	SetSourceCode(src *SourceCode)
	SetByteCode(lines []string)
	IsPauseRequested() bool
	// SignalRuntimeException returns true to pause before the error unwinds.
	SignalRuntimeException(err *diagnostics.RuntimeError) bool
	GetAction(ip int, ref *diagnostics.SourceRef) DebuggerAction
	// RefreshBreakpoints receives a snapshot of the active breakpoints.
	RefreshBreakpoints(refs []diagnostics.SourceRef)
	SignalExecutionEnded()
}

// DebugServiceUser is implemented by debuggers that inspect the paused
// script (call stack, variables).
type DebugServiceUser interface {
	SetDebugService(svc *DebugService)
}

// SourceCode is a loaded script and every source ref compiled from it.
type SourceCode struct {
	ID    int
	Name  string
	Code  string
	Lines []string
	Refs  []*diagnostics.SourceRef
}

func newSourceCode(id int, name, code string) *SourceCode {
	return &SourceCode{
		ID:    id,
		Name:  name,
		Code:  code,
		Lines: strings.Split(code, "\n"),
	}
}

// Line returns the 1-based line n, or "".
func (s *SourceCode) Line(n int) string {
	if n < 1 || n > len(s.Lines) {
		return ""
	}
	return s.Lines[n-1]
}

// Variable is a named value shown by a debugger.
type Variable struct {
	Name  string
	Value DynValue
}

// DebugService drives an attached debugger: it decides at each step
// stop whether to pause and applies the debugger's breakpoint changes.
type DebugService struct {
	rt        *Runtime
	debugger  Debugger
	caps      DebuggerCaps
	lineBased bool

	// action is the current movement. ActionNone pauses at the next stop.
	action  DebuggerActionType
	proc    *Processor
	depth   int
	lastRef *diagnostics.SourceRef

	// paused is the processor waiting in GetAction.
	paused *Processor
}

func newDebugService(rt *Runtime, d Debugger) *DebugService {
	caps := d.Capabilities()
	svc := &DebugService{
		rt:        rt,
		debugger:  d,
		caps:      caps,
		lineBased: caps&HasLineBasedBreakpoints != 0,
		action:    ActionNone,
	}
	if u, ok := d.(DebugServiceUser); ok {
		u.SetDebugService(svc)
	}
	return svc
}

// Runtime returns the debugged script instance.
func (d *DebugService) Runtime() *Runtime { return d.rt }

// Capabilities returns the capabilities read at attach time.
func (d *DebugService) Capabilities() DebuggerCaps { return d.caps }

// sourceLoaded hands a new chunk to the debugger.
func (d *DebugService) sourceLoaded(src *SourceCode, chunk *Chunk) {
	if d.caps&CanDebugSourceCode != 0 {
		d.debugger.SetSourceCode(src)
	}
	if d.caps&CanDebugByteCode != 0 {
		d.debugger.SetByteCode(Disassemble(chunk))
	}
}

// onStep runs before every instruction carrying a source ref.
func (d *DebugService) onStep(p *Processor, ip int, ref *diagnostics.SourceRef) {
	if !ref.IsStepStop {
		return
	}

	different := ref != d.lastRef
	if d.lineBased && d.lastRef != nil {
		different = ref.SourceID != d.lastRef.SourceID || ref.FromLine != d.lastRef.FromLine
	}
	if d.debugger.IsPauseRequested() || (ref.Breakpoint && different) {
		d.action = ActionNone
	}

	depth := len(p.frames)
	switch d.action {
	case ActionRun:
		d.lastRef = ref
		return
	case ActionStepIn:
		if p == d.proc && depth >= d.depth && ref == d.lastRef {
			return
		}
	case ActionStepOver:
		if ref == d.lastRef || p != d.proc || depth > d.depth {
			return
		}
	case ActionStepOut:
		if p != d.proc || depth >= d.depth {
			return
		}
	}
	d.listen(p, ip, ref)
}

// signalException reports a runtime error about to unwind.
func (d *DebugService) signalException(_ *Processor, err *diagnostics.RuntimeError) bool {
	return d.debugger.SignalRuntimeException(err)
}

// pause stops at the current instruction outside the step logic.
func (d *DebugService) pause(p *Processor) {
	if len(p.frames) == 0 {
		return
	}
	ref := p.currentSource(p.frame(), p.ip)
	d.listen(p, p.ip-1, ref)
}

// listen loops on GetAction until the debugger picks a movement.
func (d *DebugService) listen(p *Processor, ip int, ref *diagnostics.SourceRef) {
	d.paused = p
	defer func() { d.paused = nil }()

	for {
		if ctx := d.rt.ctx; ctx != nil && ctx.Err() != nil {
			d.action = ActionRun
			return
		}
		action := d.debugger.GetAction(ip, ref)
		switch action.Action {
		case ActionStepIn, ActionStepOver, ActionStepOut:
			d.action = action.Action
			d.lastRef = ref
			d.proc = p
			d.depth = len(p.frames)
			return
		case ActionRun:
			d.action = ActionRun
			d.lastRef = ref
			return
		case ActionToggleBreakpoint:
			d.toggleBreakpoint(action, nil)
			d.refreshBreakpoints()
		case ActionSetBreakpoint:
			on := true
			d.toggleBreakpoint(action, &on)
			d.refreshBreakpoints()
		case ActionClearBreakpoint:
			off := false
			d.toggleBreakpoint(action, &off)
			d.refreshBreakpoints()
		case ActionResetBreakpoints:
			d.resetBreakpoints(action.SourceID, action.Lines)
			d.refreshBreakpoints()
		case ActionRefresh:
			d.refreshBreakpoints()
		}
	}
}

func breakable(ref *diagnostics.SourceRef) bool {
	return ref.IsStepStop && !ref.CannotBreakpoint
}

// toggleBreakpoint flips (state nil) or sets the breakpoint on every ref
// covering the location, or on the nearest ref when none does.
func (d *DebugService) toggleBreakpoint(a DebuggerAction, state *bool) bool {
	src := d.rt.Source(a.SourceID)
	if src == nil {
		return false
	}
	apply := func(ref *diagnostics.SourceRef) {
		if state == nil {
			ref.Breakpoint = !ref.Breakpoint
		} else {
			ref.Breakpoint = *state
		}
	}

	found := false
	for _, ref := range src.Refs {
		if breakable(ref) && ref.IncludesLocation(a.SourceID, a.SourceLine, a.SourceCol) {
			apply(ref)
			found = true
		}
	}
	if found {
		return true
	}

	var nearest *diagnostics.SourceRef
	best := -1
	for _, ref := range src.Refs {
		if !breakable(ref) {
			continue
		}
		dist := ref.LocationDistance(a.SourceID, a.SourceLine, a.SourceCol)
		if dist >= 0 && (best < 0 || dist < best) {
			best, nearest = dist, ref
		}
	}
	if nearest == nil {
		// Nothing on that line: take the first statement below it.
		for _, ref := range src.Refs {
			if breakable(ref) && ref.FromLine > a.SourceLine && (nearest == nil || ref.FromLine < nearest.FromLine) {
				nearest = ref
			}
		}
	}
	if nearest == nil {
		return false
	}
	apply(nearest)
	return true
}

// resetBreakpoints makes lines the exact breakpoint set of a source and
// returns the lines that took a breakpoint.
func (d *DebugService) resetBreakpoints(sourceID int, lines []int) []int {
	src := d.rt.Source(sourceID)
	if src == nil {
		return nil
	}
	want := make(map[int]bool, len(lines))
	for _, l := range lines {
		want[l] = true
	}
	got := make(map[int]bool)
	for _, ref := range src.Refs {
		if !breakable(ref) {
			continue
		}
		ref.Breakpoint = want[ref.FromLine]
		if ref.Breakpoint {
			got[ref.FromLine] = true
		}
	}
	result := make([]int, 0, len(got))
	for l := range got {
		result = append(result, l)
	}
	sort.Ints(result)
	return result
}

func (d *DebugService) refreshBreakpoints() {
	d.debugger.RefreshBreakpoints(d.Breakpoints())
}

// Breakpoints returns copies of the refs carrying a breakpoint.
func (d *DebugService) Breakpoints() []diagnostics.SourceRef {
	var out []diagnostics.SourceRef
	for _, src := range d.rt.sources {
		for _, ref := range src.Refs {
			if ref.Breakpoint {
				out = append(out, *ref)
			}
		}
	}
	return out
}

// executionEnded tells the debugger the outermost call returned.
func (d *DebugService) executionEnded() {
	d.debugger.SignalExecutionEnded()
}

// CallStack describes the paused processor's frames, innermost first.
func (d *DebugService) CallStack() []diagnostics.StackEntry {
	if d.paused == nil {
		return nil
	}
	return d.paused.callStack()
}

// Locals lists the live locals of the paused frame in slot order.
func (d *DebugService) Locals() []Variable {
	p := d.paused
	if p == nil || len(p.frames) == 0 {
		return nil
	}
	fr := p.frame()
	entry := fr.code[fr.closure.Entry]
	if entry.Op != OP_BEGINFN || entry.Frame == nil {
		return nil
	}
	var vars []Variable
	for _, sym := range entry.Frame.DebugSymbols {
		if sym.Index >= len(fr.locals) || fr.locals[sym.Index] == nil {
			continue
		}
		vars = append(vars, Variable{Name: sym.Name, Value: *fr.locals[sym.Index]})
	}
	return vars
}

// Upvalues lists the captured variables of the paused function.
func (d *DebugService) Upvalues() []Variable {
	p := d.paused
	if p == nil || len(p.frames) == 0 {
		return nil
	}
	ctx := p.frame().closure.context
	vars := make([]Variable, ctx.Len())
	for i := range vars {
		vars[i] = Variable{Name: ctx.Name(i), Value: ctx.Get(i)}
	}
	return vars
}

// Globals lists the string-keyed globals in name order.
func (d *DebugService) Globals() []Variable {
	var vars []Variable
	k, v, ok := d.rt.globals.Next(Nil)
	for ok && k.IsNotNil() {
		if k.typ == TypeString {
			vars = append(vars, Variable{Name: k.str, Value: v})
		}
		k, v, ok = d.rt.globals.Next(k)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// Eval evaluates a dynamic expression against the globals.
func (d *DebugService) Eval(expr string) (DynValue, error) {
	return d.rt.Eval(expr)
}
