package vm

import (
	"errors"
	"fmt"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
)

var errStackUnderflow = errors.New("stack underflow")
var errStackOverflow = errors.New("stack overflow")

// errYield unwinds the run loop of a coroutine that is suspending.
var errYield = errors.New("coroutine yield")

// Initial sizes for stack and frames
const InitialStackSize = 1024
const InitialFrameCount = 64

// Maximum operand stack size to prevent OOM
const MaxStackSize = 1024 * 1024 // 1M elements

// maxNativeDepth bounds nested run loops (metamethods, host callbacks
// calling back into scripts).
const maxNativeDepth = 200

// checkInterval is how often (in instructions) the context is polled.
const checkInterval = 1000

// pendingCall is the continuation and error handler of a tail call
// requested by a host callback. They run when the call completes.
type pendingCall struct {
	cont    Continuation
	handler ErrorHandler
}

// tbcEntry is a live <close> variable.
type tbcEntry struct {
	slot  int
	name  string
	value DynValue
}

// callFrame is a single ongoing script function call
type callFrame struct {
	closure *Closure
	code    []Instruction

	locals []*DynValue

	// base is the stack slot of the callee; the stack is cut back to it
	// on return.
	base int

	// retAddr is the caller's resume address, -1 when the caller is host
	// code.
	retAddr int

	pending  []pendingCall
	tbc      []tbcEntry
	callSite *diagnostics.SourceRef
	tailCall bool
}

// suspension is the state of a yielded coroutine.
type suspension struct {
	values  []DynValue
	pending []pendingCall
	base    int
	retAddr int
}

// Processor executes compiled chunks. The runtime owns one main
// processor, and every coroutine owns another.
type Processor struct {
	runtime *Runtime

	stack []DynValue
	sp    int // Stack pointer (points to next free slot)

	frames []*callFrame
	ip     int

	// loopDepth counts nested run loops on this processor.
	loopDepth int

	coroutine *Coroutine
	suspended *suspension

	opsSinceCheck int
}

func newProcessor(rt *Runtime, co *Coroutine) *Processor {
	return &Processor{
		runtime:   rt,
		stack:     make([]DynValue, InitialStackSize),
		frames:    make([]*callFrame, 0, InitialFrameCount),
		coroutine: co,
	}
}

// Runtime returns the script instance the processor belongs to.
func (p *Processor) Runtime() *Runtime { return p.runtime }

// Coroutine returns the coroutine the processor runs, nil for the main
// processor.
func (p *Processor) Coroutine() *Coroutine { return p.coroutine }

// Stack operations
func (p *Processor) push(v DynValue) {
	if p.sp >= len(p.stack) {
		if p.sp >= MaxStackSize {
			panic(errStackOverflow)
		}
		grown := make([]DynValue, len(p.stack)*2)
		copy(grown, p.stack[:p.sp])
		p.stack = grown
	}
	p.stack[p.sp] = v
	p.sp++
}

func (p *Processor) pop() DynValue {
	if p.sp <= 0 {
		panic(errStackUnderflow)
	}
	p.sp--
	v := p.stack[p.sp]
	p.stack[p.sp] = Nil
	return v
}

func (p *Processor) peek(distance int) DynValue {
	idx := p.sp - 1 - distance
	if idx < 0 {
		panic(errStackUnderflow)
	}
	return p.stack[idx]
}

// truncate cuts the stack back to sp, releasing the dropped values.
func (p *Processor) truncate(sp int) {
	for i := sp; i < p.sp; i++ {
		p.stack[i] = Nil
	}
	p.sp = sp
}

func (p *Processor) frame() *callFrame {
	return p.frames[len(p.frames)-1]
}

// Call invokes fn with args and runs it to completion in a nested run
// loop. Coroutines cannot yield across it.
func (p *Processor) Call(fn DynValue, args ...DynValue) (result DynValue, err error) {
	if p.loopDepth >= maxNativeDepth {
		return Nil, diagnostics.NewRuntimeError("stack overflow (too many nested host calls)")
	}
	base := len(p.frames)
	savedIP, savedSP := p.ip, p.sp
	p.loopDepth++
	defer func() {
		p.loopDepth--
		p.ip = savedIP
		if err != nil {
			p.frames = p.frames[:base]
			p.truncate(savedSP)
		}
	}()

	p.push(fn)
	for _, a := range args {
		p.push(a)
	}
	if err := p.call(savedSP, len(args), nil, -1, false); err != nil {
		if err = p.unwind(err, base); err != nil {
			return Nil, p.yieldBoundary(err)
		}
	}
	result, err = p.execute(base)
	if err != nil {
		return Nil, p.yieldBoundary(err)
	}
	return result, nil
}

// yieldBoundary turns a yield that escaped a nested run loop into an
// error. It cannot happen for loops started by resume.
func (p *Processor) yieldBoundary(err error) error {
	if err == errYield {
		p.suspended = nil
		return diagnostics.NewRuntimeError("attempt to yield across a C-call boundary")
	}
	return err
}

// execute runs until the frame stack is back to base and returns the
// value left on the stack.
func (p *Processor) execute(base int) (DynValue, error) {
	for len(p.frames) > base {
		if err := p.step(); err != nil {
			if err == errYield {
				return Nil, err
			}
			if err = p.unwind(err, base); err != nil {
				return Nil, err
			}
		}
	}
	return p.pop(), nil
}

// step executes one instruction. Runtime errors raised by panics deep in
// table code and stack overflows come back as returned errors.
func (p *Processor) step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *diagnostics.RuntimeError:
				err = e
			case error:
				if e == errStackOverflow {
					err = diagnostics.NewRuntimeError("stack overflow")
					return
				}
				if e == errStackUnderflow {
					panic(&diagnostics.InternalError{Message: "stack underflow"})
				}
				panic(r)
			default:
				panic(r)
			}
		}
	}()

	if err := p.checkBudget(); err != nil {
		return err
	}

	fr := p.frame()
	ins := &fr.code[p.ip]
	if p.runtime.debug != nil && ins.Source != nil {
		p.runtime.debug.onStep(p, p.ip, ins.Source)
	}
	p.ip++
	return p.exec(fr, ins)
}

// checkBudget enforces the instruction limit and polls the context.
func (p *Processor) checkBudget() error {
	rt := p.runtime
	rt.instructions++
	if rt.maxInstructions > 0 && rt.instructions > rt.maxInstructions {
		return rt.sandboxViolation("instruction limit of %d exceeded", rt.maxInstructions)
	}
	p.opsSinceCheck++
	if p.opsSinceCheck >= checkInterval {
		p.opsSinceCheck = 0
		if ctx := rt.ctx; ctx != nil {
			select {
			case <-ctx.Done():
				re := diagnostics.WrapRuntimeError(ctx.Err())
				re.Fatal = true
				return re
			default:
			}
		}
	}
	return nil
}

// unwind pops frames above base until one has a pending error handler.
// It returns nil when a handler took over and the loop can continue.
func (p *Processor) unwind(err error, base int) error {
	if err == errYield {
		return err
	}
	re := asRuntimeError(err)
	p.decorate(re)

	if p.runtime.debug != nil && p.runtime.debug.signalException(p, re) {
		p.runtime.debug.pause(p)
	}

	for len(p.frames) > base {
		fr := p.frame()
		p.closeAll(fr, errorValue(re))
		p.frames = p.frames[:len(p.frames)-1]
		p.truncate(fr.base)
		if fr.retAddr >= 0 {
			p.ip = fr.retAddr
		}
		if re.Fatal || !hasHandler(fr.pending) {
			continue
		}
		next := p.resolve(Nil, re, fr.pending, fr.base, fr.retAddr)
		if next == nil || next == errYield {
			return next
		}
		re = asRuntimeError(next)
		p.decorate(re)
	}
	return re
}

func hasHandler(pending []pendingCall) bool {
	for _, pc := range pending {
		if pc.handler != nil {
			return true
		}
	}
	return false
}

// asRuntimeError converts host errors into runtime errors.
func asRuntimeError(err error) *diagnostics.RuntimeError {
	var re *diagnostics.RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return diagnostics.WrapRuntimeError(err)
}

// decorate stamps the location of the current instruction and the call
// stack onto re, once.
func (p *Processor) decorate(re *diagnostics.RuntimeError) {
	if len(p.frames) == 0 {
		return
	}
	if re.CallStack == nil {
		re.CallStack = p.callStack()
	}
	if re.IsDecorated() {
		return
	}
	fr := p.frame()
	ref := p.currentSource(fr, p.ip)
	re.Decorate(fr.closure.chunk.Name, ref, fr.closure.chunk.Dialect)
}

// currentSource is the source of the instruction before ip, falling back
// to the frame's call site.
func (p *Processor) currentSource(fr *callFrame, ip int) *diagnostics.SourceRef {
	if ip > 0 && ip <= len(fr.code) {
		if ref := fr.code[ip-1].Source; ref != nil {
			return ref
		}
	}
	return fr.callSite
}

// callStack describes the frames from innermost outwards.
func (p *Processor) callStack() []diagnostics.StackEntry {
	entries := make([]diagnostics.StackEntry, 0, len(p.frames))
	ip := p.ip
	for i := len(p.frames) - 1; i >= 0; i-- {
		fr := p.frames[i]
		loc := "?"
		if ref := p.currentSource(fr, ip); ref != nil {
			loc = ref.FormatLocation(fr.closure.chunk.Name)
		}
		entries = append(entries, diagnostics.StackEntry{Name: frameName(fr), Location: loc, TailCall: fr.tailCall})
		ip = fr.retAddr
		if ip < 0 {
			ip = 0
		}
	}
	return entries
}

func frameName(fr *callFrame) string {
	switch name := fr.closure.Name; name {
	case "main chunk":
		return name
	case "":
		return "function <anonymous>"
	default:
		return fmt.Sprintf("function '%s'", name)
	}
}

// errorValue is the script value carried by an error: the value given to
// error(), or the decorated message.
func errorValue(err error) DynValue {
	var re *diagnostics.RuntimeError
	if errors.As(err, &re) {
		if v, ok := re.Value.(DynValue); ok {
			return v
		}
		return NewString(re.Error())
	}
	return NewString(err.Error())
}

// checkDepth enforces the call depth limit before a frame is pushed.
func (p *Processor) checkDepth() error {
	rt := p.runtime
	if len(p.frames) < rt.maxCallDepth {
		return nil
	}
	if rt.maxCallDepth == config.DefaultMaxCallDepth {
		return diagnostics.NewRuntimeError("stack overflow")
	}
	re := diagnostics.NewRuntimeError("sandbox violation: call depth limit of %d exceeded", rt.maxCallDepth)
	rt.logger.WarnContext(rt.ctx, "sandbox violation", "limit", "call_depth", "value", rt.maxCallDepth)
	return re
}
