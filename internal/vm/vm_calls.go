package vm

import (
	"fmt"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
)

// expandArgs expands a tuple on top of the stack in place and returns
// the adjusted argument count.
func (p *Processor) expandArgs(argc int) int {
	if argc == 0 {
		return argc
	}
	top := p.peek(0)
	if top.typ != TypeTuple && top.typ != TypeVoid {
		return argc
	}
	p.pop()
	values := top.TupleValues()
	for _, v := range values {
		p.push(v)
	}
	return argc - 1 + len(values)
}

// resolveCall replaces a non-callable value at fnPos with its __call
// metamethod, passing the value as the first argument.
func (p *Processor) resolveCall(fnPos, argc int, desc string) (DynValue, int, error) {
	fn := p.stack[fnPos]
	for hops := 0; !fn.IsCallable(); hops++ {
		h := p.metaMethod(fn, config.MetaCall)
		if h.IsNil() || hops >= config.MaxMetaChain {
			return Nil, 0, callError(fn, desc)
		}
		p.push(Nil)
		copy(p.stack[fnPos+1:p.sp], p.stack[fnPos:p.sp-1])
		p.stack[fnPos] = h
		argc++
		fn = h
	}
	return fn, argc, nil
}

func callError(fn DynValue, desc string) error {
	return diagnostics.NewRuntimeError("attempt to call a %s value%s", fn.TypeName(), describeOperand(desc))
}

// describeOperand formats " (global 'x')" for error messages.
func describeOperand(desc string) string {
	if desc == "" {
		return ""
	}
	return " (" + desc + ")"
}

// call invokes the function at fnPos with the argc values above it. A
// script function gets a new frame; a host callback runs immediately and
// its result is pushed in place of the callee. With tail set, the
// current frame is replaced.
func (p *Processor) call(fnPos, argc int, ins *Instruction, retAddr int, tail bool) error {
	var desc string
	var site *diagnostics.SourceRef
	method := false
	if ins != nil {
		desc, site, method = ins.Desc, ins.Source, ins.NumVal2 == 1
	}

	fn, argc, err := p.resolveCall(fnPos, argc, desc)
	if err != nil {
		return err
	}

	if fn.typ == TypeFunction {
		if tail {
			args := make([]DynValue, argc)
			copy(args, p.stack[fnPos+1:fnPos+1+argc])
			if err := p.returnFrame(NewTailCallRequest(fn, args...)); err != nil {
				return err
			}
			p.frame().tailCall = true
			return nil
		}
		return p.enterClosure(fn.Closure(), fnPos, retAddr, nil, site)
	}

	args := make([]DynValue, argc)
	copy(args, p.stack[fnPos+1:fnPos+1+argc])
	p.truncate(fnPos)
	isMethod := method && argc > 0 && p.runtime.colon.isMethodCall(args[0])
	result, err := p.invokeCallback(fn.Callback(), args, isMethod, site)
	if err != nil {
		return err
	}
	if tail && result.typ == TypeTailCallRequest {
		return p.returnFrame(result)
	}
	return p.resolve(result, nil, nil, fnPos, retAddr)
}

func (p *Processor) invokeCallback(cb *Callback, args []DynValue, isMethod bool, site *diagnostics.SourceRef) (DynValue, error) {
	ctx := &ExecutionContext{proc: p, caller: site}
	return cb.Fn(ctx, NewCallbackArguments(args, isMethod))
}

// enterClosure pushes a frame for c. The callee and its arguments are
// already on the stack at base.
func (p *Processor) enterClosure(c *Closure, base, retAddr int, pending []pendingCall, site *diagnostics.SourceRef) error {
	if err := p.checkDepth(); err != nil {
		return err
	}
	p.frames = append(p.frames, &callFrame{
		closure:  c,
		code:     c.chunk.Code,
		base:     base,
		retAddr:  retAddr,
		pending:  pending,
		callSite: site,
	})
	p.ip = c.Entry
	return nil
}

// returnFrame pops the current frame and delivers result to its caller.
// result may be a TailCallRequest, which then runs in place of the
// popped frame.
func (p *Processor) returnFrame(result DynValue) error {
	fr := p.frame()
	if err := p.closeAll(fr, Nil); err != nil {
		return err
	}
	p.frames = p.frames[:len(p.frames)-1]
	p.truncate(fr.base)
	if fr.retAddr >= 0 {
		p.ip = fr.retAddr
	}
	return p.resolve(result, nil, fr.pending, fr.base, fr.retAddr)
}

// resolve trampolines tail call requests and runs pending continuations
// until it either pushes a plain value at base or enters a script frame.
// err is an error to hand to the pending error handlers. An error left
// over when pending is exhausted is returned.
func (p *Processor) resolve(result DynValue, err error, pending []pendingCall, base, retAddr int) error {
	for {
		if err == nil {
			switch result.typ {
			case TypeTailCallRequest:
				data := result.TailCallData()
				if data.Continuation != nil || data.ErrorHandler != nil {
					pending = append(pending, pendingCall{cont: data.Continuation, handler: data.ErrorHandler})
				}
				p.truncate(base)
				p.push(data.Function)
				for _, a := range data.Args {
					p.push(a)
				}
				argc := p.expandArgs(len(data.Args))
				var fn DynValue
				fn, argc, err = p.resolveCall(base, argc, "")
				if err != nil {
					result = Nil
					continue
				}
				if fn.typ == TypeFunction {
					return p.enterClosure(fn.Closure(), base, retAddr, pending, nil)
				}
				args := make([]DynValue, argc)
				copy(args, p.stack[base+1:base+1+argc])
				p.truncate(base)
				result, err = p.invokeCallback(fn.Callback(), args, false, nil)
				continue

			case TypeYieldRequest:
				if yerr := p.checkYield(); yerr != nil {
					result, err = Nil, yerr
					continue
				}
				p.suspended = &suspension{
					values:  result.YieldRequest().Values,
					pending: pending,
					base:    base,
					retAddr: retAddr,
				}
				return errYield
			}
		}

		if len(pending) == 0 {
			break
		}
		pc := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		ctx := &ExecutionContext{proc: p}
		if err != nil {
			if pc.handler != nil && !isFatal(err) {
				p.decorateError(err)
				result, err = pc.handler(ctx, err)
			}
		} else if pc.cont != nil {
			result, err = pc.cont(ctx, result)
		}
	}

	if err != nil {
		return err
	}
	p.truncate(base)
	p.push(result)
	return nil
}

func (p *Processor) decorateError(err error) {
	p.decorate(asRuntimeError(err))
}

func isFatal(err error) bool {
	return asRuntimeError(err).Fatal
}

func (p *Processor) checkYield() error {
	switch {
	case p.coroutine == nil:
		return diagnostics.NewRuntimeError("attempt to yield from outside a coroutine")
	case p.loopDepth > 1:
		return diagnostics.NewRuntimeError("attempt to yield across a C-call boundary")
	}
	return nil
}

// CanYield reports whether a callback running on this processor may
// return a YieldRequest.
func (p *Processor) CanYield() bool { return p.checkYield() == nil }

// bindArgs implements OP_ARGS: it moves the arguments above the callee
// into parameter cells and the varargs cell, then drops them.
func (p *Processor) bindArgs(fr *callFrame, ins *Instruction) {
	args := p.stack[fr.base+1 : p.sp]
	for i, sym := range ins.Symbols {
		v := Nil
		if i < len(args) {
			v = args[i]
		}
		cell := v
		fr.locals[sym.Index] = &cell
	}
	if ins.Symbol != nil {
		var rest []DynValue
		if len(args) > len(ins.Symbols) {
			rest = make([]DynValue, len(args)-len(ins.Symbols))
			copy(rest, args[len(ins.Symbols):])
		}
		v := Void
		switch len(rest) {
		case 0:
		case 1:
			v = rest[0]
		default:
			v = DynValue{typ: TypeTuple, ref: rest}
		}
		fr.locals[ins.Symbol.Index] = &v
	}
	p.truncate(fr.base)
}

// makeClosure implements OP_CLOSURE: captured locals share their cells
// with the creating frame.
func (p *Processor) makeClosure(fr *callFrame, ins *Instruction) DynValue {
	names := make([]string, len(ins.Symbols))
	cells := make([]*DynValue, len(ins.Symbols))
	for i, sym := range ins.Symbols {
		names[i] = sym.Name
		switch sym.Type {
		case symbols.SymbolLocal:
			cell := fr.locals[sym.Index]
			if cell == nil {
				cell = new(DynValue)
				*cell = Nil
				fr.locals[sym.Index] = cell
			}
			cells[i] = cell
		case symbols.SymbolUpvalue:
			cells[i] = fr.closure.context.cells[sym.Index]
		case symbols.SymbolDefaultEnv:
			env := NewTableValue(p.runtime.globals)
			cells[i] = &env
		default:
			diagnostics.Internalf("cannot capture %s", sym)
		}
	}
	return NewClosureValue(&Closure{
		Name:    ins.Name,
		Entry:   ins.NumVal,
		chunk:   fr.closure.chunk,
		context: newClosureContext(names, cells),
		runtime: p.runtime,
	})
}

// loadSymbol reads a variable.
func (p *Processor) loadSymbol(fr *callFrame, sym *symbols.SymbolRef, desc string) (DynValue, error) {
	switch sym.Type {
	case symbols.SymbolLocal:
		if cell := fr.locals[sym.Index]; cell != nil {
			return *cell, nil
		}
		return Nil, nil
	case symbols.SymbolUpvalue:
		return *fr.closure.context.cells[sym.Index], nil
	case symbols.SymbolDefaultEnv:
		return NewTableValue(p.runtime.globals), nil
	case symbols.SymbolGlobal:
		env, err := p.loadSymbol(fr, sym.Env, "")
		if err != nil {
			return Nil, err
		}
		return p.index(env, NewString(sym.Name), desc)
	}
	diagnostics.Internalf("unexpected symbol %s", sym)
	return Nil, nil
}

// storeSymbol writes a variable. define creates a fresh local cell, so
// closures from earlier iterations keep their own copy.
func (p *Processor) storeSymbol(fr *callFrame, sym *symbols.SymbolRef, v DynValue, define bool) error {
	v = v.ToScalar()
	switch sym.Type {
	case symbols.SymbolLocal:
		if define {
			if sym.IsToBeClosed() {
				if err := p.registerClose(fr, sym, v); err != nil {
					return err
				}
			}
			cell := v
			fr.locals[sym.Index] = &cell
			return nil
		}
		if cell := fr.locals[sym.Index]; cell != nil {
			*cell = v
			return nil
		}
		cell := v
		fr.locals[sym.Index] = &cell
		return nil
	case symbols.SymbolUpvalue:
		*fr.closure.context.cells[sym.Index] = v
		return nil
	case symbols.SymbolGlobal:
		env, err := p.loadSymbol(fr, sym.Env, "")
		if err != nil {
			return err
		}
		return p.setIndex(env, NewString(sym.Name), v, fmt.Sprintf("global '%s'", sym.Name))
	}
	diagnostics.Internalf("cannot assign to %s", sym)
	return nil
}
