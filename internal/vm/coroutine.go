package vm

import (
	"github.com/funvibe/lunar/internal/diagnostics"
)

// CoroutineState is the status reported by coroutine.status.
type CoroutineState int

const (
	CoroutineSuspended CoroutineState = iota
	CoroutineRunning
	// CoroutineNormal is a coroutine that resumed another one.
	CoroutineNormal
	CoroutineDead
)

func (s CoroutineState) String() string {
	switch s {
	case CoroutineSuspended:
		return "suspended"
	case CoroutineRunning:
		return "running"
	case CoroutineNormal:
		return "normal"
	}
	return "dead"
}

// Coroutine runs a function on its own processor. Resume and yield are
// strictly nested: the resumer waits until the coroutine yields, returns
// or fails.
type Coroutine struct {
	proc    *Processor
	fn      DynValue
	status  CoroutineState
	isMain  bool
	started bool
}

// NewCoroutine creates a suspended coroutine running fn.
func (rt *Runtime) NewCoroutine(fn DynValue) *Coroutine {
	co := &Coroutine{fn: fn, status: CoroutineSuspended}
	co.proc = newProcessor(rt, co)
	rt.logger.DebugContext(rt.ctx, "coroutine created", "function", fn.String())
	return co
}

// Status returns the coroutine's state.
func (c *Coroutine) Status() CoroutineState { return c.status }

// IsMain reports the coroutine standing for the main processor.
func (c *Coroutine) IsMain() bool { return c.isMain }

// Processor returns the processor the coroutine runs on.
func (c *Coroutine) Processor() *Processor { return c.proc }

// Resume runs the coroutine until it yields, returns or fails. On the
// first resume args are the function's arguments; later they become the
// results of the pending yield. A failed coroutine is dead and the error
// is returned.
func (c *Coroutine) Resume(args ...DynValue) (result DynValue, err error) {
	switch c.status {
	case CoroutineDead:
		return Nil, diagnostics.NewRuntimeError("cannot resume dead coroutine")
	case CoroutineRunning, CoroutineNormal:
		return Nil, diagnostics.NewRuntimeError("cannot resume non-suspended coroutine")
	}

	p := c.proc
	c.status = CoroutineRunning
	p.loopDepth++
	defer func() {
		p.loopDepth--
		if r := recover(); r != nil {
			c.status = CoroutineDead
			panic(r)
		}
	}()

	if !c.started {
		c.started = true
		p.push(c.fn)
		for _, a := range args {
			p.push(a)
		}
		err = p.call(0, p.expandArgs(len(args)), nil, -1, false)
	} else {
		s := p.suspended
		p.suspended = nil
		err = p.resolve(NewTuple(args...), nil, s.pending, s.base, s.retAddr)
	}
	if err != nil {
		err = p.unwind(err, 0)
	}
	if err == nil {
		result, err = p.execute(0)
	}

	switch {
	case err == errYield:
		c.status = CoroutineSuspended
		return NewTuple(p.suspended.values...), nil
	case err != nil:
		c.status = CoroutineDead
		p.frames = p.frames[:0]
		p.truncate(0)
		return Nil, err
	}
	c.status = CoroutineDead
	return result, nil
}
