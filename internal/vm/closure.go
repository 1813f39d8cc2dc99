package vm

import (
	"github.com/funvibe/lunar/internal/config"
)

// UpvaluesType classifies what a closure captured.
type UpvaluesType int

const (
	UpvaluesNone UpvaluesType = iota
	// UpvaluesEnvironment: only _ENV was captured.
	UpvaluesEnvironment
	UpvaluesClosure
)

func (u UpvaluesType) String() string {
	switch u {
	case UpvaluesNone:
		return "None"
	case UpvaluesEnvironment:
		return "Environment"
	}
	return "Closure"
}

// ClosureContext holds the captured cells of a closure in capture order.
// It is immutable once built.
type ClosureContext struct {
	names []string
	cells []*DynValue
}

func newClosureContext(names []string, cells []*DynValue) *ClosureContext {
	return &ClosureContext{names: names, cells: cells}
}

// Len is the number of captured variables.
func (c *ClosureContext) Len() int { return len(c.cells) }

// Name returns the i-th captured name.
func (c *ClosureContext) Name(i int) string { return c.names[i] }

// Get reads the i-th captured variable.
func (c *ClosureContext) Get(i int) DynValue { return *c.cells[i] }

// Names returns a copy of the captured names.
func (c *ClosureContext) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Closure is a script function bound to its captured variables.
type Closure struct {
	Name  string
	Entry int

	chunk   *Chunk
	context *ClosureContext
	runtime *Runtime
}

// Context returns the captured variables.
func (c *Closure) Context() *ClosureContext { return c.context }

// Chunk returns the chunk holding the function's code.
func (c *Closure) Chunk() *Chunk { return c.chunk }

// Runtime returns the script instance the closure belongs to.
func (c *Closure) Runtime() *Runtime { return c.runtime }

// CapturedUpValuesType reports whether the closure captured nothing,
// only _ENV, or other variables.
func (c *Closure) CapturedUpValuesType() UpvaluesType {
	switch {
	case c.context.Len() == 0:
		return UpvaluesNone
	case c.context.Len() == 1 && c.context.Name(0) == config.EnvName:
		return UpvaluesEnvironment
	}
	return UpvaluesClosure
}

// Call invokes the closure on its runtime's main processor.
func (c *Closure) Call(args ...DynValue) (DynValue, error) {
	return c.runtime.Call(NewClosureValue(c), args...)
}

// CallbackFunction is the host callback ABI. The result may be a Tuple,
// a TailCallRequest or a YieldRequest.
type CallbackFunction func(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error)

// Callback is a named host function.
type Callback struct {
	Name string
	Fn   CallbackFunction
}

// Continuation receives the result of a tail call issued by a callback.
type Continuation func(ctx *ExecutionContext, result DynValue) (DynValue, error)

// ErrorHandler receives the error raised by a tail call issued by a
// callback. Its result replaces the failed call's result.
type ErrorHandler func(ctx *ExecutionContext, err error) (DynValue, error)

// TailCallData is the payload of a TailCallRequest.
type TailCallData struct {
	Function     DynValue
	Args         []DynValue
	Continuation Continuation
	ErrorHandler ErrorHandler
}

// YieldRequest is the payload returned by coroutine.yield.
type YieldRequest struct {
	Values []DynValue
}
