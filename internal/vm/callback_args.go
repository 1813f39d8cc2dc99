package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/funvibe/lunar/internal/diagnostics"
)

// CallbackArguments are the arguments of a host callback call. A trailing
// tuple is expanded.
type CallbackArguments struct {
	values []DynValue

	// IsMethodCall is set for obj:name(...) according to the colon policy.
	IsMethodCall bool
}

// NewCallbackArguments wraps values.
func NewCallbackArguments(values []DynValue, isMethodCall bool) *CallbackArguments {
	if n := len(values); n > 0 {
		if last := values[n-1]; last.typ == TypeTuple || last.typ == TypeVoid {
			values = NewTuple(values...).TupleValues()
		}
	}
	return &CallbackArguments{values: values, IsMethodCall: isMethodCall}
}

// Count is the number of arguments.
func (a *CallbackArguments) Count() int { return len(a.values) }

// Get returns the i-th argument (0-based) or nil.
func (a *CallbackArguments) Get(i int) DynValue {
	if i < 0 || i >= len(a.values) {
		return Nil
	}
	return a.values[i].ToScalar()
}

// Slice returns the arguments from i on.
func (a *CallbackArguments) Slice(from int) []DynValue {
	if from >= len(a.values) {
		return nil
	}
	return a.values[from:]
}

// Values returns all arguments.
func (a *CallbackArguments) Values() []DynValue { return a.values }

func badArgument(i int, funcName, format string, args ...interface{}) error {
	return diagnostics.NewRuntimeError("bad argument #%d to '%s' (%s)", i+1, funcName, fmt.Sprintf(format, args...))
}

func (a *CallbackArguments) gotName(i int) string {
	if i >= len(a.values) {
		return "no value"
	}
	return a.values[i].TypeName()
}

// Check verifies that argument i is present (nil counts).
func (a *CallbackArguments) Check(i int, funcName string) (DynValue, error) {
	if i >= len(a.values) {
		return Nil, badArgument(i, funcName, "value expected")
	}
	return a.Get(i), nil
}

// AsType returns argument i, checking its type.
func (a *CallbackArguments) AsType(i int, funcName string, t DataType, allowNil bool) (DynValue, error) {
	v := a.Get(i)
	if allowNil && v.IsNil() {
		return v, nil
	}
	if v.typ == t || t == TypeFunction && v.typ == TypeClrFunction {
		return v, nil
	}
	return Nil, badArgument(i, funcName, "%s expected, got %s", t, a.gotName(i))
}

// AsTable returns argument i as a table.
func (a *CallbackArguments) AsTable(i int, funcName string) (*Table, error) {
	v, err := a.AsType(i, funcName, TypeTable, false)
	if err != nil {
		return nil, err
	}
	return v.Table(), nil
}

// AsNumber returns argument i as a number, converting numeric strings.
func (a *CallbackArguments) AsNumber(i int, funcName string) (float64, error) {
	if n, ok := a.Get(i).CastToNumber(); ok {
		return n, nil
	}
	return 0, badArgument(i, funcName, "number expected, got %s", a.gotName(i))
}

// AsInt returns argument i as an integer.
func (a *CallbackArguments) AsInt(i int, funcName string) (int, error) {
	n, err := a.AsNumber(i, funcName)
	if err != nil {
		return 0, err
	}
	v, ok := toInteger(n)
	if !ok {
		return 0, badArgument(i, funcName, "number has no integer representation")
	}
	return int(v), nil
}

// OptInt is AsInt with a default for a nil or missing argument.
func (a *CallbackArguments) OptInt(i int, funcName string, def int) (int, error) {
	if a.Get(i).IsNil() {
		return def, nil
	}
	return a.AsInt(i, funcName)
}

// AsString returns argument i as a string, converting numbers.
func (a *CallbackArguments) AsString(i int, funcName string) (string, error) {
	if s, ok := a.Get(i).CastToString(); ok {
		return s, nil
	}
	return "", badArgument(i, funcName, "string expected, got %s", a.gotName(i))
}

// ExecutionContext is handed to host callbacks. It gives access to the
// calling processor for nested calls and metatable lookups.
type ExecutionContext struct {
	proc   *Processor
	caller *diagnostics.SourceRef
}

// Runtime returns the script instance.
func (e *ExecutionContext) Runtime() *Runtime { return e.proc.runtime }

// Processor returns the processor running the callback.
func (e *ExecutionContext) Processor() *Processor { return e.proc }

// Context returns the runtime's cancellation context.
func (e *ExecutionContext) Context() context.Context { return e.proc.runtime.Context() }

// Logger returns the runtime's logger.
func (e *ExecutionContext) Logger() *slog.Logger { return e.proc.runtime.Logger() }

// CallerLocation returns the source span of the call, if known.
func (e *ExecutionContext) CallerLocation() *diagnostics.SourceRef { return e.caller }

// Call invokes fn in a nested run loop. Coroutines cannot yield across it.
func (e *ExecutionContext) Call(fn DynValue, args ...DynValue) (DynValue, error) {
	return e.proc.Call(fn, args...)
}

// MetaMethod returns the named metamethod of v, or nil.
func (e *ExecutionContext) MetaMethod(v DynValue, name string) DynValue {
	return e.proc.metaMethod(v, name)
}

// ToString converts v the way tostring does, honoring __tostring.
func (e *ExecutionContext) ToString(v DynValue) (string, error) {
	return e.proc.toString(v)
}
