package vm

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
)

// maxUnpack bounds the number of values unpack may return.
const maxUnpack = 1 << 20

// registerBaseLibrary installs the functions whose semantics the VM
// itself special-cases: protected calls, raw access, metatables and
// coroutines.
func registerBaseLibrary(rt *Runtime) {
	g := rt.globals
	g.SetStr(config.GlobalsName, NewTableValue(g))
	g.SetStr(config.VersionName, NewString(rt.dialect.Name()))

	builtins := map[string]CallbackFunction{
		"print":        basePrint,
		"type":         baseType,
		"tostring":     baseToString,
		"tonumber":     baseToNumber,
		"pcall":        basePCall,
		"xpcall":       baseXPCall,
		"error":        baseError,
		"assert":       baseAssert,
		"select":       baseSelect,
		"next":         baseNext,
		"pairs":        basePairs,
		"ipairs":       baseIPairs,
		"rawget":       baseRawGet,
		"rawset":       baseRawSet,
		"rawequal":     baseRawEqual,
		"rawlen":       baseRawLen,
		"setmetatable": baseSetMetatable,
		"getmetatable": baseGetMetatable,
	}
	for name, fn := range builtins {
		g.SetStr(name, NewCallback(name, fn))
	}

	table := NewTable()
	table.SetStr("unpack", NewCallback("unpack", baseUnpack))
	g.SetStr("table", NewTableValue(table))
	if rt.dialect == config.Lua52 {
		g.SetStr("unpack", NewCallback("unpack", baseUnpack))
	}

	co := NewTable()
	coroutines := map[string]CallbackFunction{
		"create":      coCreate,
		"resume":      coResume,
		"yield":       coYield,
		"status":      coStatus,
		"wrap":        coWrap,
		"running":     coRunning,
		"isyieldable": coIsYieldable,
	}
	for name, fn := range coroutines {
		co.SetStr(name, NewCallback(name, fn))
	}
	g.SetStr("coroutine", NewTableValue(co))
}

func basePrint(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	var sb strings.Builder
	for i := 0; i < args.Count(); i++ {
		if i > 0 {
			sb.WriteByte('\t')
		}
		s, err := ctx.ToString(args.Get(i))
		if err != nil {
			return Nil, err
		}
		sb.WriteString(s)
	}
	sb.WriteByte('\n')
	if _, err := io.WriteString(ctx.Runtime().Output(), sb.String()); err != nil {
		return Nil, diagnostics.WrapRuntimeError(err)
	}
	return Void, nil
}

func baseType(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "type")
	if err != nil {
		return Nil, err
	}
	return NewString(v.TypeName()), nil
}

func baseToString(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "tostring")
	if err != nil {
		return Nil, err
	}
	s, err := ctx.ToString(v)
	if err != nil {
		return Nil, err
	}
	return NewString(s), nil
}

func baseToNumber(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "tonumber")
	if err != nil {
		return Nil, err
	}
	if args.Get(1).IsNil() {
		if v.typ == TypeNumber {
			return v, nil
		}
		if v.typ == TypeString {
			if n, ok := v.CastToNumber(); ok {
				return NewNumber(n), nil
			}
		}
		return Nil, nil
	}

	base, err := args.AsInt(1, "tonumber")
	if err != nil {
		return Nil, err
	}
	if base < 2 || base > 36 {
		return Nil, badArgument(1, "tonumber", "base out of range")
	}
	s, err := args.AsString(0, "tonumber")
	if err != nil {
		return Nil, err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return Nil, nil
	}
	var n float64
	for _, r := range s {
		var d int
		switch {
		case r >= '0' && r <= '9':
			d = int(r - '0')
		case r >= 'a' && r <= 'z':
			d = int(r-'a') + 10
		default:
			return Nil, nil
		}
		if d >= base {
			return Nil, nil
		}
		n = n*float64(base) + float64(d)
	}
	if neg {
		n = -n
	}
	return NewNumber(n), nil
}

// basePCall runs the call as a tail call request so that neither errors
// nor yields cross a nested run loop.
func basePCall(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	fn, err := args.Check(0, "pcall")
	if err != nil {
		return Nil, err
	}
	return NewTailCallRequestData(&TailCallData{
		Function: fn,
		Args:     args.Slice(1),
		Continuation: func(_ *ExecutionContext, result DynValue) (DynValue, error) {
			return NewTuple(True, result), nil
		},
		ErrorHandler: func(_ *ExecutionContext, err error) (DynValue, error) {
			return NewTuple(False, errorValue(err)), nil
		},
	}), nil
}

func baseXPCall(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	fn, err := args.Check(0, "xpcall")
	if err != nil {
		return Nil, err
	}
	handler := args.Get(1)
	if handler.IsNil() {
		return Nil, badArgument(1, "xpcall", "value expected")
	}
	return NewTailCallRequestData(&TailCallData{
		Function: fn,
		Args:     args.Slice(2),
		Continuation: func(_ *ExecutionContext, result DynValue) (DynValue, error) {
			return NewTuple(True, result), nil
		},
		ErrorHandler: func(_ *ExecutionContext, err error) (DynValue, error) {
			return NewTailCallRequestData(&TailCallData{
				Function: handler,
				Args:     []DynValue{errorValue(err)},
				Continuation: func(_ *ExecutionContext, result DynValue) (DynValue, error) {
					return NewTuple(False, result.ToScalar()), nil
				},
				ErrorHandler: func(_ *ExecutionContext, err error) (DynValue, error) {
					return NewTuple(False, errorValue(err)), nil
				},
			}), nil
		},
	}), nil
}

// baseError raises its argument. String messages get the position of
// the requested level prepended; other values travel unchanged.
func baseError(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v := args.Get(0)
	level, err := args.OptInt(1, "error", 1)
	if err != nil {
		return Nil, err
	}
	if v.typ == TypeString && level > 0 {
		if loc := errorPosition(ctx, level); loc != "" {
			v = NewString(loc + ": " + v.str)
		}
	}
	msg, ok := v.CastToString()
	if !ok {
		if v.IsNil() {
			msg = "nil"
		} else {
			msg = fmt.Sprintf("(error object is a %s value)", v.TypeName())
		}
	}
	re := diagnostics.NewThrownError(msg, v)
	re.DoNotDecorate = true
	return Nil, re
}

// errorPosition locates level 1 (the caller of error) or level 2 (the
// caller's caller).
func errorPosition(ctx *ExecutionContext, level int) string {
	p := ctx.proc
	if len(p.frames) == 0 {
		return ""
	}
	fr := p.frame()
	ref := ctx.CallerLocation()
	if level >= 2 {
		idx := len(p.frames) - level
		if idx < 0 {
			return ""
		}
		ref = p.frames[idx+1].callSite
		fr = p.frames[idx]
	}
	if ref == nil {
		return ""
	}
	return ref.FormatLocation(fr.closure.chunk.Name)
}

func baseAssert(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "assert")
	if err != nil {
		return Nil, err
	}
	if v.CastToBool() {
		return NewTuple(args.Values()...), nil
	}
	if args.Count() < 2 {
		return Nil, diagnostics.NewRuntimeError("assertion failed!")
	}
	msg := args.Get(1)
	text, ok := msg.CastToString()
	if !ok {
		text = fmt.Sprintf("(error object is a %s value)", msg.TypeName())
	}
	re := diagnostics.NewThrownError(text, msg)
	re.DoNotDecorate = true
	return Nil, re
}

func baseSelect(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	if s := args.Get(0); s.typ == TypeString && s.str == "#" {
		return NewNumber(float64(args.Count() - 1)), nil
	}
	n, err := args.AsInt(0, "select")
	if err != nil {
		return Nil, err
	}
	rest := args.Slice(1)
	switch {
	case n < 0:
		n = len(rest) + n
		if n < 0 {
			return Nil, badArgument(0, "select", "index out of range")
		}
	case n == 0:
		return Nil, badArgument(0, "select", "index out of range")
	default:
		n--
	}
	if n >= len(rest) {
		return Void, nil
	}
	return NewTuple(rest[n:]...), nil
}

func baseNext(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	t, err := args.AsTable(0, "next")
	if err != nil {
		return Nil, err
	}
	k, v, ok := t.Next(args.Get(1))
	if !ok {
		return Nil, diagnostics.NewRuntimeError("invalid key to 'next'")
	}
	if k.IsNil() {
		return Nil, nil
	}
	return NewTuple(k, v), nil
}

var nextCallback = NewCallback("next", baseNext)

func basePairs(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "pairs")
	if err != nil {
		return Nil, err
	}
	if h := ctx.MetaMethod(v, config.MetaPairs); h.IsNotNil() {
		return NewTailCallRequestData(&TailCallData{
			Function: h,
			Args:     []DynValue{v},
			Continuation: func(_ *ExecutionContext, result DynValue) (DynValue, error) {
				values := result.TupleValues()
				out := make([]DynValue, 3)
				for i := range out {
					out[i] = Nil
					if i < len(values) {
						out[i] = values[i].ToScalar()
					}
				}
				return NewTuple(out...), nil
			},
		}), nil
	}
	if v.typ != TypeTable {
		return Nil, badArgument(0, "pairs", "table expected, got %s", args.gotName(0))
	}
	return NewTuple(nextCallback, v, Nil), nil
}

var ipairsIterator = NewCallback("ipairs_iterator", func(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	i, err := args.AsInt(1, "ipairs")
	if err != nil {
		return Nil, err
	}
	i++
	v, err := ctx.proc.index(args.Get(0), NewNumber(float64(i)), "")
	if err != nil {
		return Nil, err
	}
	if v.IsNil() {
		return Nil, nil
	}
	return NewTuple(NewNumber(float64(i)), v), nil
})

func baseIPairs(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "ipairs")
	if err != nil {
		return Nil, err
	}
	return NewTuple(ipairsIterator, v, NewNumber(0)), nil
}

func baseRawGet(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	t, err := args.AsTable(0, "rawget")
	if err != nil {
		return Nil, err
	}
	return ctx.proc.RawGet(t, args.Get(1)), nil
}

func baseRawSet(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	t, err := args.AsTable(0, "rawset")
	if err != nil {
		return Nil, err
	}
	if err := ctx.proc.RawSet(t, args.Get(1), args.Get(2)); err != nil {
		return Nil, err
	}
	return args.Get(0), nil
}

func baseRawEqual(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	if args.Count() < 2 {
		return Nil, badArgument(args.Count(), "rawequal", "value expected")
	}
	return NewBoolean(ctx.proc.RawEqual(args.Get(0), args.Get(1))), nil
}

func baseRawLen(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	n, err := ctx.proc.RawLen(args.Get(0))
	if err != nil {
		return Nil, badArgument(0, "rawlen", "table or string expected")
	}
	return NewNumber(float64(n)), nil
}

func baseSetMetatable(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	t, err := args.AsTable(0, "setmetatable")
	if err != nil {
		return Nil, err
	}
	mv := args.Get(1)
	if args.Count() < 2 || (mv.typ != TypeTable && !mv.IsNil()) {
		return Nil, badArgument(1, "setmetatable", "nil or table expected")
	}
	if err := t.SetMetaTable(mv.Table()); err != nil {
		return Nil, err
	}
	return args.Get(0), nil
}

func baseGetMetatable(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	mt := ctx.proc.metaTable(args.Get(0))
	if mt == nil {
		return Nil, nil
	}
	if protected := mt.GetStr(config.MetaMeta); protected.IsNotNil() {
		return protected, nil
	}
	return NewTableValue(mt), nil
}

func baseUnpack(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	v, err := args.Check(0, "unpack")
	if err != nil {
		return Nil, err
	}
	from, err := args.OptInt(1, "unpack", 1)
	if err != nil {
		return Nil, err
	}
	var to int
	if args.Get(2).IsNil() {
		n, err := ctx.proc.length(v, "")
		if err != nil {
			return Nil, err
		}
		f, ok := n.CastToNumber()
		if !ok || f != math.Trunc(f) {
			return Nil, diagnostics.NewRuntimeError("object length is not an integer")
		}
		to = int(f)
	} else if to, err = args.AsInt(2, "unpack"); err != nil {
		return Nil, err
	}
	if from > to {
		return Void, nil
	}
	if to-from >= maxUnpack {
		return Nil, diagnostics.NewRuntimeError("too many results to unpack")
	}
	out := make([]DynValue, 0, to-from+1)
	for i := from; i <= to; i++ {
		e, err := ctx.proc.index(v, NewNumber(float64(i)), "")
		if err != nil {
			return Nil, err
		}
		out = append(out, e)
	}
	return NewTuple(out...), nil
}

func coCreate(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	fn, err := args.AsType(0, "create", TypeFunction, false)
	if err != nil {
		return Nil, err
	}
	return NewCoroutineValue(ctx.Runtime().NewCoroutine(fn)), nil
}

func argCoroutine(args *CallbackArguments, funcName string) (*Coroutine, error) {
	v, err := args.AsType(0, funcName, TypeThread, false)
	if err != nil {
		return nil, err
	}
	return v.Coroutine(), nil
}

// resumeFrom resumes co, marking the running coroutine as normal while
// co runs.
func resumeFrom(ctx *ExecutionContext, co *Coroutine, args []DynValue) (DynValue, error) {
	if cur := ctx.proc.coroutine; cur != nil {
		cur.status = CoroutineNormal
		defer func() { cur.status = CoroutineRunning }()
	}
	return co.Resume(args...)
}

func coResume(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	co, err := argCoroutine(args, "resume")
	if err != nil {
		return Nil, err
	}
	result, err := resumeFrom(ctx, co, args.Slice(1))
	if err != nil {
		if isFatal(err) {
			return Nil, err
		}
		return NewTuple(False, errorValue(err)), nil
	}
	return NewTuple(True, result), nil
}

func coYield(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	values := make([]DynValue, args.Count())
	copy(values, args.Values())
	return NewYieldRequest(values), nil
}

func coStatus(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	co, err := argCoroutine(args, "status")
	if err != nil {
		return Nil, err
	}
	return NewString(co.Status().String()), nil
}

func coWrap(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
	fn, err := args.AsType(0, "wrap", TypeFunction, false)
	if err != nil {
		return Nil, err
	}
	co := ctx.Runtime().NewCoroutine(fn)
	return NewCallback("wrap", func(ctx *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		return resumeFrom(ctx, co, args.Values())
	}), nil
}

func coRunning(ctx *ExecutionContext, _ *CallbackArguments) (DynValue, error) {
	if co := ctx.proc.coroutine; co != nil {
		return NewTuple(NewCoroutineValue(co), False), nil
	}
	return NewTuple(NewCoroutineValue(ctx.Runtime().mainCoroutine), True), nil
}

func coIsYieldable(ctx *ExecutionContext, _ *CallbackArguments) (DynValue, error) {
	return NewBoolean(ctx.proc.CanYield()), nil
}
