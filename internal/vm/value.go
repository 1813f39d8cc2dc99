package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/funvibe/lunar/internal/lexer"
)

// DataType identifies the type of value stored in a DynValue.
type DataType uint8

const (
	TypeNil DataType = iota
	// TypeVoid is the result of a function that returned nothing. It reads
	// as nil everywhere except in multiple-value expansion.
	TypeVoid
	TypeBoolean
	TypeNumber
	TypeString
	TypeFunction
	TypeClrFunction
	TypeTable
	TypeUserData
	TypeThread
	TypeTuple
	TypeTailCallRequest
	TypeYieldRequest
)

var typeNames = [...]string{
	TypeNil:             "nil",
	TypeVoid:            "nil",
	TypeBoolean:         "boolean",
	TypeNumber:          "number",
	TypeString:          "string",
	TypeFunction:        "function",
	TypeClrFunction:     "function",
	TypeTable:           "table",
	TypeUserData:        "userdata",
	TypeThread:          "thread",
	TypeTuple:           "tuple",
	TypeTailCallRequest: "tailcallrequest",
	TypeYieldRequest:    "yieldrequest",
}

// String returns the script-visible type name.
func (t DataType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "?"
}

// DynValue is a tagged union over all script values. It is a small value
// type: copy it freely. Reference types (tables, closures, userdata,
// coroutines) share their payload.
type DynValue struct {
	typ DataType
	num float64 // number, or 1/0 for booleans
	str string
	ref interface{}
}

var (
	Nil   = DynValue{typ: TypeNil}
	Void  = DynValue{typ: TypeVoid}
	True  = DynValue{typ: TypeBoolean, num: 1}
	False = DynValue{typ: TypeBoolean}
)

func NewBoolean(b bool) DynValue {
	if b {
		return True
	}
	return False
}

func NewNumber(n float64) DynValue { return DynValue{typ: TypeNumber, num: n} }

func NewString(s string) DynValue { return DynValue{typ: TypeString, str: s} }

func NewTableValue(t *Table) DynValue { return DynValue{typ: TypeTable, ref: t} }

func NewClosureValue(c *Closure) DynValue { return DynValue{typ: TypeFunction, ref: c} }

func NewCallbackValue(cb *Callback) DynValue { return DynValue{typ: TypeClrFunction, ref: cb} }

// NewCallback wraps a host function.
func NewCallback(name string, fn CallbackFunction) DynValue {
	return NewCallbackValue(&Callback{Name: name, Fn: fn})
}

func NewUserDataValue(u *UserData) DynValue { return DynValue{typ: TypeUserData, ref: u} }

func NewCoroutineValue(c *Coroutine) DynValue { return DynValue{typ: TypeThread, ref: c} }

// NewTuple packs values for multiple returns. A trailing tuple is
// flattened; a single value is returned as is.
func NewTuple(values ...DynValue) DynValue {
	if n := len(values); n > 0 {
		if last := values[n-1]; last.typ == TypeTuple || last.typ == TypeVoid {
			flat := make([]DynValue, 0, n-1+len(last.TupleValues()))
			flat = append(flat, values[:n-1]...)
			values = append(flat, last.TupleValues()...)
		}
	}
	switch len(values) {
	case 0:
		return Void
	case 1:
		return values[0]
	}
	return DynValue{typ: TypeTuple, ref: values}
}

// NewTailCallRequest asks the VM to call fn with args once the current
// callback has returned.
func NewTailCallRequest(fn DynValue, args ...DynValue) DynValue {
	return DynValue{typ: TypeTailCallRequest, ref: &TailCallData{Function: fn, Args: args}}
}

// NewTailCallRequestData is NewTailCallRequest with continuation and
// error handler callbacks.
func NewTailCallRequestData(data *TailCallData) DynValue {
	return DynValue{typ: TypeTailCallRequest, ref: data}
}

// NewYieldRequest asks the VM to suspend the running coroutine.
func NewYieldRequest(values []DynValue) DynValue {
	return DynValue{typ: TypeYieldRequest, ref: &YieldRequest{Values: values}}
}

// Type returns the value's data type.
func (v DynValue) Type() DataType { return v.typ }

// TypeName returns the name reported by type().
func (v DynValue) TypeName() string { return v.typ.String() }

func (v DynValue) Number() float64 { return v.num }
func (v DynValue) Str() string     { return v.str }
func (v DynValue) Boolean() bool   { return v.num != 0 }

func (v DynValue) Table() *Table {
	t, _ := v.ref.(*Table)
	return t
}

func (v DynValue) Closure() *Closure {
	c, _ := v.ref.(*Closure)
	return c
}

func (v DynValue) Callback() *Callback {
	c, _ := v.ref.(*Callback)
	return c
}

func (v DynValue) UserData() *UserData {
	u, _ := v.ref.(*UserData)
	return u
}

func (v DynValue) Coroutine() *Coroutine {
	c, _ := v.ref.(*Coroutine)
	return c
}

func (v DynValue) TailCallData() *TailCallData {
	d, _ := v.ref.(*TailCallData)
	return d
}

func (v DynValue) YieldRequest() *YieldRequest {
	y, _ := v.ref.(*YieldRequest)
	return y
}

// TupleValues returns the values of a tuple, none for Void, and the value
// itself otherwise.
func (v DynValue) TupleValues() []DynValue {
	switch v.typ {
	case TypeTuple:
		return v.ref.([]DynValue)
	case TypeVoid:
		return nil
	}
	return []DynValue{v}
}

// IsNil reports nil and void.
func (v DynValue) IsNil() bool { return v.typ == TypeNil || v.typ == TypeVoid }

func (v DynValue) IsNotNil() bool { return !v.IsNil() }

// IsCallable reports functions and host callbacks (not __call).
func (v DynValue) IsCallable() bool { return v.typ == TypeFunction || v.typ == TypeClrFunction }

// CastToBool applies script truthiness: only nil and false are false.
func (v DynValue) CastToBool() bool {
	switch v.typ {
	case TypeNil, TypeVoid:
		return false
	case TypeBoolean:
		return v.num != 0
	case TypeTuple:
		return v.ToScalar().CastToBool()
	}
	return true
}

// ToScalar truncates tuples to their first value.
func (v DynValue) ToScalar() DynValue {
	switch v.typ {
	case TypeTuple:
		return v.ref.([]DynValue)[0]
	case TypeVoid:
		return Nil
	}
	return v
}

// CastToNumber converts numbers and numeric strings.
func (v DynValue) CastToNumber() (float64, bool) {
	switch v.typ {
	case TypeNumber:
		return v.num, true
	case TypeString:
		return lexer.ParseNumber(v.str)
	}
	return 0, false
}

// CastToString converts strings and numbers.
func (v DynValue) CastToString() (string, bool) {
	switch v.typ {
	case TypeString:
		return v.str, true
	case TypeNumber:
		return FormatNumber(v.num), true
	}
	return "", false
}

// RawEquals compares without metamethods.
func (v DynValue) RawEquals(o DynValue) bool {
	if v.IsNil() && o.IsNil() {
		return true
	}
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeBoolean, TypeNumber:
		return v.num == o.num
	case TypeString:
		return v.str == o.str
	}
	return v.ref == o.ref
}

// String is the tostring() form without metamethods.
func (v DynValue) String() string {
	switch v.typ {
	case TypeNil, TypeVoid:
		return "nil"
	case TypeBoolean:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case TypeNumber:
		return FormatNumber(v.num)
	case TypeString:
		return v.str
	case TypeFunction:
		return fmt.Sprintf("function: %p", v.ref)
	case TypeClrFunction:
		return fmt.Sprintf("function: builtin: %p", v.ref)
	case TypeTable:
		return fmt.Sprintf("table: %p", v.ref)
	case TypeUserData:
		return fmt.Sprintf("userdata: %p", v.ref)
	case TypeThread:
		return fmt.Sprintf("thread: %p", v.ref)
	case TypeTuple:
		parts := make([]string, 0, len(v.TupleValues()))
		for _, e := range v.TupleValues() {
			parts = append(parts, e.String())
		}
		return strings.Join(parts, "\t")
	}
	return "(" + v.typ.String() + ")"
}

// FormatNumber renders numbers the way print and concatenation do:
// integral values below 1e15 in magnitude print without a fraction.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		if math.Signbit(n) {
			return "-nan"
		}
		return "nan"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	case n == math.Trunc(n) && math.Abs(n) < 1e15:
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// toInteger returns the exact int64 value of n, if there is one.
func toInteger(n float64) (int64, bool) {
	if n != math.Trunc(n) || n < -9223372036854775808 || n >= 9223372036854775808 {
		return 0, false
	}
	return int64(n), true
}
