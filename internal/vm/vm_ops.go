package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
)

// metaTable returns the metatable of v, or nil.
func (p *Processor) metaTable(v DynValue) *Table {
	switch v.typ {
	case TypeTable:
		return v.Table().meta
	case TypeUserData:
		return v.UserData().meta
	case TypeString:
		return p.runtime.stringMeta
	}
	return nil
}

// metaMethod returns the named metamethod of v, or nil.
func (p *Processor) metaMethod(v DynValue, name string) DynValue {
	v = v.ToScalar()
	if mt := p.metaTable(v); mt != nil {
		if h := mt.GetStr(name); h.IsNotNil() {
			return h
		}
	}
	if v.typ == TypeUserData {
		if d := v.UserData().Descriptor; d != nil {
			return d.MetaMethod(name)
		}
	}
	return Nil
}

// callMeta calls a metamethod and truncates its result to one value.
func (p *Processor) callMeta(h DynValue, args ...DynValue) (DynValue, error) {
	res, err := p.Call(h, args...)
	if err != nil {
		return Nil, err
	}
	return res.ToScalar(), nil
}

// index reads obj[key], following __index.
func (p *Processor) index(obj, key DynValue, desc string) (DynValue, error) {
	for hops := 0; hops < config.MaxMetaChain; hops++ {
		var h DynValue
		switch obj.typ {
		case TypeTable:
			t := obj.Table()
			if v := t.Get(key); v.IsNotNil() {
				return v, nil
			}
			if t.meta == nil {
				return Nil, nil
			}
			if h = t.meta.GetStr(config.MetaIndex); h.IsNil() {
				return Nil, nil
			}
		case TypeUserData:
			u := obj.UserData()
			if u.Descriptor != nil {
				v, err := u.Descriptor.Index(&ExecutionContext{proc: p}, u.Object, key)
				if err != nil || v.IsNotNil() {
					return v, err
				}
			}
			h = p.metaMethod(obj, config.MetaIndex)
			if h.IsNil() {
				if u.Descriptor != nil {
					return Nil, nil
				}
				return Nil, indexError(obj, key, desc)
			}
		default:
			h = p.metaMethod(obj, config.MetaIndex)
			if h.IsNil() {
				return Nil, indexError(obj, key, desc)
			}
		}

		if h.IsCallable() {
			return p.callMeta(h, obj, key)
		}
		obj, desc = h, ""
	}
	return Nil, diagnostics.NewRuntimeError("'__index' chain too long; possible loop")
}

func indexError(obj, key DynValue, desc string) error {
	if desc == "" && key.typ == TypeString {
		desc = fmt.Sprintf("field '%s'", key.str)
	}
	return diagnostics.NewRuntimeError("attempt to index a %s value%s", obj.TypeName(), describeOperand(desc))
}

// setIndex writes obj[key] = value, following __newindex.
func (p *Processor) setIndex(obj, key, value DynValue, desc string) error {
	for hops := 0; hops < config.MaxMetaChain; hops++ {
		var h DynValue
		switch obj.typ {
		case TypeTable:
			t := obj.Table()
			if t.meta != nil && t.Get(key).IsNil() {
				h = t.meta.GetStr(config.MetaNewIndex)
			}
			if h.IsNil() {
				if err := checkKey(key); err != nil {
					return err
				}
				t.Set(key, value)
				return nil
			}
		case TypeUserData:
			u := obj.UserData()
			h = p.metaMethod(obj, config.MetaNewIndex)
			if h.IsNil() {
				if u.Descriptor == nil {
					return indexError(obj, key, desc)
				}
				return u.Descriptor.SetIndex(&ExecutionContext{proc: p}, u.Object, key, value)
			}
		default:
			h = p.metaMethod(obj, config.MetaNewIndex)
			if h.IsNil() {
				return indexError(obj, key, desc)
			}
		}

		if h.IsCallable() {
			_, err := p.Call(h, obj, key, value)
			return err
		}
		obj, desc = h, ""
	}
	return diagnostics.NewRuntimeError("'__newindex' chain too long; possible loop")
}

func checkKey(key DynValue) error {
	switch {
	case key.IsNil():
		return diagnostics.NewRuntimeError("index is nil")
	case key.typ == TypeNumber && math.IsNaN(key.num):
		return diagnostics.NewRuntimeError("index is NaN")
	}
	return nil
}

// arith applies an arithmetic opcode, falling back to metamethods.
func (p *Processor) arith(op Opcode, a, b DynValue, desc string) (DynValue, error) {
	x, okA := a.CastToNumber()
	y, okB := b.CastToNumber()
	if okA && okB {
		return NewNumber(arithmetic(op, x, y)), nil
	}
	if res, ok, err := p.binaryMeta(op, a, b); ok || err != nil {
		return res, err
	}
	bad := a
	if okA {
		bad = b
	}
	return Nil, diagnostics.NewRuntimeError("attempt to perform arithmetic on a %s value%s", bad.TypeName(), describeOperand(desc))
}

// bitwiseOp applies a bitwise opcode, falling back to metamethods.
func (p *Processor) bitwiseOp(op Opcode, a, b DynValue) (DynValue, error) {
	_, okA := a.CastToNumber()
	_, okB := b.CastToNumber()
	if !okA || !okB {
		if res, ok, err := p.binaryMeta(op, a, b); ok || err != nil {
			return res, err
		}
	}
	x, y, rerr := bitwiseOperands(a, b)
	if rerr != nil {
		return Nil, rerr
	}
	if op == OP_BNOT {
		return NewNumber(float64(^x)), nil
	}
	return NewNumber(float64(bitwise(op, x, y))), nil
}

// binaryMeta calls the metamethod of op found on a, or else on b.
func (p *Processor) binaryMeta(op Opcode, a, b DynValue) (DynValue, bool, error) {
	name := arithMetaName[op]
	h := p.metaMethod(a, name)
	if h.IsNil() {
		h = p.metaMethod(b, name)
	}
	if h.IsNil() {
		return Nil, false, nil
	}
	res, err := p.callMeta(h, a, b)
	return res, true, err
}

// concat joins two values, falling back to __concat.
func (p *Processor) concat(a, b DynValue) (DynValue, error) {
	x, okA := a.CastToString()
	y, okB := b.CastToString()
	if okA && okB {
		var sb strings.Builder
		sb.Grow(len(x) + len(y))
		sb.WriteString(x)
		sb.WriteString(y)
		return NewString(sb.String()), nil
	}
	if res, ok, err := p.binaryMeta(OP_CONCAT, a, b); ok || err != nil {
		return res, err
	}
	bad := a
	if okA {
		bad = b
	}
	return Nil, diagnostics.NewRuntimeError("attempt to concatenate a %s value", bad.TypeName())
}

// length implements the # operator.
func (p *Processor) length(v DynValue, desc string) (DynValue, error) {
	if v.typ == TypeString {
		return NewNumber(float64(len(v.str))), nil
	}
	if h := p.metaMethod(v, config.MetaLen); h.IsNotNil() {
		return p.callMeta(h, v)
	}
	if v.typ == TypeTable {
		return NewNumber(float64(v.Table().Length())), nil
	}
	return Nil, diagnostics.NewRuntimeError("attempt to get length of a %s value%s", v.TypeName(), describeOperand(desc))
}

// equals implements ==. __eq is consulted only for two tables or two
// userdata that are not raw equal.
func (p *Processor) equals(a, b DynValue) (bool, error) {
	if a.RawEquals(b) {
		return true, nil
	}
	if a.typ != b.typ || (a.typ != TypeTable && a.typ != TypeUserData) {
		return false, nil
	}
	h := p.metaMethod(a, config.MetaEq)
	if h.IsNil() {
		h = p.metaMethod(b, config.MetaEq)
	}
	if h.IsNil() {
		return false, nil
	}
	res, err := p.callMeta(h, a, b)
	return res.CastToBool(), err
}

// less implements < and, with orEqual, <=.
func (p *Processor) less(a, b DynValue, orEqual bool) (bool, error) {
	if a.typ == TypeNumber && b.typ == TypeNumber {
		if orEqual {
			return a.num <= b.num, nil
		}
		return a.num < b.num, nil
	}
	if a.typ == TypeString && b.typ == TypeString {
		if orEqual {
			return a.str <= b.str, nil
		}
		return a.str < b.str, nil
	}

	name := config.MetaLt
	if orEqual {
		name = config.MetaLe
	}
	h := p.metaMethod(a, name)
	if h.IsNil() {
		h = p.metaMethod(b, name)
	}
	if h.IsNotNil() {
		res, err := p.callMeta(h, a, b)
		return res.CastToBool(), err
	}

	if orEqual && p.runtime.dialect.LeFallsBackToLt() {
		h = p.metaMethod(b, config.MetaLt)
		if h.IsNil() {
			h = p.metaMethod(a, config.MetaLt)
		}
		if h.IsNotNil() {
			res, err := p.callMeta(h, b, a)
			return !res.CastToBool(), err
		}
	}
	return false, compareError(a, b)
}

func compareError(a, b DynValue) error {
	if a.TypeName() == b.TypeName() {
		return diagnostics.NewRuntimeError("attempt to compare two %s values", a.TypeName())
	}
	return diagnostics.NewRuntimeError("attempt to compare %s with %s", a.TypeName(), b.TypeName())
}

// toString converts v the way tostring does.
func (p *Processor) toString(v DynValue) (string, error) {
	v = v.ToScalar()
	if h := p.metaMethod(v, config.MetaToString); h.IsNotNil() {
		res, err := p.callMeta(h, v)
		if err != nil {
			return "", err
		}
		s, ok := res.CastToString()
		if !ok {
			return "", diagnostics.NewRuntimeError("'__tostring' must return a string")
		}
		return s, nil
	}
	if v.typ == TypeTable || v.typ == TypeUserData {
		if mt := p.metaTable(v); mt != nil {
			if name := mt.GetStr(config.MetaName); name.typ == TypeString {
				return fmt.Sprintf("%s: %p", name.str, v.ref), nil
			}
		}
	}
	if v.typ == TypeUserData && v.UserData().Descriptor != nil {
		return fmt.Sprintf("%s: %p", v.UserData().Descriptor.Name(), v.ref), nil
	}
	return v.String(), nil
}

// registerClose records a <close> local after checking it has __close.
func (p *Processor) registerClose(fr *callFrame, sym *symbols.SymbolRef, v DynValue) error {
	if v.IsNil() || (v.typ == TypeBoolean && !v.Boolean()) {
		return nil
	}
	if p.metaMethod(v, config.MetaClose).IsNil() {
		return diagnostics.NewRuntimeError("variable '%s' got a non-closable value", sym.Name)
	}
	fr.tbc = append(fr.tbc, tbcEntry{slot: sym.Index, name: sym.Name, value: v})
	return nil
}

// closeRange closes the <close> variables in slots [from, to], newest
// first. Every handler runs; the first error is returned.
func (p *Processor) closeRange(fr *callFrame, from, to int, errVal DynValue) error {
	var first error
	for i := len(fr.tbc) - 1; i >= 0; i-- {
		e := fr.tbc[i]
		if e.slot < from || e.slot > to {
			continue
		}
		fr.tbc = append(fr.tbc[:i], fr.tbc[i+1:]...)
		if err := p.closeValue(e, errVal); err != nil && first == nil {
			first = err
			errVal = errorValue(err)
		}
	}
	return first
}

// closeAll closes every <close> variable of the frame.
func (p *Processor) closeAll(fr *callFrame, errVal DynValue) error {
	if len(fr.tbc) == 0 {
		return nil
	}
	return p.closeRange(fr, math.MinInt, math.MaxInt, errVal)
}

func (p *Processor) closeValue(e tbcEntry, errVal DynValue) error {
	h := p.metaMethod(e.value, config.MetaClose)
	if h.IsNil() {
		return diagnostics.NewRuntimeError("metamethod 'close' of variable '%s' is not callable", e.name)
	}
	_, err := p.Call(h, e.value, errVal)
	return err
}

// RawGet reads t[key] without metamethods.
func (p *Processor) RawGet(t *Table, key DynValue) DynValue { return t.Get(key) }

// RawSet writes t[key] without metamethods.
func (p *Processor) RawSet(t *Table, key, value DynValue) error {
	if err := checkKey(key); err != nil {
		return err
	}
	t.Set(key, value)
	return nil
}

// RawEqual compares without metamethods.
func (p *Processor) RawEqual(a, b DynValue) bool { return a.RawEquals(b) }

// RawLen is the length without metamethods.
func (p *Processor) RawLen(v DynValue) (int, error) {
	switch v.typ {
	case TypeTable:
		return v.Table().Length(), nil
	case TypeString:
		return len(v.str), nil
	}
	return 0, diagnostics.NewRuntimeError("table or string expected")
}

// Index reads obj[key] with metamethods.
func (p *Processor) Index(obj, key DynValue) (DynValue, error) { return p.index(obj, key, "") }

// SetIndex writes obj[key] with metamethods.
func (p *Processor) SetIndex(obj, key, value DynValue) error { return p.setIndex(obj, key, value, "") }

// MetaMethod returns the named metamethod of v, or nil.
func (p *Processor) MetaMethod(v DynValue, name string) DynValue { return p.metaMethod(v, name) }
