package vm

import (
	"math"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
)

// exec executes a single instruction of the current frame
func (p *Processor) exec(fr *callFrame, ins *Instruction) error {
	switch ins.Op {
	case OP_NOP:

	case OP_POP:
		p.truncate(p.sp - ins.NumVal)

	case OP_COPY:
		p.push(p.peek(ins.NumVal))

	case OP_LITERAL:
		p.push(ins.Value)

	case OP_SCALAR:
		p.stack[p.sp-1] = p.peek(0).ToScalar()

	case OP_ADJUST:
		values := p.pop().TupleValues()
		for i := 0; i < ins.NumVal; i++ {
			if i < len(values) {
				p.push(values[i].ToScalar())
			} else {
				p.push(Nil)
			}
		}

	case OP_TUPLE:
		values := make([]DynValue, ins.NumVal)
		copy(values, p.stack[p.sp-ins.NumVal:p.sp])
		p.truncate(p.sp - ins.NumVal)
		p.push(NewTuple(values...))

	case OP_LOAD:
		v, err := p.loadSymbol(fr, ins.Symbol, ins.Desc)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_STORE:
		return p.storeSymbol(fr, ins.Symbol, p.pop(), ins.Define)

	case OP_CLOSURE:
		p.push(p.makeClosure(fr, ins))

	case OP_BEGINFN:
		fr.locals = make([]*DynValue, ins.Frame.Count())

	case OP_ARGS:
		p.bindArgs(fr, ins)

	case OP_CALL, OP_TAILCALL:
		argc := p.expandArgs(ins.NumVal)
		return p.call(p.sp-argc-1, argc, ins, p.ip, ins.Op == OP_TAILCALL)

	case OP_RET:
		result := Void
		if ins.NumVal > 0 {
			result = p.pop()
		}
		return p.returnFrame(result)

	case OP_METHOD:
		obj := p.pop()
		fn, err := p.index(obj, NewString(ins.Name), ins.Desc)
		if err != nil {
			return err
		}
		p.push(fn)
		p.push(obj)

	case OP_INDEX:
		var key DynValue
		if ins.Name != "" {
			key = NewString(ins.Name)
		} else {
			key = p.pop()
		}
		obj := p.pop()
		v, err := p.index(obj, key, ins.Desc)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_INDEXSET:
		value := p.pop()
		key := p.peek(ins.NumVal)
		obj := p.peek(ins.NumVal + 1)
		return p.setIndex(obj, key, value, ins.Desc)

	case OP_JMP:
		p.ip = ins.NumVal

	case OP_JF:
		if !p.pop().CastToBool() {
			p.ip = ins.NumVal
		}

	case OP_JTORPOP:
		if p.peek(0).CastToBool() {
			p.ip = ins.NumVal
		} else {
			p.pop()
		}

	case OP_JFORPOP:
		if !p.peek(0).CastToBool() {
			p.ip = ins.NumVal
		} else {
			p.pop()
		}

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD, OP_POW, OP_IDIV:
		b := p.pop()
		a := p.pop()
		if a.typ == TypeNumber && b.typ == TypeNumber {
			p.push(NewNumber(arithmetic(ins.Op, a.num, b.num)))
			return nil
		}
		v, err := p.arith(ins.Op, a, b, ins.Desc)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_NEG:
		a := p.pop()
		if n, ok := a.CastToNumber(); ok {
			p.push(NewNumber(-n))
			return nil
		}
		if h := p.metaMethod(a, config.MetaUnm); h.IsNotNil() {
			v, err := p.callMeta(h, a, a)
			if err != nil {
				return err
			}
			p.push(v)
			return nil
		}
		return diagnostics.NewRuntimeError("attempt to perform arithmetic on a %s value%s", a.TypeName(), describeOperand(ins.Desc))

	case OP_BAND, OP_BOR, OP_BXOR, OP_SHL, OP_SHR:
		b := p.pop()
		a := p.pop()
		v, err := p.bitwiseOp(ins.Op, a, b)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_BNOT:
		a := p.pop()
		v, err := p.bitwiseOp(OP_BNOT, a, a)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_CONCAT:
		b := p.pop()
		a := p.pop()
		v, err := p.concat(a, b)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_LEN:
		v, err := p.length(p.pop(), ins.Desc)
		if err != nil {
			return err
		}
		p.push(v)

	case OP_NOT:
		p.push(NewBoolean(!p.pop().CastToBool()))

	case OP_EQ:
		b := p.pop()
		a := p.pop()
		eq, err := p.equals(a, b)
		if err != nil {
			return err
		}
		p.push(NewBoolean(eq))

	case OP_LESS, OP_LESSEQ:
		b := p.pop()
		a := p.pop()
		if ins.NumVal2 == 1 {
			a, b = b, a
		}
		lt, err := p.less(a, b, ins.Op == OP_LESSEQ)
		if err != nil {
			return err
		}
		p.push(NewBoolean(lt))

	case OP_NEWTABLE:
		p.push(NewTableValue(NewTable()))

	case OP_TBLSET:
		value := p.pop()
		key := p.pop()
		if err := checkKey(key); err != nil {
			return diagnostics.NewRuntimeError("table %s", err.Error())
		}
		p.peek(0).Table().Set(key, value)

	case OP_TBLAPPEND:
		value := p.pop()
		t := p.peek(0).Table()
		if ins.NumVal2 == 1 {
			for i, v := range value.TupleValues() {
				t.SetInt(ins.NumVal+i, v)
			}
			return nil
		}
		t.SetInt(ins.NumVal, value.ToScalar())

	case OP_TONUM:
		return p.prepareNumericFor()

	case OP_JFOR:
		counter := p.stack[p.sp-3].num
		limit := p.stack[p.sp-2].num
		step := p.stack[p.sp-1].num
		if (step > 0 && counter > limit) || (step <= 0 && counter < limit) {
			p.ip = ins.NumVal
		}

	case OP_INCR:
		p.stack[p.sp-3] = NewNumber(p.stack[p.sp-3].num + p.stack[p.sp-1].num)

	case OP_ITERUPD:
		values := p.pop().TupleValues()
		first := Nil
		if len(values) > 0 {
			first = values[0].ToScalar()
		}
		if first.IsNil() {
			p.ip = ins.NumVal
			return nil
		}
		p.stack[p.sp-1] = first
		for i := 0; i < ins.NumVal2; i++ {
			if i < len(values) {
				p.push(values[i].ToScalar())
			} else {
				p.push(Nil)
			}
		}

	case OP_ENTER:
		b := ins.Block
		for slot := b.From; slot <= b.ToInclusive && slot < len(fr.locals); slot++ {
			if slot >= 0 {
				fr.locals[slot] = nil
			}
		}

	case OP_LEAVE, OP_EXIT:
		return p.closeRange(fr, ins.Block.From, ins.Block.ToInclusive, Nil)

	case OP_CLOSE:
		for i := len(ins.Symbols) - 1; i >= 0; i-- {
			slot := ins.Symbols[i].Index
			if err := p.closeRange(fr, slot, slot, Nil); err != nil {
				return err
			}
		}

	default:
		diagnostics.Internalf("unknown opcode %s", ins.Op)
	}
	return nil
}

// prepareNumericFor validates [start, limit, step] on top of the stack.
func (p *Processor) prepareNumericFor() error {
	checks := [3]string{"initial value", "limit", "step"}
	for i, what := range checks {
		v := p.stack[p.sp-3+i]
		if v.typ == TypeNumber {
			continue
		}
		if n, ok := v.CastToNumber(); ok && p.runtime.dialect < config.Lua54 {
			p.stack[p.sp-3+i] = NewNumber(n)
			continue
		}
		return diagnostics.NewRuntimeError("'for' %s must be a number", what)
	}
	step := p.stack[p.sp-1].num
	if step == 0 && p.runtime.dialect >= config.Lua54 {
		return diagnostics.NewRuntimeError("'for' step is zero")
	}
	if math.IsNaN(step) {
		// A NaN step never runs the body.
		p.stack[p.sp-2] = NewNumber(math.Inf(-1))
		p.stack[p.sp-1] = NewNumber(1)
	}
	return nil
}
