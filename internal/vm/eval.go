package vm

import (
	"fmt"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/parser"
)

// FoldConstant evaluates arithmetic over numeric literals at compile
// time. Bitwise operators are left to the VM, which reports float
// operands at run time.
func FoldConstant(e ast.Expression) (float64, bool) {
	switch x := e.(type) {
	case *ast.NumberLiteral:
		return x.Value, true
	case *ast.ParenExpr:
		return FoldConstant(x.Inner)
	case *ast.UnaryExpr:
		if x.Operator != ast.OpNeg {
			return 0, false
		}
		n, ok := FoldConstant(x.Operand)
		return -n, ok
	case *ast.BinaryExpr:
		if !x.Operator.IsArithmetic() {
			return 0, false
		}
		op, ok := binaryOpcodes[x.Operator]
		if !ok {
			return 0, false
		}
		a, ok := FoldConstant(x.Left)
		if !ok {
			return 0, false
		}
		b, ok := FoldConstant(x.Right)
		if !ok {
			return 0, false
		}
		return arithmetic(op, a, b), true
	}
	return 0, false
}

// Eval evaluates a dynamic expression. Names resolve against the
// globals; locals, varargs and function literals are rejected by the
// parser.
func (rt *Runtime) Eval(src string) (DynValue, error) {
	expr, err := parser.ParseDynamicExpression(src, rt.dialect)
	if err != nil {
		return Nil, err
	}
	return rt.EvalExpression(expr)
}

// EvalExpression evaluates a parsed dynamic expression.
func (rt *Runtime) EvalExpression(e ast.Expression) (result DynValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *diagnostics.InternalError:
				result, err = Nil, x
			case *diagnostics.RuntimeError:
				result, err = Nil, x
			default:
				panic(r)
			}
		}
	}()
	ev := &exprEvaluator{p: rt.main}
	return ev.eval(e)
}

type exprEvaluator struct {
	p *Processor
}

func (ev *exprEvaluator) scalar(e ast.Expression) (DynValue, error) {
	v, err := ev.eval(e)
	return v.ToScalar(), err
}

func (ev *exprEvaluator) eval(e ast.Expression) (DynValue, error) {
	if n, ok := FoldConstant(e); ok {
		return NewNumber(n), nil
	}

	switch x := e.(type) {
	case *ast.NilLiteral:
		return Nil, nil
	case *ast.BooleanLiteral:
		return NewBoolean(x.Value), nil
	case *ast.NumberLiteral:
		return NewNumber(x.Value), nil
	case *ast.StringLiteral:
		return NewString(x.Value), nil
	case *ast.SymbolExpr:
		env := NewTableValue(ev.p.runtime.globals)
		return ev.p.index(env, NewString(x.Name), fmt.Sprintf("global '%s'", x.Name))
	case *ast.ParenExpr:
		return ev.scalar(x.Inner)
	case *ast.IndexExpr:
		obj, err := ev.scalar(x.Object)
		if err != nil {
			return Nil, err
		}
		key := NewString(x.Name)
		if x.Name == "" {
			if key, err = ev.scalar(x.Key); err != nil {
				return Nil, err
			}
		}
		return ev.p.index(obj, key, describe(x.Object))
	case *ast.CallExpr:
		return ev.call(x)
	case *ast.TableConstructor:
		return ev.table(x)
	case *ast.BinaryExpr:
		return ev.binary(x)
	case *ast.UnaryExpr:
		return ev.unary(x)
	}
	ref := tokenRef(e.GetToken())
	return Nil, &diagnostics.DynamicExpressionError{
		Message: fmt.Sprintf("%T is not supported in dynamic expressions", e),
		Source:  ref,
	}
}

func (ev *exprEvaluator) list(exprs []ast.Expression) ([]DynValue, error) {
	values := make([]DynValue, 0, len(exprs))
	for i, a := range exprs {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		if i == len(exprs)-1 && ast.IsMultiValue(a) {
			values = append(values, v.TupleValues()...)
			continue
		}
		values = append(values, v.ToScalar())
	}
	return values, nil
}

func (ev *exprEvaluator) call(x *ast.CallExpr) (DynValue, error) {
	target, err := ev.scalar(x.Function)
	if err != nil {
		return Nil, err
	}
	args, err := ev.list(x.Args)
	if err != nil {
		return Nil, err
	}
	fn := target
	if x.Method != "" {
		if fn, err = ev.p.index(target, NewString(x.Method), describe(x.Function)); err != nil {
			return Nil, err
		}
		args = append([]DynValue{target}, args...)
	}
	return ev.p.Call(fn, args...)
}

func (ev *exprEvaluator) table(x *ast.TableConstructor) (DynValue, error) {
	t := NewTable()
	pos := 1
	for i, f := range x.Fields {
		if f.Key != nil {
			k, err := ev.scalar(f.Key)
			if err != nil {
				return Nil, err
			}
			v, err := ev.scalar(f.Value)
			if err != nil {
				return Nil, err
			}
			if err := checkKey(k); err != nil {
				return Nil, diagnostics.NewRuntimeError("table %s", err.Error())
			}
			t.Set(k, v)
			continue
		}
		v, err := ev.eval(f.Value)
		if err != nil {
			return Nil, err
		}
		if i == len(x.Fields)-1 && ast.IsMultiValue(f.Value) {
			for _, e := range v.TupleValues() {
				t.SetInt(pos, e)
				pos++
			}
			continue
		}
		t.SetInt(pos, v.ToScalar())
		pos++
	}
	return NewTableValue(t), nil
}

func (ev *exprEvaluator) binary(x *ast.BinaryExpr) (DynValue, error) {
	a, err := ev.scalar(x.Left)
	if err != nil {
		return Nil, err
	}
	switch x.Operator {
	case ast.OpAnd:
		if !a.CastToBool() {
			return a, nil
		}
		return ev.scalar(x.Right)
	case ast.OpOr:
		if a.CastToBool() {
			return a, nil
		}
		return ev.scalar(x.Right)
	}

	b, err := ev.scalar(x.Right)
	if err != nil {
		return Nil, err
	}
	p := ev.p
	switch x.Operator {
	case ast.OpEq, ast.OpNotEq:
		eq, err := p.equals(a, b)
		return NewBoolean(eq == (x.Operator == ast.OpEq)), err
	case ast.OpLess:
		lt, err := p.less(a, b, false)
		return NewBoolean(lt), err
	case ast.OpGreater:
		lt, err := p.less(b, a, false)
		return NewBoolean(lt), err
	case ast.OpLessEq:
		le, err := p.less(a, b, true)
		return NewBoolean(le), err
	case ast.OpGreaterEq:
		le, err := p.less(b, a, true)
		return NewBoolean(le), err
	case ast.OpConcat:
		return p.concat(a, b)
	}

	op, ok := binaryOpcodes[x.Operator]
	if !ok {
		diagnostics.Internalf("unknown binary operator %s", x.Operator)
	}
	if x.Operator.IsBitwise() {
		return p.bitwiseOp(op, a, b)
	}
	return p.arith(op, a, b, describe(x.Right))
}

func (ev *exprEvaluator) unary(x *ast.UnaryExpr) (DynValue, error) {
	a, err := ev.scalar(x.Operand)
	if err != nil {
		return Nil, err
	}
	p := ev.p
	switch x.Operator {
	case ast.OpNot:
		return NewBoolean(!a.CastToBool()), nil
	case ast.OpLen:
		return p.length(a, describe(x.Operand))
	case ast.OpBitNot:
		return p.bitwiseOp(OP_BNOT, a, a)
	case ast.OpNeg:
		if n, ok := a.CastToNumber(); ok {
			return NewNumber(-n), nil
		}
		if h := p.metaMethod(a, config.MetaUnm); h.IsNotNil() {
			return p.callMeta(h, a, a)
		}
		return Nil, diagnostics.NewRuntimeError("attempt to perform arithmetic on a %s value%s", a.TypeName(), describeOperand(describe(x.Operand)))
	}
	diagnostics.Internalf("unknown unary operator %s", x.Operator)
	return Nil, nil
}
