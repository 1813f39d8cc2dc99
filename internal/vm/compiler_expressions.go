package vm

import (
	"fmt"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/diagnostics"
)

var binaryOpcodes = map[ast.Operator]Opcode{
	ast.OpAdd:    OP_ADD,
	ast.OpSub:    OP_SUB,
	ast.OpMul:    OP_MUL,
	ast.OpDiv:    OP_DIV,
	ast.OpMod:    OP_MOD,
	ast.OpPow:    OP_POW,
	ast.OpIDiv:   OP_IDIV,
	ast.OpBitAnd: OP_BAND,
	ast.OpBitOr:  OP_BOR,
	ast.OpBitXor: OP_BXOR,
	ast.OpShl:    OP_SHL,
	ast.OpShr:    OP_SHR,
	ast.OpConcat: OP_CONCAT,
}

var unaryOpcodes = map[ast.Operator]Opcode{
	ast.OpNeg:    OP_NEG,
	ast.OpNot:    OP_NOT,
	ast.OpLen:    OP_LEN,
	ast.OpBitNot: OP_BNOT,
}

// compileScalar compiles e and truncates multiple results to one.
func (c *Compiler) compileScalar(e ast.Expression) {
	c.compileExpression(e)
	if ast.IsMultiValue(e) {
		c.emitOp(OP_SCALAR, 0)
	}
}

// compileExpression leaves one value on the stack. Calls and varargs may
// leave a tuple.
func (c *Compiler) compileExpression(e ast.Expression) {
	if n, ok := FoldConstant(e); ok {
		c.emit(Instruction{Op: OP_LITERAL, Value: NewNumber(n)})
		return
	}

	switch x := e.(type) {
	case *ast.NilLiteral:
		c.emit(Instruction{Op: OP_LITERAL, Value: Nil})
	case *ast.BooleanLiteral:
		c.emit(Instruction{Op: OP_LITERAL, Value: NewBoolean(x.Value)})
	case *ast.NumberLiteral:
		c.emit(Instruction{Op: OP_LITERAL, Value: NewNumber(x.Value)})
	case *ast.StringLiteral:
		c.emit(Instruction{Op: OP_LITERAL, Value: NewString(x.Value)})
	case *ast.VarArgs:
		c.emit(Instruction{Op: OP_LOAD, Symbol: x.Symbol})
	case *ast.SymbolExpr:
		c.emit(Instruction{Op: OP_LOAD, Symbol: x.Symbol, Desc: describe(x), Source: tokenRef(x.Token)})
	case *ast.IndexExpr:
		c.compileScalar(x.Object)
		if x.Name != "" {
			c.emit(Instruction{Op: OP_INDEX, Name: x.Name, Desc: describe(x.Object), Source: x.Ref})
			return
		}
		c.compileScalar(x.Key)
		c.emit(Instruction{Op: OP_INDEX, Desc: describe(x.Object), Source: x.Ref})
	case *ast.CallExpr:
		c.compileCall(x, false)
	case *ast.FunctionExpr:
		c.compileFunction(x)
	case *ast.TableConstructor:
		c.compileTable(x)
	case *ast.ParenExpr:
		c.compileScalar(x.Inner)
	case *ast.BinaryExpr:
		c.compileBinary(x)
	case *ast.UnaryExpr:
		c.compileScalar(x.Operand)
		op, ok := unaryOpcodes[x.Operator]
		if !ok {
			diagnostics.Internalf("unknown unary operator %s", x.Operator)
		}
		c.emit(Instruction{Op: op, Desc: describe(x.Operand), Source: tokenRef(x.Token)})
	default:
		diagnostics.Internalf("unknown expression %T", e)
	}
}

// compileIndexKey pushes the key of an index expression.
func (c *Compiler) compileIndexKey(ie *ast.IndexExpr) {
	if ie.Name != "" {
		c.emit(Instruction{Op: OP_LITERAL, Value: NewString(ie.Name)})
		return
	}
	c.compileScalar(ie.Key)
}

func (c *Compiler) compileBinary(x *ast.BinaryExpr) {
	ref := tokenRef(x.Token)
	switch x.Operator {
	case ast.OpAnd, ast.OpOr:
		c.compileScalar(x.Left)
		op := OP_JFORPOP
		if x.Operator == ast.OpOr {
			op = OP_JTORPOP
		}
		skip := c.emitOp(op, -1)
		c.compileScalar(x.Right)
		c.patch(skip)
		return
	}

	c.compileScalar(x.Left)
	c.compileScalar(x.Right)
	switch x.Operator {
	case ast.OpEq:
		c.emit(Instruction{Op: OP_EQ, Source: ref})
	case ast.OpNotEq:
		c.emit(Instruction{Op: OP_EQ, Source: ref})
		c.emitOp(OP_NOT, 0)
	case ast.OpLess:
		c.emit(Instruction{Op: OP_LESS, Source: ref})
	case ast.OpGreater:
		c.emit(Instruction{Op: OP_LESS, NumVal2: 1, Source: ref})
	case ast.OpLessEq:
		c.emit(Instruction{Op: OP_LESSEQ, Source: ref})
	case ast.OpGreaterEq:
		c.emit(Instruction{Op: OP_LESSEQ, NumVal2: 1, Source: ref})
	default:
		op, ok := binaryOpcodes[x.Operator]
		if !ok {
			diagnostics.Internalf("unknown binary operator %s", x.Operator)
		}
		c.emit(Instruction{Op: op, Source: ref})
	}
}

// compileCall compiles f(args) or obj:m(args). In tail position it emits
// OP_TAILCALL followed by the OP_RET that returns a host callback's result.
func (c *Compiler) compileCall(call *ast.CallExpr, tail bool) {
	argc := len(call.Args)
	method := 0
	desc := describe(call.Function)
	if call.Method != "" {
		c.compileScalar(call.Function)
		desc = fmt.Sprintf("method '%s'", call.Method)
		c.emit(Instruction{Op: OP_METHOD, Name: call.Method, Desc: describe(call.Function), Source: call.Ref})
		argc++
		method = 1
	} else {
		c.compileScalar(call.Function)
	}

	for i, arg := range call.Args {
		if i == len(call.Args)-1 {
			c.compileExpression(arg)
		} else {
			c.compileScalar(arg)
		}
	}

	if tail {
		c.emit(Instruction{Op: OP_TAILCALL, NumVal: argc, NumVal2: method, Desc: desc, Source: call.Ref})
		c.emitOp(OP_RET, 1)
		return
	}
	c.emit(Instruction{Op: OP_CALL, NumVal: argc, NumVal2: method, Desc: desc, Source: call.Ref})
}

// compileFunction emits the body inline, behind a jump, followed by the
// OP_CLOSURE that instantiates it.
func (c *Compiler) compileFunction(fn *ast.FunctionExpr) {
	jump := c.emitOp(OP_JMP, -1)
	entry := c.emit(Instruction{Op: OP_BEGINFN, Frame: fn.Frame, Name: fn.Name, Source: fn.Begin})
	c.emit(Instruction{Op: OP_ARGS, Symbols: fn.Params, Symbol: fn.VarArgs, Source: fn.Begin})

	saved := c.fs
	c.fs = newFuncState()
	c.compileFunctionBody(fn.Body)
	c.emit(Instruction{Op: OP_RET, Source: fn.End})
	c.fs = saved

	c.patch(jump)
	c.emit(Instruction{Op: OP_CLOSURE, NumVal: entry, Symbols: fn.Upvalues.Symbols, Name: fn.Name})
}

func (c *Compiler) compileTable(tc *ast.TableConstructor) {
	c.emitOp(OP_NEWTABLE, 0)
	pos := 1
	for i, f := range tc.Fields {
		if f.Key != nil {
			c.compileScalar(f.Key)
			c.compileScalar(f.Value)
			c.emit(Instruction{Op: OP_TBLSET, Source: tokenRef(tc.Token)})
			continue
		}
		expand := i == len(tc.Fields)-1 && ast.IsMultiValue(f.Value)
		if expand {
			c.compileExpression(f.Value)
			c.emit(Instruction{Op: OP_TBLAPPEND, NumVal: pos, NumVal2: 1})
		} else {
			c.compileScalar(f.Value)
			c.emit(Instruction{Op: OP_TBLAPPEND, NumVal: pos})
		}
		pos++
	}
}
