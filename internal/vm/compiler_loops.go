package vm

import (
	"github.com/funvibe/lunar/internal/ast"
)

func (c *Compiler) compileWhile(s *ast.WhileStatement) {
	start := c.here()
	var exit int
	c.withRef(s.Ref, func() {
		c.compileScalar(s.Condition)
		exit = c.emitOp(OP_JF, -1)
	})

	loop := c.pushLoop(s.Body.Scope)
	c.compileBlock(s.Body, nil)
	c.emitOp(OP_JMP, start)
	c.patch(exit)
	c.popLoop(loop)
}

// compileRepeat keeps the body block open while the condition runs, so
// the condition sees the body's locals.
func (c *Compiler) compileRepeat(s *ast.RepeatStatement) {
	rt := s.Body.Scope.Runtime()
	closing := rt.HasToBeClosed()

	start := c.here()
	c.withRef(s.Ref, func() { c.emitOp(OP_NOP, 0) })
	loop := c.pushLoop(s.Body.Scope)
	c.fs.blockDepth[s.Body.Scope] = c.fs.depth
	if closing {
		c.emit(Instruction{Op: OP_ENTER, Block: rt})
		c.fs.closeBlocks++
	}
	c.compileStatements(s.Body.Statements)
	c.withRef(s.UntilRef, func() {
		c.compileScalar(s.Condition)
		if closing {
			c.emit(Instruction{Op: OP_LEAVE, Block: rt})
		}
		c.emitOp(OP_JF, start)
	})
	if closing {
		c.fs.closeBlocks--
	}
	c.popLoop(loop)
}

func (c *Compiler) compileIf(s *ast.IfStatement) {
	var ends []int
	for i, clause := range s.Clauses {
		var next int
		c.withRef(clause.Ref, func() {
			c.compileScalar(clause.Condition)
			next = c.emitOp(OP_JF, -1)
		})
		c.compileBlock(clause.Body, nil)
		if i < len(s.Clauses)-1 || s.Else != nil {
			ends = append(ends, c.emitOp(OP_JMP, -1))
		}
		c.patch(next)
	}
	if s.Else != nil {
		c.compileBlock(s.Else, nil)
	}
	for _, addr := range ends {
		c.patch(addr)
	}
}

// compileNumericFor keeps [counter, limit, step] on the stack for the
// duration of the loop; the loop variable is a fresh copy per iteration.
func (c *Compiler) compileNumericFor(s *ast.NumericForStatement) {
	c.withRef(s.Ref, func() {
		c.compileScalar(s.Start)
		c.compileScalar(s.Stop)
		if s.Step != nil {
			c.compileScalar(s.Step)
		} else {
			c.emit(Instruction{Op: OP_LITERAL, Value: NewNumber(1)})
		}
		c.emitOp(OP_TONUM, 0)
	})
	c.fs.depth += 3

	start := c.here()
	exit := c.emit(Instruction{Op: OP_JFOR, NumVal: -1, Source: s.Ref})
	loop := c.pushLoop(s.Body.Scope)
	c.compileBlock(s.Body, func() {
		c.emitOp(OP_COPY, 2)
		c.emit(Instruction{Op: OP_STORE, Symbol: s.Var, Define: true})
	})
	c.emitOp(OP_INCR, 0)
	c.emitOp(OP_JMP, start)
	c.patch(exit)
	c.popLoop(loop)

	c.fs.depth -= 3
	c.emitOp(OP_POP, 3)
}

// compileGenericFor keeps [f, s, control] on the stack and calls f(s,
// control) before every iteration.
func (c *Compiler) compileGenericFor(s *ast.GenericForStatement) {
	c.withRef(s.Ref, func() {
		c.compileExpressionList(s.Exprs, 3)
	})
	c.fs.depth += 3

	start := c.here()
	c.emitOp(OP_COPY, 2)
	c.emitOp(OP_COPY, 2)
	c.emitOp(OP_COPY, 2)
	c.emit(Instruction{Op: OP_CALL, NumVal: 2, Desc: "for iterator 'for iterator'", Source: s.Ref})
	exit := c.emit(Instruction{Op: OP_ITERUPD, NumVal: -1, NumVal2: len(s.Names), Source: s.Ref})

	loop := c.pushLoop(s.Body.Scope)
	c.compileBlock(s.Body, func() {
		for i := len(s.Names) - 1; i >= 0; i-- {
			c.emit(Instruction{Op: OP_STORE, Symbol: s.Names[i], Define: true})
		}
	})
	c.emitOp(OP_JMP, start)
	c.patch(exit)
	c.popLoop(loop)

	c.fs.depth -= 3
	c.emitOp(OP_POP, 3)
}
