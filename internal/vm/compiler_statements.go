package vm

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
)

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.LocalStatement:
		c.withRef(s.Ref, func() { c.compileLocal(s) })
	case *ast.AssignStatement:
		c.withRef(s.Ref, func() { c.compileAssign(s) })
	case *ast.CallStatement:
		c.withRef(s.Ref, func() {
			c.compileCall(s.Call, false)
			c.emitOp(OP_POP, 1)
		})
	case *ast.DoStatement:
		c.compileBlock(s.Body, nil)
	case *ast.WhileStatement:
		c.compileWhile(s)
	case *ast.RepeatStatement:
		c.compileRepeat(s)
	case *ast.IfStatement:
		c.compileIf(s)
	case *ast.NumericForStatement:
		c.compileNumericFor(s)
	case *ast.GenericForStatement:
		c.compileGenericFor(s)
	case *ast.FunctionStatement:
		c.withRef(s.Ref, func() { c.compileFunctionStatement(s) })
	case *ast.ReturnStatement:
		c.withRef(s.Ref, func() { c.compileReturn(s) })
	case *ast.BreakStatement:
		c.withRef(s.Ref, func() { c.compileBreak(s) })
	case *ast.GotoStatement:
		c.withRef(s.Ref, func() { c.compileGoto(s) })
	case *ast.LabelStatement:
		c.compileLabel(s)
	default:
		diagnostics.Internalf("unknown statement %T", stmt)
	}
}

// compileExpressionList pushes exactly want values: the last expression
// is expanded or padded, extras are evaluated and dropped.
func (c *Compiler) compileExpressionList(exprs []ast.Expression, want int) {
	for i, e := range exprs {
		last := i == len(exprs)-1
		switch {
		case i >= want:
			c.compileExpression(e)
			c.emitOp(OP_POP, 1)
		case last && ast.IsMultiValue(e) && want-i > 1:
			c.compileExpression(e)
			c.emitOp(OP_ADJUST, want-i)
		default:
			c.compileScalar(e)
		}
	}
	missing := want - len(exprs)
	if len(exprs) > 0 && ast.IsMultiValue(exprs[len(exprs)-1]) {
		return
	}
	for ; missing > 0; missing-- {
		c.emit(Instruction{Op: OP_LITERAL, Value: Nil})
	}
}

func (c *Compiler) compileLocal(s *ast.LocalStatement) {
	c.compileExpressionList(s.Values, len(s.Names))
	for i := len(s.Names) - 1; i >= 0; i-- {
		c.emit(Instruction{Op: OP_STORE, Symbol: s.Names[i], Define: true})
	}
}

// compileAssign evaluates every target's object and key, then the values,
// then assigns right to left.
func (c *Compiler) compileAssign(s *ast.AssignStatement) {
	indexTargets := 0
	for _, t := range s.Targets {
		if ie, ok := t.(*ast.IndexExpr); ok {
			c.compileScalar(ie.Object)
			c.compileIndexKey(ie)
			indexTargets++
		}
	}

	c.compileExpressionList(s.Values, len(s.Targets))

	later := 0
	for i := len(s.Targets) - 1; i >= 0; i-- {
		switch t := s.Targets[i].(type) {
		case *ast.SymbolExpr:
			c.emit(Instruction{Op: OP_STORE, Symbol: t.Symbol, Desc: describe(t)})
		case *ast.IndexExpr:
			c.emit(Instruction{Op: OP_INDEXSET, NumVal: i + 2*later, Desc: describe(t.Object), Source: t.Ref})
			later++
		default:
			diagnostics.Internalf("bad assignment target %T", t)
		}
	}
	if indexTargets > 0 {
		c.emitOp(OP_POP, 2*indexTargets)
	}
}

func (c *Compiler) compileFunctionStatement(s *ast.FunctionStatement) {
	if s.Local != nil {
		// Define the cell first so the body captures it.
		c.emit(Instruction{Op: OP_LITERAL, Value: Nil})
		c.emit(Instruction{Op: OP_STORE, Symbol: s.Local, Define: true})
		c.compileFunction(s.Function)
		c.emit(Instruction{Op: OP_STORE, Symbol: s.Local})
		return
	}
	switch t := s.Target.(type) {
	case *ast.SymbolExpr:
		c.compileFunction(s.Function)
		c.emit(Instruction{Op: OP_STORE, Symbol: t.Symbol, Desc: describe(t)})
	case *ast.IndexExpr:
		c.compileScalar(t.Object)
		c.compileIndexKey(t)
		c.compileFunction(s.Function)
		c.emit(Instruction{Op: OP_INDEXSET, Desc: describe(t.Object), Source: t.Ref})
		c.emitOp(OP_POP, 2)
	default:
		diagnostics.Internalf("bad function target %T", t)
	}
}

func (c *Compiler) compileReturn(s *ast.ReturnStatement) {
	switch len(s.Values) {
	case 0:
		c.emitOp(OP_RET, 0)
		return
	case 1:
		if call, ok := s.Values[0].(*ast.CallExpr); ok && c.fs.closeBlocks == 0 {
			c.compileCall(call, true)
			return
		}
		c.compileExpression(s.Values[0])
	default:
		for i, v := range s.Values {
			if i == len(s.Values)-1 {
				c.compileExpression(v)
			} else {
				c.compileScalar(v)
			}
		}
		c.emitOp(OP_TUPLE, len(s.Values))
	}
	c.emitOp(OP_RET, 1)
}

func (c *Compiler) pushLoop(b *symbols.Block) *loopContext {
	loop := &loopContext{block: b}
	c.fs.loops = append(c.fs.loops, loop)
	return loop
}

func (c *Compiler) popLoop(loop *loopContext) {
	c.fs.loops = c.fs.loops[:len(c.fs.loops)-1]
	for _, addr := range loop.breaks {
		c.patch(addr)
	}
}

func (c *Compiler) findLoop(b *symbols.Block) *loopContext {
	for i := len(c.fs.loops) - 1; i >= 0; i-- {
		if c.fs.loops[i].block == b {
			return c.fs.loops[i]
		}
	}
	diagnostics.Internalf("break outside of a compiled loop")
	return nil
}

func (c *Compiler) compileBreak(s *ast.BreakStatement) {
	loop := c.findLoop(s.Loop)
	path, blocks := symbols.ExitBlocks(s.From, s.Loop, true)
	if path == symbols.ExitUnreachable {
		diagnostics.Internalf("break target is not an enclosing block")
	}
	for _, b := range blocks {
		c.emit(Instruction{Op: OP_EXIT, Block: b})
	}
	loop.breaks = append(loop.breaks, c.emitOp(OP_JMP, -1))
}

func (c *Compiler) compileGoto(s *ast.GotoStatement) {
	g := s.Goto
	path, blocks := symbols.GotoExit(g)
	if path == symbols.ExitUnreachable {
		diagnostics.Internalf("goto %s has no reachable label", g.Name)
	}
	for _, b := range blocks {
		c.emit(Instruction{Op: OP_EXIT, Block: b})
	}
	if leaving := g.LeavingLocals(); len(leaving) > 0 {
		c.emit(Instruction{Op: OP_CLOSE, Symbols: leaving})
	}

	label := g.Label()
	target, ok := c.fs.blockDepth[label.Block()]
	if !ok {
		diagnostics.Internalf("goto %s targets a block that is not open", g.Name)
	}
	if diff := c.fs.depth - target; diff > 0 {
		c.emitOp(OP_POP, diff)
	}

	if addr, ok := c.labels[label]; ok {
		c.emitOp(OP_JMP, addr)
		return
	}
	c.labelPatches[label] = append(c.labelPatches[label], c.emitOp(OP_JMP, -1))
}

func (c *Compiler) compileLabel(s *ast.LabelStatement) {
	c.labels[s.Label] = c.here()
	for _, addr := range c.labelPatches[s.Label] {
		c.patch(addr)
	}
	delete(c.labelPatches, s.Label)
}
