package parser

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// parseBody parses statements into the current block without opening a
// new one. Function bodies and the main chunk use the frame's root block.
func (p *Parser) parseBody() *ast.Block {
	return p.parseStatements(true)
}

// parseBlock opens a block, parses its statements and closes it.
func (p *Parser) parseBlock(loop bool) *ast.Block {
	if loop {
		p.scope.PushLoopBlock()
	} else {
		p.scope.PushBlock()
	}
	block := p.parseStatements(true)
	p.scope.PopBlock()
	return block
}

// parseStatements reads statements up to the end of the block. Labels
// followed only by void statements are moved outside the scope of the
// block's locals unless the block is closed by `until`, whose condition
// still sees them.
func (p *Parser) parseStatements(endLabels bool) *ast.Block {
	p.enter()
	defer p.leave()

	block := &ast.Block{Token: p.curToken, Scope: p.scope.CurrentBlock()}
	var trailing []*symbols.Label

	for !p.curToken.IsEndOfBlock() {
		if p.curTokenIs(token.RETURN) {
			block.Statements = append(block.Statements, p.parseReturnStatement())
			trailing = nil
			break
		}
		stmt := p.parseStatement()
		switch s := stmt.(type) {
		case nil:
			// ';'
		case *ast.LabelStatement:
			trailing = append(trailing, s.Label)
			block.Statements = append(block.Statements, s)
		default:
			trailing = nil
			block.Statements = append(block.Statements, s)
		}
	}

	if endLabels && !p.curTokenIs(token.UNTIL) && len(trailing) > 0 {
		p.scope.LabelsAtBlockEnd(trailing)
	}
	return block
}

// parseStatement parses one statement; it returns nil for ';'.
func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.SEMICOLON:
		p.nextToken()
		return nil
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.DO:
		return p.parseDoStatement()
	case token.FOR:
		return p.parseForStatement()
	case token.REPEAT:
		return p.parseRepeatStatement()
	case token.FUNCTION:
		return p.parseFunctionStatement()
	case token.LOCAL:
		if p.peekTokenIs(token.FUNCTION) {
			return p.parseLocalFunctionStatement()
		}
		return p.parseLocalStatement()
	case token.DOUBLE_COL:
		return p.parseLabelStatement()
	case token.BREAK:
		return p.parseBreakStatement()
	case token.GOTO:
		return p.parseGotoStatement()
	}
	return p.parseExpressionStatement()
}

// localName is a declared name before it enters scope.
type localName struct {
	tok   token.Token
	attrs symbols.Attributes
}

func (p *Parser) parseLocalStatement() *ast.LocalStatement {
	stmt := &ast.LocalStatement{Token: p.curToken}
	p.nextToken()

	var names []localName
	closing := false
	for {
		n := localName{tok: p.expectName()}
		n.attrs = p.parseAttributes()
		if n.attrs&symbols.AttrToBeClosed != 0 {
			if closing {
				p.errorf(p.prevToken, "multiple to-be-closed variables in local list")
			}
			closing = true
		}
		names = append(names, n)
		if !p.accept(token.COMMA) {
			break
		}
	}

	// Initializers are evaluated before the new locals enter scope.
	if p.accept(token.ASSIGN) {
		stmt.Values = p.parseExpressionList()
	}
	for _, n := range names {
		stmt.Names = append(stmt.Names, p.scope.TryDefineLocal(n.tok.Lexeme, n.attrs))
	}
	stmt.Ref = p.spanFrom(stmt.Token, true)
	return stmt
}

// parseAttributes reads `<const>` / `<close>` after a local name.
func (p *Parser) parseAttributes() symbols.Attributes {
	var attrs symbols.Attributes
	for p.curTokenIs(token.LT) {
		p.nextToken()
		name := p.expectName()

		var flag symbols.Attributes
		switch name.Lexeme {
		case "const":
			flag = symbols.AttrConst
		case "close":
			flag = symbols.AttrToBeClosed
		default:
			p.errorf(name, "unknown attribute '%s'", name.Lexeme)
		}
		if !p.ctx.Dialect.SupportsAttributes() {
			p.errorf(name, "'<%s>' attribute requires Lua 5.4+ compatibility (%s)", name.Lexeme, config.ManualAttribute)
		}
		if attrs&flag != 0 {
			p.errorf(name, "duplicate attribute '%s'", name.Lexeme)
		}
		attrs |= flag
		p.expect(token.GT)
	}
	return attrs
}

// parseExpressionStatement handles assignments and call statements.
func (p *Parser) parseExpressionStatement() ast.Statement {
	start := p.curToken
	first := p.parseSuffixedExpression()

	if p.curTokenIs(token.ASSIGN) || p.curTokenIs(token.COMMA) {
		stmt := &ast.AssignStatement{Token: start}
		stmt.Targets = append(stmt.Targets, p.checkAssignable(first, start))
		for p.accept(token.COMMA) {
			tok := p.curToken
			stmt.Targets = append(stmt.Targets, p.checkAssignable(p.parseSuffixedExpression(), tok))
		}
		p.expect(token.ASSIGN)
		stmt.Values = p.parseExpressionList()
		stmt.Ref = p.spanFrom(start, true)
		return stmt
	}

	call, ok := first.(*ast.CallExpr)
	if !ok {
		p.errorf(p.curToken, "syntax error near '%s'", p.curToken.Near())
	}
	return &ast.CallStatement{Token: start, Call: call, Ref: p.spanFrom(start, true)}
}

// checkAssignable accepts names and index expressions; const locals are
// rejected here so the compiler never sees a write to them.
func (p *Parser) checkAssignable(e ast.Expression, at token.Token) ast.Expression {
	switch target := e.(type) {
	case *ast.SymbolExpr:
		if target.Symbol.IsConst() || target.Symbol.IsToBeClosed() {
			p.errorf(at, "attempt to assign to const variable '%s'", target.Name)
		}
		return target
	case *ast.IndexExpr:
		return target
	}
	p.errorf(p.curToken, "syntax error near '%s'", p.curToken.Near())
	return nil
}
