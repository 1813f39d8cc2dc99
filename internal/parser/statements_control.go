package parser

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/token"
)

func (p *Parser) parseIfStatement() *ast.IfStatement {
	stmt := &ast.IfStatement{Token: p.curToken}
	open := p.curToken

	for {
		clauseTok := p.curToken
		p.nextToken() // if / elseif
		cond := p.parseExpression()
		p.expect(token.THEN)
		clause := ast.IfClause{Condition: cond, Ref: p.spanFrom(clauseTok, true)}
		if stmt.Ref == nil {
			stmt.Ref = clause.Ref
		}
		clause.Body = p.parseBlock(false)
		stmt.Clauses = append(stmt.Clauses, clause)
		if !p.curTokenIs(token.ELSEIF) {
			break
		}
	}

	if p.accept(token.ELSE) {
		stmt.Else = p.parseBlock(false)
	}
	endTok := p.expectMatch(token.END, open)
	stmt.End = p.tokenRef(endTok, true)
	return stmt
}

func (p *Parser) parseWhileStatement() *ast.WhileStatement {
	stmt := &ast.WhileStatement{Token: p.curToken}
	p.nextToken()
	stmt.Condition = p.parseExpression()
	p.expect(token.DO)
	stmt.Ref = p.spanFrom(stmt.Token, true)
	stmt.Body = p.parseBlock(true)
	p.expectMatch(token.END, stmt.Token)
	return stmt
}

func (p *Parser) parseDoStatement() *ast.DoStatement {
	stmt := &ast.DoStatement{Token: p.curToken}
	stmt.Ref = p.tokenRef(p.curToken, true)
	p.nextToken()
	stmt.Body = p.parseBlock(false)
	p.expectMatch(token.END, stmt.Token)
	return stmt
}

// parseRepeatStatement keeps the body's scope open while parsing the
// condition, which may read the body's locals.
func (p *Parser) parseRepeatStatement() *ast.RepeatStatement {
	stmt := &ast.RepeatStatement{Token: p.curToken}
	stmt.Ref = p.tokenRef(p.curToken, true)
	p.nextToken()

	p.scope.PushLoopBlock()
	stmt.Body = p.parseStatements(false)
	untilTok := p.expectMatch(token.UNTIL, stmt.Token)
	stmt.Condition = p.parseExpression()
	stmt.UntilRef = p.spanFrom(untilTok, true)
	p.scope.PopBlock()
	return stmt
}

func (p *Parser) parseForStatement() ast.Statement {
	forTok := p.curToken
	p.nextToken()
	first := p.expectName()
	if p.curTokenIs(token.ASSIGN) {
		return p.parseNumericFor(forTok, first)
	}
	if p.curTokenIs(token.COMMA) || p.curTokenIs(token.IN) {
		return p.parseGenericFor(forTok, first)
	}
	p.errorf(p.curToken, "'=' or 'in' expected near '%s'", p.curToken.Near())
	return nil
}

func (p *Parser) parseNumericFor(forTok, name token.Token) *ast.NumericForStatement {
	stmt := &ast.NumericForStatement{Token: forTok}
	p.expect(token.ASSIGN)
	stmt.Start = p.parseExpression()
	p.expect(token.COMMA)
	stmt.Stop = p.parseExpression()
	if p.accept(token.COMMA) {
		stmt.Step = p.parseExpression()
	}
	p.expect(token.DO)
	stmt.Ref = p.spanFrom(forTok, true)

	// The control variable lives in the loop block so each iteration
	// gets a fresh cell.
	p.scope.PushLoopBlock()
	stmt.Var = p.scope.TryDefineLocal(name.Lexeme, 0)
	stmt.Body = p.parseStatements(true)
	p.scope.PopBlock()
	p.expectMatch(token.END, forTok)
	return stmt
}

func (p *Parser) parseGenericFor(forTok, first token.Token) *ast.GenericForStatement {
	stmt := &ast.GenericForStatement{Token: forTok}
	names := []token.Token{first}
	for p.accept(token.COMMA) {
		names = append(names, p.expectName())
	}
	p.expect(token.IN)
	stmt.Exprs = p.parseExpressionList()
	p.expect(token.DO)
	stmt.Ref = p.spanFrom(forTok, true)

	p.scope.PushLoopBlock()
	for _, n := range names {
		stmt.Names = append(stmt.Names, p.scope.TryDefineLocal(n.Lexeme, 0))
	}
	stmt.Body = p.parseStatements(true)
	p.scope.PopBlock()
	p.expectMatch(token.END, forTok)
	return stmt
}

func (p *Parser) parseReturnStatement() *ast.ReturnStatement {
	stmt := &ast.ReturnStatement{Token: p.curToken}
	p.nextToken()
	if !p.curToken.IsEndOfBlock() && !p.curTokenIs(token.SEMICOLON) {
		stmt.Values = p.parseExpressionList()
	}
	stmt.Ref = p.spanFrom(stmt.Token, true)
	p.accept(token.SEMICOLON)
	return stmt
}

func (p *Parser) parseBreakStatement() *ast.BreakStatement {
	stmt := &ast.BreakStatement{Token: p.curToken, Ref: p.tokenRef(p.curToken, true)}
	stmt.Loop = p.scope.FindLoop()
	if stmt.Loop == nil {
		p.errorf(p.curToken, "<break> at line %d not inside a loop", p.curToken.FromLine)
	}
	stmt.From = p.scope.CurrentBlock()
	p.nextToken()
	return stmt
}

func (p *Parser) parseGotoStatement() *ast.GotoStatement {
	stmt := &ast.GotoStatement{Token: p.curToken}
	p.nextToken()
	name := p.expectName()
	stmt.Ref = p.spanFrom(stmt.Token, true)
	stmt.Goto = p.scope.RegisterGoto(name.Lexeme, stmt.Ref)
	return stmt
}

func (p *Parser) parseLabelStatement() *ast.LabelStatement {
	stmt := &ast.LabelStatement{Token: p.curToken}
	p.nextToken()
	name := p.expectName()
	p.expect(token.DOUBLE_COL)
	stmt.Ref = p.spanFrom(stmt.Token, false)
	stmt.Label = p.scope.DefineLabel(name.Lexeme, stmt.Ref)
	return stmt
}
