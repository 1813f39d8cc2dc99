package parser

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// Operator priorities as {left, right}. Right-associative operators
// (.. and ^) bind tighter on the left.
type priority struct{ left, right int }

var binaryPriority = map[token.TokenType]priority{
	token.OR:  {1, 1},
	token.AND: {2, 2},

	token.LT: {3, 3}, token.GT: {3, 3}, token.LTE: {3, 3},
	token.GTE: {3, 3}, token.NOT_EQ: {3, 3}, token.EQ: {3, 3},

	token.PIPE:      {4, 4},
	token.TILDE:     {5, 5},
	token.AMPERSAND: {6, 6},
	token.LSHIFT:    {7, 7}, token.RSHIFT: {7, 7},
	token.CONCAT:    {9, 8},
	token.PLUS:      {10, 10}, token.MINUS: {10, 10},

	token.ASTERISK: {11, 11}, token.SLASH: {11, 11},
	token.SLASH2: {11, 11}, token.PERCENT: {11, 11},

	token.CARET: {14, 13},
}

const unaryPriority = 12

var binaryOperators = map[token.TokenType]ast.Operator{
	token.OR: ast.OpOr, token.AND: ast.OpAnd,
	token.LT: ast.OpLess, token.GT: ast.OpGreater, token.LTE: ast.OpLessEq,
	token.GTE: ast.OpGreaterEq, token.NOT_EQ: ast.OpNotEq, token.EQ: ast.OpEq,
	token.PIPE: ast.OpBitOr, token.TILDE: ast.OpBitXor, token.AMPERSAND: ast.OpBitAnd,
	token.LSHIFT: ast.OpShl, token.RSHIFT: ast.OpShr, token.CONCAT: ast.OpConcat,
	token.PLUS: ast.OpAdd, token.MINUS: ast.OpSub, token.ASTERISK: ast.OpMul,
	token.SLASH: ast.OpDiv, token.SLASH2: ast.OpIDiv, token.PERCENT: ast.OpMod,
	token.CARET: ast.OpPow,
}

var unaryOperators = map[token.TokenType]ast.Operator{
	token.MINUS: ast.OpNeg,
	token.NOT:   ast.OpNot,
	token.HASH:  ast.OpLen,
	token.TILDE: ast.OpBitNot,
}

func (p *Parser) parseExpression() ast.Expression {
	return p.parseSubExpression(0)
}

// parseSubExpression parses a chain of binary operators whose left
// priority is above limit.
func (p *Parser) parseSubExpression(limit int) ast.Expression {
	p.enter()
	defer p.leave()

	var left ast.Expression
	if op, ok := unaryOperators[p.curToken.Type]; ok {
		opTok := p.curToken
		p.checkOperatorDialect(opTok, op)
		p.nextToken()
		operand := p.parseSubExpression(unaryPriority)
		left = &ast.UnaryExpr{Token: opTok, Operator: op, Operand: operand}
	} else {
		left = p.parseSimpleExpression()
	}

	for {
		prio, ok := binaryPriority[p.curToken.Type]
		if !ok || prio.left <= limit {
			return left
		}
		opTok := p.curToken
		op := binaryOperators[opTok.Type]
		p.checkOperatorDialect(opTok, op)
		p.nextToken()
		right := p.parseSubExpression(prio.right)
		left = &ast.BinaryExpr{Token: opTok, Operator: op, Left: left, Right: right}
	}
}

// checkOperatorDialect rejects 5.3 operators in older dialects.
func (p *Parser) checkOperatorDialect(tok token.Token, op ast.Operator) {
	if p.ctx.Dialect.SupportsBitwise() {
		return
	}
	switch {
	case op == ast.OpIDiv:
		p.errorf(tok, "'%s' operator requires Lua 5.3+ compatibility (%s)", tok.Lexeme, config.ManualFloorDiv)
	case op.IsBitwise():
		p.errorf(tok, "'%s' operator requires Lua 5.3+ compatibility (%s)", tok.Lexeme, config.ManualBitwise)
	}
}

func (p *Parser) parseSimpleExpression() ast.Expression {
	tok := p.curToken
	switch {
	case tok.IsNumber():
		p.nextToken()
		return &ast.NumberLiteral{Token: tok, Value: tok.Num()}
	case tok.IsString():
		p.nextToken()
		return &ast.StringLiteral{Token: tok, Value: tok.Str()}
	}

	switch tok.Type {
	case token.NIL:
		p.nextToken()
		return &ast.NilLiteral{Token: tok}
	case token.TRUE, token.FALSE:
		p.nextToken()
		return &ast.BooleanLiteral{Token: tok, Value: tok.Type == token.TRUE}
	case token.ELLIPSIS:
		return p.parseVarArgs()
	case token.LBRACE:
		return p.parseTableConstructor()
	case token.FUNCTION:
		return p.parseFunctionLiteral()
	}
	return p.parseSuffixedExpression()
}

func (p *Parser) parseVarArgs() *ast.VarArgs {
	tok := p.curToken
	if p.ctx.Dynamic {
		p.dynamicError(tok, "cannot use '...' in a dynamic expression")
	}
	if !p.scope.HasVarArgs() {
		p.errorf(tok, "cannot use '...' outside a vararg function near '...'")
	}
	p.nextToken()
	return &ast.VarArgs{Token: tok, Symbol: p.scope.FindLocal(config.VarArgsName)}
}

// resolveName binds a name through the scope. In dynamic mode only
// globals are legal.
func (p *Parser) resolveName(tok token.Token) *symbols.SymbolRef {
	sym := p.scope.Find(tok.Lexeme)
	if p.ctx.Dynamic && sym.Type != symbols.SymbolGlobal {
		p.dynamicError(tok, "cannot use '%s' in a dynamic expression: only globals are visible", tok.Lexeme)
	}
	return sym
}

// parseExpressionList parses exp {',' exp}.
func (p *Parser) parseExpressionList() []ast.Expression {
	list := []ast.Expression{p.parseExpression()}
	for p.accept(token.COMMA) {
		list = append(list, p.parseExpression())
	}
	return list
}
