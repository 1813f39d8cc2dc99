package parser

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/token"
)

// parsePrimaryExpression parses NAME or '(' expr ')'.
func (p *Parser) parsePrimaryExpression() ast.Expression {
	tok := p.curToken
	switch tok.Type {
	case token.NAME:
		p.nextToken()
		return &ast.SymbolExpr{Token: tok, Name: tok.Lexeme, Symbol: p.resolveName(tok)}
	case token.LPAREN:
		p.nextToken()
		inner := p.parseExpression()
		p.expectMatch(token.RPAREN, tok)
		return &ast.ParenExpr{Token: tok, Inner: inner}
	}
	p.errorf(tok, "unexpected symbol near '%s'", tok.Near())
	return nil
}

// parseSuffixedExpression parses primaryexp { '.' NAME | '[' exp ']' |
// ':' NAME args | args }.
func (p *Parser) parseSuffixedExpression() ast.Expression {
	start := p.curToken
	expr := p.parsePrimaryExpression()

	for {
		tok := p.curToken
		switch tok.Type {
		case token.DOT:
			p.nextToken()
			name := p.expectName()
			expr = &ast.IndexExpr{
				Token:  tok,
				Object: expr,
				Key:    &ast.StringLiteral{Token: name, Value: name.Lexeme},
				Name:   name.Lexeme,
				Ref:    p.spanFrom(start, false),
			}
		case token.LBRACKET:
			p.nextToken()
			key := p.parseExpression()
			p.expectMatch(token.RBRACKET, tok)
			expr = &ast.IndexExpr{Token: tok, Object: expr, Key: key, Ref: p.spanFrom(start, false)}
		case token.COLON:
			p.nextToken()
			name := p.expectName()
			call := &ast.CallExpr{Token: tok, Function: expr, Method: name.Lexeme}
			call.Args = p.parseCallArguments()
			call.Ref = p.spanFrom(start, false)
			expr = call
		case token.LPAREN, token.LBRACE, token.STRING, token.STRING_LONG:
			call := &ast.CallExpr{Token: tok, Function: expr}
			call.Args = p.parseCallArguments()
			call.Ref = p.spanFrom(start, false)
			expr = call
		default:
			return expr
		}
	}
}

// parseCallArguments parses '(' [explist] ')', a table constructor or a
// string literal.
func (p *Parser) parseCallArguments() []ast.Expression {
	tok := p.curToken
	switch {
	case tok.IsString():
		p.nextToken()
		return []ast.Expression{&ast.StringLiteral{Token: tok, Value: tok.Str()}}
	case tok.Type == token.LBRACE:
		return []ast.Expression{p.parseTableConstructor()}
	case tok.Type == token.LPAREN:
		p.nextToken()
		var args []ast.Expression
		if !p.curTokenIs(token.RPAREN) {
			args = p.parseExpressionList()
		}
		p.expectMatch(token.RPAREN, tok)
		return args
	}
	p.errorf(tok, "function arguments expected near '%s'", tok.Near())
	return nil
}
