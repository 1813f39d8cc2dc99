package parser

import (
	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/token"
)

// parseTableConstructor parses '{' [field {sep field} [sep]] '}'.
func (p *Parser) parseTableConstructor() *ast.TableConstructor {
	p.enter()
	defer p.leave()

	open := p.expect(token.LBRACE)
	tc := &ast.TableConstructor{Token: open}

	for !p.curTokenIs(token.RBRACE) {
		tc.Fields = append(tc.Fields, p.parseTableField())
		if !p.accept(token.COMMA) && !p.accept(token.SEMICOLON) {
			break
		}
	}
	p.expectMatch(token.RBRACE, open)
	return tc
}

func (p *Parser) parseTableField() ast.TableField {
	switch {
	case p.curTokenIs(token.LBRACKET):
		open := p.curToken
		p.nextToken()
		key := p.parseExpression()
		p.expectMatch(token.RBRACKET, open)
		p.expect(token.ASSIGN)
		return ast.TableField{Key: key, Value: p.parseExpression()}

	case p.curTokenIs(token.NAME) && p.peekTokenIs(token.ASSIGN):
		name := p.curToken
		p.nextToken()
		p.nextToken()
		key := &ast.StringLiteral{Token: name, Value: name.Lexeme}
		return ast.TableField{Key: key, Value: p.parseExpression()}
	}
	return ast.TableField{Value: p.parseExpression()}
}
