package parser

import (
	"strings"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// parseFunctionStatement parses `function a.b.c:m(...) end`.
func (p *Parser) parseFunctionStatement() *ast.FunctionStatement {
	stmt := &ast.FunctionStatement{Token: p.curToken}
	p.nextToken()

	nameTok := p.expectName()
	var target ast.Expression = &ast.SymbolExpr{Token: nameTok, Name: nameTok.Lexeme, Symbol: p.resolveName(nameTok)}
	fullName := []string{nameTok.Lexeme}
	isMethod := false
	for p.curTokenIs(token.DOT) || p.curTokenIs(token.COLON) {
		isMethod = p.curTokenIs(token.COLON)
		sep := p.curToken
		p.nextToken()
		field := p.expectName()
		target = &ast.IndexExpr{
			Token:  sep,
			Object: target,
			Key:    &ast.StringLiteral{Token: field, Value: field.Lexeme},
			Name:   field.Lexeme,
			Ref:    p.spanFrom(nameTok, false),
		}
		if isMethod {
			fullName = append(fullName, ":"+field.Lexeme)
			break
		}
		fullName = append(fullName, "."+field.Lexeme)
	}

	stmt.Ref = p.spanFrom(stmt.Token, true)
	stmt.Target = p.checkAssignable(target, nameTok)
	stmt.Function = p.parseFunctionBody(stmt.Token, strings.Join(fullName, ""), isMethod)
	return stmt
}

// parseLocalFunctionStatement defines the local before the body so the
// function can call itself.
func (p *Parser) parseLocalFunctionStatement() *ast.FunctionStatement {
	stmt := &ast.FunctionStatement{Token: p.curToken}
	p.nextToken() // local
	funcTok := p.curToken
	p.nextToken() // function
	name := p.expectName()
	stmt.Ref = p.spanFrom(stmt.Token, true)
	stmt.Local = p.scope.TryDefineLocal(name.Lexeme, 0)
	stmt.Function = p.parseFunctionBody(funcTok, name.Lexeme, false)
	return stmt
}

// parseFunctionLiteral parses `function (...) end` in expression position.
func (p *Parser) parseFunctionLiteral() *ast.FunctionExpr {
	tok := p.curToken
	if p.ctx.Dynamic {
		p.dynamicError(tok, "function definitions are not allowed in dynamic expressions")
	}
	p.nextToken()
	return p.parseFunctionBody(tok, "", false)
}

// parseFunctionBody parses the parameter list and body of a function and
// runs it in its own scope frame. The current token is '('.
func (p *Parser) parseFunctionBody(funcTok token.Token, name string, isMethod bool) *ast.FunctionExpr {
	fn := &ast.FunctionExpr{
		Token:    funcTok,
		Name:     name,
		IsMethod: isMethod,
		Upvalues: &symbols.UpvalueList{},
	}

	open := p.expect(token.LPAREN)
	var params []token.Token
	if !p.curTokenIs(token.RPAREN) {
		for {
			if p.accept(token.ELLIPSIS) {
				fn.HasVarArgs = true
				break
			}
			params = append(params, p.expectName())
			if !p.accept(token.COMMA) {
				break
			}
		}
	}
	if !p.curTokenIs(token.RPAREN) {
		p.errorf(p.curToken, "')' expected (to close '(' at line %d) near '%s'", open.FromLine, p.curToken.Near())
	}
	p.nextToken()
	fn.Begin = p.spanFrom(funcTok, true)

	p.scope.PushFunction(fn.Upvalues, fn.HasVarArgs)
	if isMethod {
		fn.Params = append(fn.Params, p.scope.TryDefineLocal(config.SelfName, 0))
	}
	for _, param := range params {
		fn.Params = append(fn.Params, p.scope.TryDefineLocal(param.Lexeme, 0))
	}
	if fn.HasVarArgs {
		fn.VarArgs = p.scope.TryDefineLocal(config.VarArgsName, 0)
	}

	fn.Body = p.parseBody()
	endTok := p.expectMatch(token.END, funcTok)
	fn.End = p.tokenRef(endTok, true)
	fn.Frame = p.scope.PopFunction()
	return fn
}
