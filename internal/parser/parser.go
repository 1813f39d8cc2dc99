package parser

import (
	"fmt"
	"strings"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/lexer"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// MaxRecursionDepth bounds nesting of expressions and blocks.
const MaxRecursionDepth = 200

// LoadingContext carries the state shared by one parse.
type LoadingContext struct {
	Lexer     *lexer.Lexer
	Scope     *symbols.BuildTimeScope
	ChunkName string
	SourceID  int
	Dialect   config.Dialect
	// Dynamic is set for eval-mode expressions: no locals, no varargs and
	// no function literals.
	Dynamic bool
}

// NewLoadingContext prepares a parse of src.
func NewLoadingContext(src, chunkName string, sourceID int, dialect config.Dialect) *LoadingContext {
	return &LoadingContext{
		Lexer:     lexer.New(src, sourceID),
		Scope:     symbols.NewBuildTimeScope(),
		ChunkName: chunkName,
		SourceID:  sourceID,
		Dialect:   dialect,
	}
}

type Parser struct {
	ctx   *LoadingContext
	scope *symbols.BuildTimeScope

	curToken  token.Token
	prevToken token.Token

	depth int
}

// New creates a parser positioned on the first token.
func New(ctx *LoadingContext) *Parser {
	p := &Parser{ctx: ctx, scope: ctx.Scope}
	p.curToken = ctx.Lexer.Next()
	return p
}

// Parse is a shorthand for parsing a whole chunk.
func Parse(src, chunkName string, sourceID int, dialect config.Dialect) (*ast.Chunk, error) {
	return ParseChunk(NewLoadingContext(src, chunkName, sourceID, dialect))
}

// ParseChunk parses a main chunk. Syntax errors come back decorated with
// the chunk name; internal errors keep panicking.
func ParseChunk(ctx *LoadingContext) (chunk *ast.Chunk, err error) {
	defer recoverSyntax(ctx, &err)
	p := New(ctx)
	return p.parseChunk(), nil
}

// ParseDynamicExpression parses a single expression in dynamic mode.
// Every name resolves to a global of the default environment.
func ParseDynamicExpression(src string, dialect config.Dialect) (expr ast.Expression, err error) {
	ctx := NewLoadingContext(src, "dynamic", 0, dialect)
	ctx.Dynamic = true
	defer recoverSyntax(ctx, &err)

	p := New(ctx)
	expr = p.parseExpression()
	if !p.curTokenIs(token.EOF) {
		p.errorf(p.curToken, "'<eof>' expected near '%s'", p.curToken.Near())
	}
	return expr, nil
}

func recoverSyntax(ctx *LoadingContext, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	switch e := r.(type) {
	case *diagnostics.SyntaxError:
		e.Decorate(ctx.ChunkName, ctx.Dialect)
		*errp = e
	case *diagnostics.DynamicExpressionError:
		*errp = e
	default:
		panic(r)
	}
}

func (p *Parser) nextToken() {
	p.prevToken = p.curToken
	p.curToken = p.ctx.Lexer.Next()
}

func (p *Parser) peekToken() token.Token { return p.ctx.Lexer.PeekNext() }

func (p *Parser) curTokenIs(t token.TokenType) bool { return p.curToken.Type == t }

func (p *Parser) peekTokenIs(t token.TokenType) bool { return p.peekToken().Type == t }

// accept consumes the current token if it has type t.
func (p *Parser) accept(t token.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes a token of type t or fails with "'x' expected".
func (p *Parser) expect(t token.TokenType) token.Token {
	if !p.curTokenIs(t) {
		p.errorf(p.curToken, "'%s' expected near '%s'", tokenText(t), p.curToken.Near())
	}
	tok := p.curToken
	p.nextToken()
	return tok
}

// expectMatch closes a construct opened by open, naming it when the two
// are on different lines.
func (p *Parser) expectMatch(t token.TokenType, open token.Token) token.Token {
	if p.curTokenIs(t) {
		tok := p.curToken
		p.nextToken()
		return tok
	}
	if open.FromLine == p.curToken.FromLine {
		p.errorf(p.curToken, "'%s' expected near '%s'", tokenText(t), p.curToken.Near())
	}
	p.errorf(p.curToken, "'%s' expected (to close '%s' at line %d) near '%s'",
		tokenText(t), tokenText(open.Type), open.FromLine, p.curToken.Near())
	return token.Token{}
}

func (p *Parser) expectName() token.Token {
	if !p.curTokenIs(token.NAME) {
		p.errorf(p.curToken, "<name> expected near '%s'", p.curToken.Near())
	}
	tok := p.curToken
	p.nextToken()
	return tok
}

func (p *Parser) errorf(tok token.Token, format string, args ...interface{}) {
	panic(diagnostics.NewSyntaxError(tok, format, args...))
}

func (p *Parser) dynamicError(tok token.Token, format string, args ...interface{}) {
	panic(&diagnostics.DynamicExpressionError{
		Message: fmt.Sprintf(format, args...),
		Source:  p.tokenRef(tok, false),
	})
}

func (p *Parser) enter() {
	p.depth++
	if p.depth > MaxRecursionDepth {
		p.errorf(p.curToken, "chunk has too many syntax levels")
	}
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) tokenRef(tok token.Token, stepStop bool) *diagnostics.SourceRef {
	return diagnostics.NewSourceRef(p.ctx.SourceID, tok.FromLine, tok.FromCol, tok.ToLine, tok.ToCol, stepStop)
}

// spanFrom covers start up to the last consumed token.
func (p *Parser) spanFrom(start token.Token, stepStop bool) *diagnostics.SourceRef {
	end := p.prevToken
	if end.ToLine < start.FromLine || (end.ToLine == start.FromLine && end.ToCol < start.FromCol) {
		end = start
	}
	return diagnostics.NewSourceRef(p.ctx.SourceID, start.FromLine, start.FromCol, end.ToLine, end.ToCol, stepStop)
}

// tokenText renders a token type the way it appears in source.
func tokenText(t token.TokenType) string {
	switch t {
	case token.EOF:
		return "<eof>"
	case token.NAME:
		return "<name>"
	}
	return strings.ToLower(string(t))
}

func (p *Parser) parseChunk() *ast.Chunk {
	chunk := &ast.Chunk{Name: p.ctx.ChunkName, SourceID: p.ctx.SourceID}

	p.scope.PushFunction(nil, true)
	chunk.Env = p.scope.TryDefineLocal(config.EnvName, 0)
	chunk.VarArgs = p.scope.TryDefineLocal(config.VarArgsName, 0)

	chunk.Body = p.parseBody()
	if !p.curTokenIs(token.EOF) {
		p.errorf(p.curToken, "'<eof>' expected near '%s'", p.curToken.Near())
	}
	chunk.End = p.tokenRef(p.curToken, true)
	chunk.End.CannotBreakpoint = true
	chunk.Frame = p.scope.PopFunction()
	return chunk
}
