package ast

import (
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// LocalStatement is `local a <const>, b = ...`.
type LocalStatement struct {
	Token  token.Token
	Ref    *diagnostics.SourceRef
	Names  []*symbols.SymbolRef
	Values []Expression
}

func (ls *LocalStatement) statementNode()                    {}
func (ls *LocalStatement) TokenLiteral() string              { return ls.Token.Lexeme }
func (ls *LocalStatement) GetToken() token.Token             { return ls.Token }
func (ls *LocalStatement) SourceRef() *diagnostics.SourceRef { return ls.Ref }

// AssignStatement is `targets = values`. Targets are SymbolExpr or IndexExpr.
type AssignStatement struct {
	Token   token.Token
	Ref     *diagnostics.SourceRef
	Targets []Expression
	Values  []Expression
}

func (as *AssignStatement) statementNode()                    {}
func (as *AssignStatement) TokenLiteral() string              { return as.Token.Lexeme }
func (as *AssignStatement) GetToken() token.Token             { return as.Token }
func (as *AssignStatement) SourceRef() *diagnostics.SourceRef { return as.Ref }

// CallStatement is a call used as a statement; results are discarded.
type CallStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Call  *CallExpr
}

func (cs *CallStatement) statementNode()                    {}
func (cs *CallStatement) TokenLiteral() string              { return cs.Token.Lexeme }
func (cs *CallStatement) GetToken() token.Token             { return cs.Token }
func (cs *CallStatement) SourceRef() *diagnostics.SourceRef { return cs.Ref }

// DoStatement is `do ... end`.
type DoStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Body  *Block
}

func (ds *DoStatement) statementNode()                    {}
func (ds *DoStatement) TokenLiteral() string              { return ds.Token.Lexeme }
func (ds *DoStatement) GetToken() token.Token             { return ds.Token }
func (ds *DoStatement) SourceRef() *diagnostics.SourceRef { return ds.Ref }

// WhileStatement is `while cond do ... end`.
type WhileStatement struct {
	Token     token.Token
	Ref       *diagnostics.SourceRef
	Condition Expression
	Body      *Block
}

func (ws *WhileStatement) statementNode()                    {}
func (ws *WhileStatement) TokenLiteral() string              { return ws.Token.Lexeme }
func (ws *WhileStatement) GetToken() token.Token             { return ws.Token }
func (ws *WhileStatement) SourceRef() *diagnostics.SourceRef { return ws.Ref }

// RepeatStatement is `repeat ... until cond`; cond sees the body's locals.
type RepeatStatement struct {
	Token     token.Token
	Ref       *diagnostics.SourceRef
	Body      *Block
	Condition Expression
	UntilRef  *diagnostics.SourceRef
}

func (rs *RepeatStatement) statementNode()                    {}
func (rs *RepeatStatement) TokenLiteral() string              { return rs.Token.Lexeme }
func (rs *RepeatStatement) GetToken() token.Token             { return rs.Token }
func (rs *RepeatStatement) SourceRef() *diagnostics.SourceRef { return rs.Ref }

// IfClause is one `if`/`elseif` arm.
type IfClause struct {
	Condition Expression
	Body      *Block
	Ref       *diagnostics.SourceRef
}

// IfStatement is `if ... elseif ... else ... end`.
type IfStatement struct {
	Token   token.Token
	Ref     *diagnostics.SourceRef
	Clauses []IfClause
	Else    *Block
	End     *diagnostics.SourceRef
}

func (is *IfStatement) statementNode()                    {}
func (is *IfStatement) TokenLiteral() string              { return is.Token.Lexeme }
func (is *IfStatement) GetToken() token.Token             { return is.Token }
func (is *IfStatement) SourceRef() *diagnostics.SourceRef { return is.Ref }

// NumericForStatement is `for v = start, stop, step do ... end`.
type NumericForStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Var   *symbols.SymbolRef
	Start Expression
	Stop  Expression
	Step  Expression // nil means 1
	Body  *Block
}

func (fs *NumericForStatement) statementNode()                    {}
func (fs *NumericForStatement) TokenLiteral() string              { return fs.Token.Lexeme }
func (fs *NumericForStatement) GetToken() token.Token             { return fs.Token }
func (fs *NumericForStatement) SourceRef() *diagnostics.SourceRef { return fs.Ref }

// GenericForStatement is `for a, b in exprs do ... end`.
type GenericForStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Names []*symbols.SymbolRef
	Exprs []Expression
	Body  *Block
}

func (fs *GenericForStatement) statementNode()                    {}
func (fs *GenericForStatement) TokenLiteral() string              { return fs.Token.Lexeme }
func (fs *GenericForStatement) GetToken() token.Token             { return fs.Token }
func (fs *GenericForStatement) SourceRef() *diagnostics.SourceRef { return fs.Ref }

// FunctionStatement is `function a.b:c() end` or `local function f() end`.
type FunctionStatement struct {
	Token    token.Token
	Ref      *diagnostics.SourceRef
	Local    *symbols.SymbolRef // set for `local function`
	Target   Expression         // SymbolExpr or IndexExpr otherwise
	Function *FunctionExpr
}

func (fs *FunctionStatement) statementNode()                    {}
func (fs *FunctionStatement) TokenLiteral() string              { return fs.Token.Lexeme }
func (fs *FunctionStatement) GetToken() token.Token             { return fs.Token }
func (fs *FunctionStatement) SourceRef() *diagnostics.SourceRef { return fs.Ref }

// ReturnStatement is `return values`.
type ReturnStatement struct {
	Token  token.Token
	Ref    *diagnostics.SourceRef
	Values []Expression
}

func (rs *ReturnStatement) statementNode()                    {}
func (rs *ReturnStatement) TokenLiteral() string              { return rs.Token.Lexeme }
func (rs *ReturnStatement) GetToken() token.Token             { return rs.Token }
func (rs *ReturnStatement) SourceRef() *diagnostics.SourceRef { return rs.Ref }

// BreakStatement leaves Loop, closing every block from From up to it.
type BreakStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	From  *symbols.Block
	Loop  *symbols.Block
}

func (bs *BreakStatement) statementNode()                    {}
func (bs *BreakStatement) TokenLiteral() string              { return bs.Token.Lexeme }
func (bs *BreakStatement) GetToken() token.Token             { return bs.Token }
func (bs *BreakStatement) SourceRef() *diagnostics.SourceRef { return bs.Ref }

// GotoStatement is `goto name`.
type GotoStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Goto  *symbols.Goto
}

func (gs *GotoStatement) statementNode()                    {}
func (gs *GotoStatement) TokenLiteral() string              { return gs.Token.Lexeme }
func (gs *GotoStatement) GetToken() token.Token             { return gs.Token }
func (gs *GotoStatement) SourceRef() *diagnostics.SourceRef { return gs.Ref }

// LabelStatement is `::name::`.
type LabelStatement struct {
	Token token.Token
	Ref   *diagnostics.SourceRef
	Label *symbols.Label
}

func (ls *LabelStatement) statementNode()                    {}
func (ls *LabelStatement) TokenLiteral() string              { return ls.Token.Lexeme }
func (ls *LabelStatement) GetToken() token.Token             { return ls.Token }
func (ls *LabelStatement) SourceRef() *diagnostics.SourceRef { return ls.Ref }
