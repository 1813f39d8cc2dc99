package ast

import (
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// NilLiteral is `nil`.
type NilLiteral struct {
	Token token.Token
}

func (nl *NilLiteral) expressionNode()       {}
func (nl *NilLiteral) TokenLiteral() string  { return nl.Token.Lexeme }
func (nl *NilLiteral) GetToken() token.Token { return nl.Token }

// BooleanLiteral is `true` or `false`.
type BooleanLiteral struct {
	Token token.Token
	Value bool
}

func (bl *BooleanLiteral) expressionNode()       {}
func (bl *BooleanLiteral) TokenLiteral() string  { return bl.Token.Lexeme }
func (bl *BooleanLiteral) GetToken() token.Token { return bl.Token }

// NumberLiteral is a numeral, or the result of constant folding.
type NumberLiteral struct {
	Token token.Token
	Value float64
}

func (nl *NumberLiteral) expressionNode()       {}
func (nl *NumberLiteral) TokenLiteral() string  { return nl.Token.Lexeme }
func (nl *NumberLiteral) GetToken() token.Token { return nl.Token }

// StringLiteral is a quoted or long-bracket string.
type StringLiteral struct {
	Token token.Token
	Value string
}

func (sl *StringLiteral) expressionNode()       {}
func (sl *StringLiteral) TokenLiteral() string  { return sl.Token.Lexeme }
func (sl *StringLiteral) GetToken() token.Token { return sl.Token }

// VarArgs is `...` inside a variadic function.
type VarArgs struct {
	Token  token.Token
	Symbol *symbols.SymbolRef
}

func (va *VarArgs) expressionNode()       {}
func (va *VarArgs) TokenLiteral() string  { return va.Token.Lexeme }
func (va *VarArgs) GetToken() token.Token { return va.Token }

// SymbolExpr is a name resolved to a local, upvalue or global.
type SymbolExpr struct {
	Token  token.Token
	Name   string
	Symbol *symbols.SymbolRef
}

func (se *SymbolExpr) expressionNode()       {}
func (se *SymbolExpr) TokenLiteral() string  { return se.Token.Lexeme }
func (se *SymbolExpr) GetToken() token.Token { return se.Token }

// IndexExpr is obj[key] or obj.name (Name is set for the latter).
type IndexExpr struct {
	Token  token.Token
	Object Expression
	Key    Expression
	Name   string
	Ref    *diagnostics.SourceRef
}

func (ie *IndexExpr) expressionNode()       {}
func (ie *IndexExpr) TokenLiteral() string  { return ie.Token.Lexeme }
func (ie *IndexExpr) GetToken() token.Token { return ie.Token }

// CallExpr is f(args) or obj:method(args).
type CallExpr struct {
	Token    token.Token
	Function Expression
	Method   string // set for obj:method(...)
	Args     []Expression
	Ref      *diagnostics.SourceRef
}

func (ce *CallExpr) expressionNode()       {}
func (ce *CallExpr) TokenLiteral() string  { return ce.Token.Lexeme }
func (ce *CallExpr) GetToken() token.Token { return ce.Token }

// FunctionExpr is a function literal.
type FunctionExpr struct {
	Token token.Token
	Name  string // debug name, e.g. "a.b:c"

	Params     []*symbols.SymbolRef
	HasVarArgs bool
	VarArgs    *symbols.SymbolRef
	IsMethod   bool // has an implicit self parameter

	Body     *Block
	Frame    *symbols.RuntimeScopeFrame
	Upvalues *symbols.UpvalueList
	Begin    *diagnostics.SourceRef
	End      *diagnostics.SourceRef
}

func (fe *FunctionExpr) expressionNode()       {}
func (fe *FunctionExpr) TokenLiteral() string  { return fe.Token.Lexeme }
func (fe *FunctionExpr) GetToken() token.Token { return fe.Token }

// TableField is one entry of a table constructor. Key is nil for
// positional entries.
type TableField struct {
	Key   Expression
	Value Expression
}

// TableConstructor is {...}.
type TableConstructor struct {
	Token  token.Token
	Fields []TableField
}

func (tc *TableConstructor) expressionNode()       {}
func (tc *TableConstructor) TokenLiteral() string  { return tc.Token.Lexeme }
func (tc *TableConstructor) GetToken() token.Token { return tc.Token }

// BinaryExpr is left op right.
type BinaryExpr struct {
	Token    token.Token
	Operator Operator
	Left     Expression
	Right    Expression
}

func (be *BinaryExpr) expressionNode()       {}
func (be *BinaryExpr) TokenLiteral() string  { return be.Token.Lexeme }
func (be *BinaryExpr) GetToken() token.Token { return be.Token }

// UnaryExpr is op operand.
type UnaryExpr struct {
	Token    token.Token
	Operator Operator
	Operand  Expression
}

func (ue *UnaryExpr) expressionNode()       {}
func (ue *UnaryExpr) TokenLiteral() string  { return ue.Token.Lexeme }
func (ue *UnaryExpr) GetToken() token.Token { return ue.Token }

// ParenExpr is (expr); it truncates multiple results to one.
type ParenExpr struct {
	Token token.Token
	Inner Expression
}

func (pe *ParenExpr) expressionNode()       {}
func (pe *ParenExpr) TokenLiteral() string  { return pe.Token.Lexeme }
func (pe *ParenExpr) GetToken() token.Token { return pe.Token }

// IsMultiValue reports whether e can produce more than one value in a
// list tail position.
func IsMultiValue(e Expression) bool {
	switch e.(type) {
	case *CallExpr, *VarArgs:
		return true
	}
	return false
}
