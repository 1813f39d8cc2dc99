package ast

import (
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// Node is the base interface for all AST nodes. The node set is closed:
// consumers dispatch with a type switch.
type Node interface {
	TokenLiteral() string
	GetToken() token.Token
}

// Statement is a Node that represents a statement.
type Statement interface {
	Node
	statementNode()
	SourceRef() *diagnostics.SourceRef
}

// Expression is a Node that represents an expression.
type Expression interface {
	Node
	expressionNode()
}

// Chunk is the root node: the main function of a loaded script.
type Chunk struct {
	Name     string
	SourceID int
	Body     *Block

	// Env is the main function's _ENV local, initialized from upvalue 0.
	Env     *symbols.SymbolRef
	VarArgs *symbols.SymbolRef
	Frame   *symbols.RuntimeScopeFrame
	End     *diagnostics.SourceRef
}

// Block is a statement list with its lexical scope.
type Block struct {
	Token      token.Token
	Statements []Statement
	Scope      *symbols.Block
}

func (b *Block) TokenLiteral() string  { return b.Token.Lexeme }
func (b *Block) GetToken() token.Token { return b.Token }

// Operator identifies binary and unary operators.
type Operator int

const (
	OpOr Operator = iota
	OpAnd
	OpLess
	OpGreater
	OpLessEq
	OpGreaterEq
	OpNotEq
	OpEq
	OpBitOr
	OpBitXor
	OpBitAnd
	OpShl
	OpShr
	OpConcat
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpIDiv
	OpMod
	OpPow

	// unary
	OpNeg
	OpNot
	OpLen
	OpBitNot
)

var operatorText = [...]string{
	OpOr: "or", OpAnd: "and", OpLess: "<", OpGreater: ">", OpLessEq: "<=", OpGreaterEq: ">=",
	OpNotEq: "~=", OpEq: "==", OpBitOr: "|", OpBitXor: "~", OpBitAnd: "&", OpShl: "<<",
	OpShr: ">>", OpConcat: "..", OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpIDiv: "//",
	OpMod: "%", OpPow: "^", OpNeg: "-", OpNot: "not", OpLen: "#", OpBitNot: "~",
}

func (o Operator) String() string {
	if int(o) < len(operatorText) {
		return operatorText[o]
	}
	return "?"
}

// IsBitwise reports operators that need Lua 5.3+.
func (o Operator) IsBitwise() bool {
	switch o {
	case OpBitOr, OpBitXor, OpBitAnd, OpShl, OpShr, OpBitNot:
		return true
	}
	return false
}

// IsArithmetic reports operators that fold over numeric constants.
func (o Operator) IsArithmetic() bool {
	return o >= OpAdd && o <= OpPow || o == OpNeg
}
