package token

type TokenType string

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	NAME         = "NAME"
	NUMBER       = "NUMBER"
	STRING       = "STRING"
	STRING_LONG  = "STRING_LONG"
	NUMBER_HEX   = "NUMBER_HEX"
	NUMBER_FLOAT = "NUMBER_FLOAT"

	// Operators
	PLUS       = "+"
	MINUS      = "-"
	ASTERISK   = "*"
	SLASH      = "/"
	SLASH2     = "//"
	PERCENT    = "%"
	CARET      = "^"
	HASH       = "#"
	AMPERSAND  = "&"
	TILDE      = "~"
	PIPE       = "|"
	LSHIFT     = "<<"
	RSHIFT     = ">>"
	CONCAT     = ".."
	ELLIPSIS   = "..."
	EQ         = "=="
	NOT_EQ     = "~="
	LT         = "<"
	LTE        = "<="
	GT         = ">"
	GTE        = ">="
	ASSIGN     = "="
	DOT        = "."
	COLON      = ":"
	DOUBLE_COL = "::"
	COMMA      = ","
	SEMICOLON  = ";"

	// Delimiters
	LPAREN   = "("
	RPAREN   = ")"
	LBRACE   = "{"
	RBRACE   = "}"
	LBRACKET = "["
	RBRACKET = "]"

	// Keywords
	AND      = "AND"
	BREAK    = "BREAK"
	DO       = "DO"
	ELSE     = "ELSE"
	ELSEIF   = "ELSEIF"
	END      = "END"
	FALSE    = "FALSE"
	FOR      = "FOR"
	FUNCTION = "FUNCTION"
	GOTO     = "GOTO"
	IF       = "IF"
	IN       = "IN"
	LOCAL    = "LOCAL"
	NIL      = "NIL"
	NOT      = "NOT"
	OR       = "OR"
	REPEAT   = "REPEAT"
	RETURN   = "RETURN"
	THEN     = "THEN"
	TRUE     = "TRUE"
	UNTIL    = "UNTIL"
	WHILE    = "WHILE"
)

// Token is a lexed unit with its source span. Lines and columns are
// 1-based; ToCol is inclusive.
type Token struct {
	Type    TokenType
	Lexeme  string      // raw source text
	Literal interface{} // decoded string for STRING tokens, float64 for numbers

	SourceID int
	FromLine int
	FromCol  int
	ToLine   int
	ToCol    int

	// Position of the previous token's end, used to detect ambiguous calls
	PrevLine int
	PrevCol  int
}

var keywords = map[string]TokenType{
	"and":      AND,
	"break":    BREAK,
	"do":       DO,
	"else":     ELSE,
	"elseif":   ELSEIF,
	"end":      END,
	"false":    FALSE,
	"for":      FOR,
	"function": FUNCTION,
	"goto":     GOTO,
	"if":       IF,
	"in":       IN,
	"local":    LOCAL,
	"nil":      NIL,
	"not":      NOT,
	"or":       OR,
	"repeat":   REPEAT,
	"return":   RETURN,
	"then":     THEN,
	"true":     TRUE,
	"until":    UNTIL,
	"while":    WHILE,
}

// LookupIdent returns the keyword type for ident, or NAME.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return NAME
}

// IsEndOfBlock reports whether t closes a block.
func (t Token) IsEndOfBlock() bool {
	switch t.Type {
	case ELSE, ELSEIF, END, UNTIL, EOF:
		return true
	}
	return false
}

// IsUnaryOperator reports whether t may start a unary expression.
func (t Token) IsUnaryOperator() bool {
	return t.Type == MINUS || t.Type == NOT || t.Type == HASH || t.Type == TILDE
}

// IsBinaryOperator reports whether t is an infix operator.
func (t Token) IsBinaryOperator() bool {
	switch t.Type {
	case AND, OR, EQ, NOT_EQ, LT, LTE, GT, GTE, PLUS, MINUS, ASTERISK, SLASH, SLASH2,
		PERCENT, CARET, CONCAT, AMPERSAND, PIPE, TILDE, LSHIFT, RSHIFT:
		return true
	}
	return false
}

// IsNumber reports whether t is a numeric literal.
func (t Token) IsNumber() bool {
	return t.Type == NUMBER || t.Type == NUMBER_HEX || t.Type == NUMBER_FLOAT
}

// IsString reports whether t is a string literal.
func (t Token) IsString() bool {
	return t.Type == STRING || t.Type == STRING_LONG
}

// Str returns the decoded string value of a string token.
func (t Token) Str() string {
	if s, ok := t.Literal.(string); ok {
		return s
	}
	return t.Lexeme
}

// Num returns the numeric value of a number token.
func (t Token) Num() float64 {
	if f, ok := t.Literal.(float64); ok {
		return f
	}
	return 0
}

// Near returns the text shown in "near '...'" diagnostics.
func (t Token) Near() string {
	if t.Type == EOF {
		return "<eof>"
	}
	return t.Lexeme
}
