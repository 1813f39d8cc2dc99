package lexer

import (
	"fmt"
	"strings"

	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/token"
)

const eofCh rune = -1

// Lexer turns source text into tokens. Strings are byte sequences, so the
// lexer works on bytes rather than runes.
type Lexer struct {
	input        string
	sourceID     int
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           rune // current byte, or eofCh
	line         int  // current line number
	column       int  // current column number

	// position of the last consumed char, used as the token end
	endLine int
	endCol  int

	current token.Token
	peeked  *token.Token
}

// New creates a lexer over input. The first call to Next returns the
// first token.
func New(input string, sourceID int) *Lexer {
	l := &Lexer{input: input, sourceID: sourceID, line: 1, column: 0}
	l.readChar()
	l.skipShebang()
	return l
}

func (l *Lexer) readChar() {
	l.endLine, l.endCol = l.line, l.column
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}

	if l.readPosition >= len(l.input) {
		l.position = len(l.input)
		l.ch = eofCh
		l.column++
		return
	}

	l.position = l.readPosition
	l.ch = rune(l.input[l.readPosition])
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return eofCh
	}
	return rune(l.input[l.readPosition])
}

func (l *Lexer) peekChar2() rune {
	if l.readPosition+1 >= len(l.input) {
		return eofCh
	}
	return rune(l.input[l.readPosition+1])
}

// Current returns the token most recently returned by Next.
func (l *Lexer) Current() token.Token {
	return l.current
}

// Next advances to the following token and returns it. Malformed input
// panics with a *diagnostics.SyntaxError; use Scan for an error return.
func (l *Lexer) Next() token.Token {
	if l.peeked != nil {
		l.current = *l.peeked
		l.peeked = nil
		return l.current
	}
	l.current = l.readToken()
	return l.current
}

// PeekNext returns the token after Current without consuming it.
func (l *Lexer) PeekNext() token.Token {
	if l.peeked == nil {
		tok := l.readToken()
		l.peeked = &tok
	}
	return *l.peeked
}

// Scan is Next with an error return instead of a panic.
func (l *Lexer) Scan() (tok token.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*diagnostics.SyntaxError); ok {
				err = se
				return
			}
			panic(r)
		}
	}()
	return l.Next(), nil
}

// Tokenize lexes the whole input, stopping at EOF or the first error.
func Tokenize(input string, sourceID int) ([]token.Token, error) {
	l := New(input, sourceID)
	var out []token.Token
	for {
		tok, err := l.Scan()
		if err != nil {
			return out, err
		}
		out = append(out, tok)
		if tok.Type == token.EOF {
			return out, nil
		}
	}
}

func (l *Lexer) readToken() token.Token {
	prevLine, prevCol := l.endLine, l.endCol
	l.skipWhitespaceAndComments()

	startPos, startLine, startCol := l.position, l.line, l.column
	var tok token.Token

	switch l.ch {
	case eofCh:
		tok = token.Token{Type: token.EOF, FromLine: startLine, FromCol: startCol, ToLine: startLine, ToCol: startCol}
		tok.SourceID = l.sourceID
		tok.PrevLine, tok.PrevCol = prevLine, prevCol
		return tok
	case '+', '*', '%', '^', '#', '&', '|', '(', ')', '{', '}', ']', ';', ',':
		l.readChar()
		tok = l.newToken(token.TokenType(l.input[startPos:l.position]), startPos, startLine, startCol)
	case '-':
		l.readChar()
		tok = l.newToken(token.MINUS, startPos, startLine, startCol)
	case '/':
		l.readChar()
		if l.ch == '/' {
			l.readChar()
			tok = l.newToken(token.SLASH2, startPos, startLine, startCol)
		} else {
			tok = l.newToken(token.SLASH, startPos, startLine, startCol)
		}
	case '~':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			tok = l.newToken(token.NOT_EQ, startPos, startLine, startCol)
		} else {
			tok = l.newToken(token.TILDE, startPos, startLine, startCol)
		}
	case '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			tok = l.newToken(token.EQ, startPos, startLine, startCol)
		} else {
			tok = l.newToken(token.ASSIGN, startPos, startLine, startCol)
		}
	case '<':
		l.readChar()
		switch l.ch {
		case '<':
			l.readChar()
			tok = l.newToken(token.LSHIFT, startPos, startLine, startCol)
		case '=':
			l.readChar()
			tok = l.newToken(token.LTE, startPos, startLine, startCol)
		default:
			tok = l.newToken(token.LT, startPos, startLine, startCol)
		}
	case '>':
		l.readChar()
		switch l.ch {
		case '>':
			l.readChar()
			tok = l.newToken(token.RSHIFT, startPos, startLine, startCol)
		case '=':
			l.readChar()
			tok = l.newToken(token.GTE, startPos, startLine, startCol)
		default:
			tok = l.newToken(token.GT, startPos, startLine, startCol)
		}
	case ':':
		l.readChar()
		if l.ch == ':' {
			l.readChar()
			tok = l.newToken(token.DOUBLE_COL, startPos, startLine, startCol)
		} else {
			tok = l.newToken(token.COLON, startPos, startLine, startCol)
		}
	case '.':
		if isDigit(l.peekChar()) {
			tok = l.readNumber(startPos, startLine, startCol)
			break
		}
		l.readChar()
		if l.ch == '.' {
			l.readChar()
			if l.ch == '.' {
				l.readChar()
				tok = l.newToken(token.ELLIPSIS, startPos, startLine, startCol)
			} else {
				tok = l.newToken(token.CONCAT, startPos, startLine, startCol)
			}
		} else {
			tok = l.newToken(token.DOT, startPos, startLine, startCol)
		}
	case '[':
		if level := l.longBracketLevel(); level >= 0 {
			content := l.readLongBracket(level, false, startPos, startLine, startCol)
			tok = l.newToken(token.STRING_LONG, startPos, startLine, startCol)
			tok.Literal = content
		} else if l.peekChar() == '=' {
			l.readChar()
			for l.ch == '=' {
				l.readChar()
			}
			l.errorf(startPos, startLine, startCol, "invalid long string delimiter near '%s'", l.input[startPos:l.position])
		} else {
			l.readChar()
			tok = l.newToken(token.LBRACKET, startPos, startLine, startCol)
		}
	case '"', '\'':
		content := l.readString(startPos, startLine, startCol)
		tok = l.newToken(token.STRING, startPos, startLine, startCol)
		tok.Literal = content
	default:
		switch {
		case isDigit(l.ch):
			tok = l.readNumber(startPos, startLine, startCol)
		case isLetter(l.ch):
			for isLetter(l.ch) || isDigit(l.ch) {
				l.readChar()
			}
			ident := l.input[startPos:l.position]
			tok = l.newToken(token.LookupIdent(ident), startPos, startLine, startCol)
		default:
			l.readChar()
			l.errorf(startPos, startLine, startCol, "unexpected symbol near '%s'", describeChar(l.input[startPos]))
		}
	}

	tok.PrevLine, tok.PrevCol = prevLine, prevCol
	return tok
}

func (l *Lexer) newToken(t token.TokenType, startPos, startLine, startCol int) token.Token {
	return token.Token{
		Type:     t,
		Lexeme:   l.input[startPos:l.position],
		SourceID: l.sourceID,
		FromLine: startLine,
		FromCol:  startCol,
		ToLine:   l.endLine,
		ToCol:    l.endCol,
	}
}

// errorf raises a syntax error spanning from the start position to the
// last consumed char. Only unterminated strings and comments count as a
// premature end.
func (l *Lexer) errorf(startPos, startLine, startCol int, format string, args ...interface{}) {
	ref := diagnostics.NewSourceRef(l.sourceID, startLine, startCol, l.endLine, l.endCol, false)
	err := diagnostics.NewSyntaxErrorAt(ref, format, args...)
	err.PrematureEnd = l.ch == eofCh && strings.HasPrefix(err.Message, "unfinished")
	panic(err)
}

func (l *Lexer) skipShebang() {
	if l.ch != '#' || l.peekChar() != '!' {
		return
	}
	for l.ch != '\n' && l.ch != eofCh {
		l.readChar()
	}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case isSpace(l.ch):
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			startPos, startLine, startCol := l.position, l.line, l.column
			l.readChar()
			l.readChar()
			if l.ch == '[' {
				if level := l.longBracketLevel(); level >= 0 {
					l.readLongBracket(level, true, startPos, startLine, startCol)
					continue
				}
			}
			for l.ch != '\n' && l.ch != eofCh {
				l.readChar()
			}
		default:
			return
		}
	}
}

// longBracketLevel inspects "[==[" at the current position without
// consuming it. Returns the number of '=' or -1 when it is not an opener.
func (l *Lexer) longBracketLevel() int {
	i := l.readPosition
	level := 0
	for i < len(l.input) && l.input[i] == '=' {
		level++
		i++
	}
	if i < len(l.input) && l.input[i] == '[' {
		return level
	}
	return -1
}

func (l *Lexer) readLongBracket(level int, isComment bool, startPos, startLine, startCol int) string {
	// opening bracket
	for i := 0; i < level+2; i++ {
		l.readChar()
	}
	// a newline right after the opener is skipped
	if l.ch == '\r' || l.ch == '\n' {
		first := l.ch
		l.readChar()
		if (l.ch == '\r' || l.ch == '\n') && l.ch != first {
			l.readChar()
		}
	}

	var sb strings.Builder
	for {
		switch l.ch {
		case eofCh:
			what := "string"
			if isComment {
				what = "comment"
			}
			l.errorf(startPos, startLine, startCol, "unfinished long %s near '<eof>'", what)
		case ']':
			l.readChar()
			n := 0
			for l.ch == '=' {
				n++
				l.readChar()
			}
			if n == level && l.ch == ']' {
				l.readChar()
				return sb.String()
			}
			sb.WriteByte(']')
			sb.WriteString(strings.Repeat("=", n))
		default:
			sb.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
}

func (l *Lexer) readString(startPos, startLine, startCol int) string {
	delim := l.ch
	l.readChar()

	var sb strings.Builder
	for l.ch != delim {
		switch l.ch {
		case eofCh:
			l.errorf(startPos, startLine, startCol, "unfinished string near '<eof>'")
		case '\n', '\r':
			l.errorf(startPos, startLine, startCol, "unfinished string near '%s'", l.input[startPos:l.position])
		case '\\':
			l.readEscape(&sb, startPos, startLine, startCol)
		default:
			sb.WriteByte(byte(l.ch))
			l.readChar()
		}
	}
	l.readChar()
	return sb.String()
}

func (l *Lexer) readEscape(sb *strings.Builder, startPos, startLine, startCol int) {
	escPos := l.position
	l.readChar() // backslash

	switch l.ch {
	case 'a':
		sb.WriteByte('\a')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'v':
		sb.WriteByte('\v')
	case '\\', '"', '\'':
		sb.WriteByte(byte(l.ch))
	case '\n', '\r':
		first := l.ch
		sb.WriteByte('\n')
		l.readChar()
		if (l.ch == '\n' || l.ch == '\r') && l.ch != first {
			l.readChar()
		}
		return
	case 'x':
		var v byte
		for i := 0; i < 2; i++ {
			l.readChar()
			d := hexValue(l.ch)
			if d < 0 {
				l.escapeError(escPos, startLine, startCol, "hexadecimal digit expected")
			}
			v = v<<4 | byte(d)
		}
		sb.WriteByte(v)
	case 'z':
		l.readChar()
		for isSpace(l.ch) {
			l.readChar()
		}
		return
	case 'u':
		l.readUnicodeEscape(sb, escPos, startLine, startCol)
	case eofCh:
		l.errorf(startPos, startLine, startCol, "unfinished string near '<eof>'")
	default:
		if !isDigit(l.ch) {
			l.readChar()
			l.errorf(escPos, startLine, startCol, "invalid escape sequence near '\\%s'", describeChar(l.input[escPos+1]))
		}
		v := 0
		for i := 0; i < 3 && isDigit(l.ch); i++ {
			v = v*10 + int(l.ch-'0')
			l.readChar()
		}
		if v > 255 {
			l.errorf(escPos, startLine, startCol, "decimal escape too large near '%s'", l.input[escPos:l.position])
		}
		sb.WriteByte(byte(v))
		return
	}
	l.readChar()
}

func (l *Lexer) readUnicodeEscape(sb *strings.Builder, escPos, startLine, startCol int) {
	l.readChar()
	if l.ch != '{' {
		l.escapeError(escPos, startLine, startCol, "missing '{' in \\u{xxxx}")
	}
	l.readChar()
	if hexValue(l.ch) < 0 {
		l.escapeError(escPos, startLine, startCol, "hexadecimal digit expected")
	}
	var r uint64
	for hexValue(l.ch) >= 0 {
		r = r<<4 | uint64(hexValue(l.ch))
		if r > 0x7FFFFFFF {
			l.escapeError(escPos, startLine, startCol, "UTF-8 value too large")
		}
		l.readChar()
	}
	if l.ch != '}' {
		l.escapeError(escPos, startLine, startCol, "missing '}' in \\u{xxxx}")
	}
	appendUTF8Escape(sb, uint32(r))
}

func (l *Lexer) escapeError(escPos, startLine, startCol int, msg string) {
	end := l.position + 1
	if end > len(l.input) {
		end = len(l.input)
	}
	if l.ch != eofCh {
		l.readChar()
	}
	l.errorf(escPos, startLine, startCol, "%s near '%s'", msg, l.input[escPos:end])
}

// appendUTF8Escape encodes x the way \u{} does, allowing values up to
// 2^31 that are not valid Unicode scalars.
func appendUTF8Escape(sb *strings.Builder, x uint32) {
	if x < 0x80 {
		sb.WriteByte(byte(x))
		return
	}
	var buf [8]byte
	n := 1
	mfb := uint32(0x3f)
	for x > mfb || n == 1 {
		buf[8-n] = byte(0x80 | (x & 0x3f))
		n++
		x >>= 6
		mfb >>= 1
	}
	buf[8-n] = byte((^mfb << 1) | x)
	sb.Write(buf[8-n:])
}

func (l *Lexer) readNumber(startPos, startLine, startCol int) token.Token {
	typ := token.TokenType(token.NUMBER)
	exp1, exp2 := 'e', 'E'
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		typ = token.NUMBER_HEX
		exp1, exp2 = 'p', 'P'
		l.readChar()
		l.readChar()
	}

	for {
		if l.ch == exp1 || l.ch == exp2 {
			if typ == token.NUMBER {
				typ = token.NUMBER_FLOAT
			}
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			continue
		}
		if l.ch == '.' {
			if typ == token.NUMBER {
				typ = token.NUMBER_FLOAT
			}
			l.readChar()
			continue
		}
		if isDigit(l.ch) || isLetter(l.ch) {
			l.readChar()
			continue
		}
		break
	}

	text := l.input[startPos:l.position]
	v, ok := parseNumeral(text)
	if !ok {
		l.errorf(startPos, startLine, startCol, "malformed number near '%s'", text)
	}
	tok := l.newToken(typ, startPos, startLine, startCol)
	tok.Literal = v
	return tok
}

func isLetter(ch rune) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func hexValue(ch rune) int {
	switch {
	case '0' <= ch && ch <= '9':
		return int(ch - '0')
	case 'a' <= ch && ch <= 'f':
		return int(ch-'a') + 10
	case 'A' <= ch && ch <= 'F':
		return int(ch-'A') + 10
	}
	return -1
}

func describeChar(b byte) string {
	if b < 32 || b >= 127 {
		return fmt.Sprintf("<\\%d>", b)
	}
	return string(rune(b))
}
