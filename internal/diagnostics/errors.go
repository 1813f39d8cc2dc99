package diagnostics

import (
	"fmt"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/token"
)

var rethrowNested bool

// RethrowNested reports whether SyntaxError.Rethrow wraps the original.
func RethrowNested() bool { return rethrowNested }

// OverrideRethrowNested installs v and returns a func restoring the old
// value. The setting is process-wide and not synchronized.
func OverrideRethrowNested(v bool) (restore func()) {
	old := rethrowNested
	rethrowNested = v
	return func() { rethrowNested = old }
}

// CompatibilitySuffix returns " [compatibility: Lua 5.x]" for non-default
// dialects and "" otherwise.
func CompatibilitySuffix(d config.Dialect) string {
	if d == config.DefaultDialect || !d.Valid() {
		return ""
	}
	return " [compatibility: " + d.Name() + "]"
}

// DecorateMessage builds "chunk:(l,c): message [compatibility: ...]".
func DecorateMessage(chunkName string, ref *SourceRef, message string, d config.Dialect) string {
	var sb strings.Builder
	if ref != nil {
		sb.WriteString(ref.FormatLocation(chunkName))
		sb.WriteString(": ")
	} else if chunkName != "" {
		sb.WriteString(chunkName)
		sb.WriteString(": ")
	}
	sb.WriteString(message)
	sb.WriteString(CompatibilitySuffix(d))
	return sb.String()
}

// SyntaxError is raised while lexing or parsing.
type SyntaxError struct {
	Message   string
	Decorated string
	Source    *SourceRef

	// PrematureEnd is set when input ended before a construct was closed,
	// so a REPL can ask for more lines.
	PrematureEnd bool

	wrapped error
}

// NewSyntaxError creates an error spanning tok.
func NewSyntaxError(tok token.Token, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{
		Message:      fmt.Sprintf(format, args...),
		Source:       NewSourceRef(tok.SourceID, tok.FromLine, tok.FromCol, tok.ToLine, tok.ToCol, false),
		PrematureEnd: tok.Type == token.EOF,
	}
}

// NewSyntaxErrorAt creates an error at an explicit location.
func NewSyntaxErrorAt(ref *SourceRef, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Message: fmt.Sprintf(format, args...), Source: ref}
}

func (e *SyntaxError) Error() string {
	if e.Decorated != "" {
		return e.Decorated
	}
	return e.Message
}

func (e *SyntaxError) Unwrap() error { return e.wrapped }

// Decorate stamps the chunk name and dialect onto the message once.
func (e *SyntaxError) Decorate(chunkName string, d config.Dialect) {
	if e.Decorated != "" {
		return
	}
	e.Decorated = DecorateMessage(chunkName, e.Source, e.Message, d)
}

// Rethrow returns a new error wrapping e when RethrowNested is enabled,
// and nil otherwise (the caller propagates e unchanged).
func (e *SyntaxError) Rethrow() error {
	if !rethrowNested {
		return nil
	}
	return &SyntaxError{
		Message:      e.Message,
		Decorated:    e.Decorated,
		Source:       e.Source,
		PrematureEnd: e.PrematureEnd,
		wrapped:      e,
	}
}

// StackEntry is one line of a runtime error traceback.
type StackEntry struct {
	Name     string
	Location string
	// TailCall marks a frame entered through a tail call; the frames it
	// replaced are gone.
	TailCall bool
}

// RuntimeError is raised during execution and is catchable by pcall.
type RuntimeError struct {
	Message string
	// Value is the script value passed to error(), nil for VM-raised errors.
	Value interface{}

	Decorated     string
	DoNotDecorate bool
	Source        *SourceRef
	CallStack     []StackEntry

	// Fatal errors skip pcall handlers (sandbox violations, cancellation).
	Fatal bool

	cause error
}

// NewRuntimeError formats a VM-raised error.
func NewRuntimeError(format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// WrapRuntimeError converts a host error into a runtime error.
func WrapRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Message: err.Error(), cause: err}
}

// NewThrownError carries a script value raised by error().
func NewThrownError(message string, value interface{}) *RuntimeError {
	return &RuntimeError{Message: message, Value: value}
}

func (e *RuntimeError) Error() string {
	if e.Decorated != "" {
		return e.Decorated
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.cause }

// IsDecorated reports whether location info was already applied.
func (e *RuntimeError) IsDecorated() bool { return e.Decorated != "" || e.DoNotDecorate }

// Decorate applies the location prefix once.
func (e *RuntimeError) Decorate(chunkName string, ref *SourceRef, d config.Dialect) {
	if e.IsDecorated() {
		return
	}
	e.Source = ref
	e.Decorated = DecorateMessage(chunkName, ref, e.Message, d)
}

// Traceback renders the message and call stack.
func (e *RuntimeError) Traceback() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	if len(e.CallStack) > 0 {
		sb.WriteString("\nstack traceback:")
		for _, entry := range e.CallStack {
			sb.WriteString("\n\t")
			sb.WriteString(entry.Location)
			sb.WriteString(": in ")
			sb.WriteString(entry.Name)
			if entry.TailCall {
				sb.WriteString("\n\t(...tail calls...)")
			}
		}
	}
	return sb.String()
}

// InternalError is an invariant violation. It is raised with panic and is
// never caught by pcall.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "internal error: " + e.Message }

// Internalf panics with an *InternalError.
func Internalf(format string, args ...interface{}) {
	panic(&InternalError{Message: fmt.Sprintf(format, args...)})
}

// DynamicExpressionError reports a construct that is illegal in an
// eval-mode expression.
type DynamicExpressionError struct {
	Message string
	Source  *SourceRef
}

func (e *DynamicExpressionError) Error() string { return e.Message }
