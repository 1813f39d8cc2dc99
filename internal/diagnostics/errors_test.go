package diagnostics

import (
	"errors"
	"testing"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/token"
)

func TestSourceRefLocation(t *testing.T) {
	tests := []struct {
		ref  *SourceRef
		want string
	}{
		{NewSourceRef(0, 3, 5, 3, 5, false), "chunk:(3,5)"},
		{NewSourceRef(0, 3, 5, 3, 9, false), "chunk:(3,5-9)"},
		{NewSourceRef(0, 3, 5, 4, 2, false), "chunk:(3,5-4,2)"},
	}
	for _, tt := range tests {
		if got := tt.ref.FormatLocation("chunk"); got != tt.want {
			t.Errorf("FormatLocation = %q, want %q", got, tt.want)
		}
	}
}

func TestDecorateCompatibility(t *testing.T) {
	ref := NewSourceRef(0, 1, 1, 1, 4, false)
	got := DecorateMessage("main", ref, "boom", config.Lua53)
	want := "main:(1,1-4): boom [compatibility: Lua 5.3]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	got = DecorateMessage("main", ref, "boom", config.DefaultDialect)
	if got != "main:(1,1-4): boom" {
		t.Errorf("default dialect must not be tagged: %q", got)
	}
}

func TestRuntimeErrorDecoratedOnce(t *testing.T) {
	err := NewRuntimeError("attempt to call a nil value")
	err.Decorate("a", NewSourceRef(0, 1, 1, 1, 1, false), config.Lua54)
	err.Decorate("b", NewSourceRef(0, 9, 9, 9, 9, false), config.Lua54)
	if err.Error() != "a:(1,1): attempt to call a nil value" {
		t.Errorf("unexpected decoration: %q", err.Error())
	}
}

func TestSyntaxErrorRethrow(t *testing.T) {
	orig := NewSyntaxError(token.Token{Type: token.NAME, Lexeme: "x", FromLine: 2, FromCol: 1, ToLine: 2, ToCol: 1}, "unexpected symbol near '%s'", "x")

	if orig.Rethrow() != nil {
		t.Fatal("Rethrow must be a no-op when RethrowNested is disabled")
	}

	restore := OverrideRethrowNested(true)
	defer restore()

	wrapped := orig.Rethrow()
	if wrapped == nil {
		t.Fatal("expected a wrapping error")
	}
	if !errors.Is(wrapped, orig) {
		t.Error("wrapped error must unwrap to the original")
	}
	var se *SyntaxError
	if !errors.As(wrapped, &se) || se.Source != orig.Source {
		t.Error("wrapped error must keep the original span")
	}

	restore()
	if RethrowNested() {
		t.Error("restore did not reset the option")
	}
}

func TestInternalfPanics(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*InternalError); !ok {
			t.Fatalf("expected *InternalError panic, got %v", r)
		}
	}()
	Internalf("block stack underflow")
}
