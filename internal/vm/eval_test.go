package vm

import (
	"errors"
	"testing"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/parser"
)

func TestEval(t *testing.T) {
	rt := newTestRuntime(t, nil)
	if _, err := rt.DoString(`
x = 20
point = setmetatable({x = 3}, {__index = function(_, k) return k .. "?" end})
function twice(n) return n * 2, "extra" end
obj = {scale = 10}
function obj:mul(n) return self.scale * n end`, "setup"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tests := []struct {
		expr string
		want string
	}{
		{"x * 2 + 1", "41"},
		{"point.x", "3"},
		{"point.y", "y?"},
		{"twice(x)", "40"},
		{"obj:mul(4)", "40"},
		{"#{twice(1)}", "2"},
		{"x > 10 and 'big' or 'small'", "big"},
		{"nil or false", "false"},
		{"'a' .. 1", "a1"},
		{"2^3 - 1", "7"},
		{"7 // 2", "3"},
		{"5 & 3", "1"},
		{"not x", "false"},
		{"-x", "-20"},
		{"x ~= 20", "false"},
		{"({1, 2, 3})[2]", "2"},
		{"#'ab'", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := rt.Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if got := v.ToScalar().String(); got != tt.want {
				t.Fatalf("Eval(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	rt := newTestRuntime(t, nil)
	if _, err := rt.Eval("undefined.field"); err == nil {
		t.Fatalf("expected an index error")
	}
	if _, err := rt.Eval("1.5 | 1"); err == nil {
		t.Fatalf("expected a bitwise error")
	}
	_, err := rt.Eval("...")
	var de *diagnostics.DynamicExpressionError
	var se *diagnostics.SyntaxError
	if !errors.As(err, &de) && !errors.As(err, &se) {
		t.Fatalf("expected a dynamic expression error for varargs, got %v", err)
	}
}

func TestFoldConstant(t *testing.T) {
	tests := []struct {
		expr string
		want float64
		ok   bool
	}{
		{"1 + 2 * 3", 7, true},
		{"-(4 - 6)", 2, true},
		{"2^0.5 * 2^0.5 > 0", 0, false},
		{"1 | 2", 0, false},
		{"10 % 3", 1, true},
		{"x + 1", 0, false},
	}
	for _, tt := range tests {
		expr, err := parser.ParseDynamicExpression(tt.expr, config.Lua54)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.expr, err)
		}
		got, ok := FoldConstant(expr)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("FoldConstant(%q) = %v, %v; want %v, %v", tt.expr, got, ok, tt.want, tt.ok)
		}
	}

	if _, ok := FoldConstant(&ast.StringLiteral{Value: "1"}); ok {
		t.Errorf("string literals must not fold")
	}
}
