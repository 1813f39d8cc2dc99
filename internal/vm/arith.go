package vm

import (
	"math"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
)

// arithmetic applies a numeric binary opcode to two numbers.
func arithmetic(op Opcode, a, b float64) float64 {
	switch op {
	case OP_ADD:
		return a + b
	case OP_SUB:
		return a - b
	case OP_MUL:
		return a * b
	case OP_DIV:
		return a / b
	case OP_MOD:
		return floorMod(a, b)
	case OP_POW:
		return math.Pow(a, b)
	case OP_IDIV:
		return math.Floor(a / b)
	}
	diagnostics.Internalf("opcode %s is not arithmetic", op)
	return 0
}

// floorMod is a - floor(a/b)*b, with the sign of the divisor.
func floorMod(a, b float64) float64 {
	if math.IsInf(b, 0) && !math.IsInf(a, 0) && !math.IsNaN(a) {
		if a == 0 || (a > 0) == (b > 0) {
			return a
		}
		return b
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// bitwise applies a bitwise binary opcode. Both operands must already be
// exact integers.
func bitwise(op Opcode, a, b int64) int64 {
	switch op {
	case OP_BAND:
		return a & b
	case OP_BOR:
		return a | b
	case OP_BXOR:
		return a ^ b
	case OP_SHL:
		return shiftLeft(a, b)
	case OP_SHR:
		if b == math.MinInt64 {
			// -b overflows; a right shift by it is a left shift by 2^63.
			return 0
		}
		return shiftLeft(a, -b)
	}
	diagnostics.Internalf("opcode %s is not bitwise", op)
	return 0
}

// shiftLeft shifts left by n, or right (arithmetically) for negative n.
// Counts of 64 or more shift everything out.
func shiftLeft(a, n int64) int64 {
	switch {
	case n <= -64:
		if a < 0 {
			return -1
		}
		return 0
	case n < 0:
		return a >> uint(-n)
	case n >= 64:
		return 0
	}
	return a << uint(n)
}

// bitwiseOperands converts both operands or describes the failure.
func bitwiseOperands(a, b DynValue) (int64, int64, *diagnostics.RuntimeError) {
	x, okA := a.CastToNumber()
	y, okB := b.CastToNumber()
	if !okA || !okB {
		bad := a
		if okA {
			bad = b
		}
		return 0, 0, diagnostics.NewRuntimeError("attempt to perform bitwise operation on a %s value", bad.TypeName())
	}
	i, okA := toInteger(x)
	j, okB := toInteger(y)
	switch {
	case !okA:
		return 0, 0, floatOperandError("left", x)
	case !okB:
		return 0, 0, floatOperandError("right", y)
	}
	return i, j, nil
}

func floatOperandError(side string, n float64) *diagnostics.RuntimeError {
	return diagnostics.NewRuntimeError("attempt to perform bitwise operation on a float value (%s operand is %s)", side, FormatNumber(n))
}

// arithMetaName maps operator opcodes to metamethod names.
var arithMetaName = map[Opcode]string{
	OP_ADD:    config.MetaAdd,
	OP_SUB:    config.MetaSub,
	OP_MUL:    config.MetaMul,
	OP_DIV:    config.MetaDiv,
	OP_MOD:    config.MetaMod,
	OP_POW:    config.MetaPow,
	OP_IDIV:   config.MetaIDiv,
	OP_NEG:    config.MetaUnm,
	OP_BAND:   config.MetaBAnd,
	OP_BOR:    config.MetaBOr,
	OP_BXOR:   config.MetaBXor,
	OP_SHL:    config.MetaShl,
	OP_SHR:    config.MetaShr,
	OP_BNOT:   config.MetaBNot,
	OP_CONCAT: config.MetaConcat,
}
