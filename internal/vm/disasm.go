package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/funvibe/lunar/internal/symbols"
)

// Disassemble renders a chunk one instruction per line; lines[ip] is
// the instruction at address ip.
func Disassemble(chunk *Chunk) []string {
	lines := make([]string, len(chunk.Code))
	for ip := range chunk.Code {
		lines[ip] = DisassembleInstruction(chunk, ip)
	}
	return lines
}

// DisassembleInstruction renders the instruction at ip.
func DisassembleInstruction(chunk *Chunk, ip int) string {
	ins := &chunk.Code[ip]
	var sb strings.Builder
	fmt.Fprintf(&sb, "%05d  %-10s", ip, ins.Op.String())

	var operands []string
	switch ins.Op {
	case OP_LITERAL:
		operands = append(operands, literal(ins.Value))
	case OP_LOAD, OP_STORE:
		operands = append(operands, symbolName(ins.Symbol))
		if ins.Define {
			operands = append(operands, "define")
		}
	case OP_ARGS, OP_CLOSE:
		for _, s := range ins.Symbols {
			operands = append(operands, symbolName(s))
		}
		if ins.Symbol != nil {
			operands = append(operands, "..."+symbolName(ins.Symbol))
		}
	case OP_CLOSURE:
		operands = append(operands, fmt.Sprintf("@%05d", ins.NumVal))
		for _, s := range ins.Symbols {
			operands = append(operands, symbolName(s))
		}
	case OP_BEGINFN:
		operands = append(operands, functionName(ins.Name))
		if ins.Frame != nil {
			operands = append(operands, fmt.Sprintf("locals=%d", ins.Frame.Count()))
		}
	case OP_ENTER, OP_LEAVE, OP_EXIT:
		if b := ins.Block; b != nil {
			operands = append(operands, fmt.Sprintf("[%d..%d]", b.From, b.ToInclusive))
			if b.HasToBeClosed() {
				operands = append(operands, fmt.Sprintf("close=%d", len(b.ToBeClosed)))
			}
		}
	case OP_INDEX, OP_METHOD:
		if ins.Name != "" {
			operands = append(operands, strconv.Quote(ins.Name))
		}
	default:
		if ins.Op.isJump() {
			operands = append(operands, fmt.Sprintf("@%05d", ins.NumVal))
			if ins.NumVal2 != 0 {
				operands = append(operands, strconv.Itoa(ins.NumVal2))
			}
		} else if ins.NumVal != 0 || ins.NumVal2 != 0 {
			operands = append(operands, strconv.Itoa(ins.NumVal))
			if ins.NumVal2 != 0 {
				operands = append(operands, strconv.Itoa(ins.NumVal2))
			}
		}
	}
	sb.WriteString(strings.Join(operands, ", "))

	if ins.Source != nil {
		if sb.Len() < 40 {
			sb.WriteString(strings.Repeat(" ", 40-sb.Len()))
		}
		sb.WriteString(" ")
		sb.WriteString(ins.Source.Location())
		if ins.Source.IsStepStop {
			sb.WriteString(" *")
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func functionName(name string) string {
	if name == "" {
		return "?"
	}
	return name
}

func symbolName(s *symbols.SymbolRef) string {
	if s == nil {
		return "<nil>"
	}
	switch s.Type {
	case symbols.SymbolGlobal:
		return "G:" + s.Name
	case symbols.SymbolUpvalue:
		return fmt.Sprintf("U%d:%s", s.Index, s.Name)
	case symbols.SymbolDefaultEnv:
		return "_ENV"
	}
	return fmt.Sprintf("L%d:%s", s.Index, s.Name)
}

func literal(v DynValue) string {
	if v.Type() == TypeString {
		return strconv.Quote(v.Str())
	}
	return v.String()
}
