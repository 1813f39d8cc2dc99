package vm

import (
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
)

// Instruction is one VM instruction. Operands are interpreted per opcode.
type Instruction struct {
	Op      Opcode
	NumVal  int
	NumVal2 int
	Name    string
	// Desc names the operand for error messages, e.g. "global 'x'".
	Desc    string
	Value   DynValue
	Symbol  *symbols.SymbolRef
	Symbols []*symbols.SymbolRef
	Frame   *symbols.RuntimeScopeFrame
	Block   *symbols.RuntimeScopeBlock
	Define  bool
	Source  *diagnostics.SourceRef
}

// Chunk is a compiled script: the main function and every nested
// function, flattened into one instruction array. The main function
// starts at 0.
type Chunk struct {
	Name     string
	SourceID int
	Dialect  config.Dialect
	Code     []Instruction
	Frame    *symbols.RuntimeScopeFrame
}

// NewChunk creates an empty chunk.
func NewChunk(name string, sourceID int, dialect config.Dialect) *Chunk {
	return &Chunk{
		Name:     name,
		SourceID: sourceID,
		Dialect:  dialect,
		Code:     make([]Instruction, 0, 256),
	}
}

// Emit appends an instruction and returns its address.
func (c *Chunk) Emit(ins Instruction) int {
	c.Code = append(c.Code, ins)
	return len(c.Code) - 1
}

// Len returns the number of instructions.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// SourceRefs returns every distinct source ref in code order.
func (c *Chunk) SourceRefs() []*diagnostics.SourceRef {
	seen := make(map[*diagnostics.SourceRef]bool)
	var refs []*diagnostics.SourceRef
	for _, ins := range c.Code {
		if ins.Source != nil && !seen[ins.Source] {
			seen[ins.Source] = true
			refs = append(refs, ins.Source)
		}
	}
	return refs
}
