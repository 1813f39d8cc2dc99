// Package vm implements the bytecode compiler and virtual machine.
package vm

// Opcode represents a single VM instruction
type Opcode byte

const (
	OP_NOP Opcode = iota

	// Stack manipulation
	OP_POP     // Pop NumVal values
	OP_COPY    // Push stack[top-NumVal]
	OP_LITERAL // Push Value
	OP_SCALAR  // Truncate a tuple on top to its first value
	OP_ADJUST  // Expand the top NumVal2 values into exactly NumVal values
	OP_TUPLE   // Pack the top NumVal values into a tuple

	// Variables
	OP_LOAD  // Push Symbol
	OP_STORE // Pop into Symbol; Define creates a fresh local cell

	// Functions
	OP_CLOSURE   // Push closure at NumVal capturing Symbols
	OP_BEGINFN   // Function entry: allocate Frame locals
	OP_ARGS      // Bind Symbols params and the Symbol varargs
	OP_CALL      // Call with NumVal args; NumVal2 set for ':' calls
	OP_TAILCALL  // Tail call with NumVal args
	OP_RET       // Return NumVal (0 or 1) values
	OP_METHOD    // [obj] -> [obj.Name, obj]

	// Indexing
	OP_INDEX    // [obj, key] -> [obj[key]]; Name replaces the key operand
	OP_INDEXSET // Pop value into stack[top-NumVal-1][stack[top-NumVal]]

	// Control flow
	OP_JMP      // Jump to NumVal
	OP_JF       // Pop; jump to NumVal if false
	OP_JTORPOP  // Jump if top is true, keeping it; pop otherwise (or)
	OP_JFORPOP  // Jump if top is false, keeping it; pop otherwise (and)

	// Arithmetic
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_POW
	OP_IDIV
	OP_NEG

	// Bitwise
	OP_BAND
	OP_BOR
	OP_BXOR
	OP_SHL
	OP_SHR
	OP_BNOT

	// Other operators
	OP_CONCAT
	OP_LEN
	OP_NOT
	OP_EQ
	OP_LESS   // NumVal2 swaps the operands (>)
	OP_LESSEQ // NumVal2 swaps the operands (>=)

	// Tables
	OP_NEWTABLE
	OP_TBLSET    // [tbl, key, value] -> [tbl]
	OP_TBLAPPEND // [tbl, value] -> [tbl] at index NumVal; NumVal2 expands a tuple

	// Loops
	OP_TONUM   // Validate numeric for start/stop/step
	OP_JFOR    // Jump to NumVal when the numeric loop is over
	OP_INCR    // Advance the numeric loop counter
	OP_ITERUPD // Generic for: unpack NumVal2 values or jump to NumVal

	// Scopes
	OP_ENTER // Enter Block
	OP_LEAVE // Leave Block, closing its <close> locals
	OP_EXIT  // Exit Block by break or goto, closing its <close> locals
	OP_CLOSE // Close Symbols (goto leaving <close> locals)
)

// OpcodeNames maps opcodes to their string names (for debugging)
var OpcodeNames = map[Opcode]string{
	OP_NOP:       "NOP",
	OP_POP:       "POP",
	OP_COPY:      "COPY",
	OP_LITERAL:   "LITERAL",
	OP_SCALAR:    "SCALAR",
	OP_ADJUST:    "ADJUST",
	OP_TUPLE:     "TUPLE",
	OP_LOAD:      "LOAD",
	OP_STORE:     "STORE",
	OP_CLOSURE:   "CLOSURE",
	OP_BEGINFN:   "BEGINFN",
	OP_ARGS:      "ARGS",
	OP_CALL:      "CALL",
	OP_TAILCALL:  "TAILCALL",
	OP_RET:       "RET",
	OP_METHOD:    "METHOD",
	OP_INDEX:     "INDEX",
	OP_INDEXSET:  "INDEXSET",
	OP_JMP:       "JMP",
	OP_JF:        "JF",
	OP_JTORPOP:   "JTORPOP",
	OP_JFORPOP:   "JFORPOP",
	OP_ADD:       "ADD",
	OP_SUB:       "SUB",
	OP_MUL:       "MUL",
	OP_DIV:       "DIV",
	OP_MOD:       "MOD",
	OP_POW:       "POW",
	OP_IDIV:      "IDIV",
	OP_NEG:       "NEG",
	OP_BAND:      "BAND",
	OP_BOR:       "BOR",
	OP_BXOR:      "BXOR",
	OP_SHL:       "SHL",
	OP_SHR:       "SHR",
	OP_BNOT:      "BNOT",
	OP_CONCAT:    "CONCAT",
	OP_LEN:       "LEN",
	OP_NOT:       "NOT",
	OP_EQ:        "EQ",
	OP_LESS:      "LESS",
	OP_LESSEQ:    "LESSEQ",
	OP_NEWTABLE:  "NEWTABLE",
	OP_TBLSET:    "TBLSET",
	OP_TBLAPPEND: "TBLAPPEND",
	OP_TONUM:     "TONUM",
	OP_JFOR:      "JFOR",
	OP_INCR:      "INCR",
	OP_ITERUPD:   "ITERUPD",
	OP_ENTER:     "ENTER",
	OP_LEAVE:     "LEAVE",
	OP_EXIT:      "EXIT",
	OP_CLOSE:     "CLOSE",
}

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// isJump reports opcodes whose NumVal is a code address.
func (op Opcode) isJump() bool {
	switch op {
	case OP_JMP, OP_JF, OP_JTORPOP, OP_JFORPOP, OP_JFOR, OP_ITERUPD, OP_CLOSURE:
		return true
	}
	return false
}
