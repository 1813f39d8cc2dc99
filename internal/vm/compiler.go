package vm

import (
	"fmt"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/funvibe/lunar/internal/token"
)

// loopContext tracks the pending break jumps of one loop.
type loopContext struct {
	block  *symbols.Block
	breaks []int
}

// funcState is the per-function compile state. Nested functions are
// compiled inline, so it is saved and restored around them.
type funcState struct {
	loops []*loopContext

	// depth counts values that enclosing for loops keep on the stack.
	depth      int
	blockDepth map[*symbols.Block]int

	// closeBlocks counts open blocks owning <close> locals; no tail calls
	// are emitted while it is positive.
	closeBlocks int
}

func newFuncState() *funcState {
	return &funcState{blockDepth: make(map[*symbols.Block]int)}
}

// Compiler compiles an AST chunk to a flat instruction array
type Compiler struct {
	chunk *Chunk
	fs    *funcState

	labels       map[*symbols.Label]int
	labelPatches map[*symbols.Label][]int
}

// NewCompiler creates a compiler emitting into a new chunk.
func NewCompiler(name string, sourceID int, dialect config.Dialect) *Compiler {
	return &Compiler{
		chunk:        NewChunk(name, sourceID, dialect),
		fs:           newFuncState(),
		labels:       make(map[*symbols.Label]int),
		labelPatches: make(map[*symbols.Label][]int),
	}
}

// Compile compiles a parsed chunk.
func Compile(tree *ast.Chunk, dialect config.Dialect) (chunk *Chunk, err error) {
	c := NewCompiler(tree.Name, tree.SourceID, dialect)
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*diagnostics.InternalError)
			if !ok {
				panic(r)
			}
			chunk, err = nil, fmt.Errorf("compiling %s: %w", tree.Name, ie)
		}
	}()
	c.compileMain(tree)
	return c.chunk, nil
}

func (c *Compiler) emit(ins Instruction) int {
	return c.chunk.Emit(ins)
}

func (c *Compiler) emitOp(op Opcode, num int) int {
	return c.emit(Instruction{Op: op, NumVal: num})
}

func (c *Compiler) here() int { return len(c.chunk.Code) }

// patch points the jump at addr to the current position.
func (c *Compiler) patch(addr int) {
	c.chunk.Code[addr].NumVal = c.here()
}

// withRef runs fn and attributes the instructions it emitted to ref. The
// first instruction always carries ref so the statement is a step stop.
func (c *Compiler) withRef(ref *diagnostics.SourceRef, fn func()) {
	start := c.here()
	fn()
	if ref == nil {
		return
	}
	code := c.chunk.Code
	for i := start; i < len(code); i++ {
		if code[i].Source == nil {
			code[i].Source = ref
		}
	}
	if start < len(code) {
		code[start].Source = ref
	}
}

func tokenRef(tok token.Token) *diagnostics.SourceRef {
	return diagnostics.NewSourceRef(tok.SourceID, tok.FromLine, tok.FromCol, tok.ToLine, tok.ToCol, false)
}

func (c *Compiler) compileMain(tree *ast.Chunk) {
	c.chunk.Frame = tree.Frame
	c.emit(Instruction{Op: OP_BEGINFN, Frame: tree.Frame, Name: "main chunk"})
	c.emit(Instruction{Op: OP_ARGS, Symbol: tree.VarArgs})
	c.emit(Instruction{Op: OP_LOAD, Symbol: symbols.UpValue(config.EnvName, 0)})
	c.emit(Instruction{Op: OP_STORE, Symbol: tree.Env, Define: true})

	c.compileFunctionBody(tree.Body)
	c.emit(Instruction{Op: OP_RET, Source: tree.End})

	if len(c.labelPatches) > 0 {
		diagnostics.Internalf("unresolved goto targets")
	}
}

// compileFunctionBody compiles a function's root block. <close> locals of
// the root block are closed by OP_RET.
func (c *Compiler) compileFunctionBody(body *ast.Block) {
	c.fs.blockDepth[body.Scope] = c.fs.depth
	closing := body.Scope.Runtime().HasToBeClosed()
	if closing {
		c.fs.closeBlocks++
	}
	c.compileStatements(body.Statements)
	if closing {
		c.fs.closeBlocks--
	}
}

// compileBlock compiles a nested block. prologue runs after the block is
// entered, before its statements (loop variables).
func (c *Compiler) compileBlock(b *ast.Block, prologue func()) {
	rt := b.Scope.Runtime()
	closing := rt.HasToBeClosed()
	c.fs.blockDepth[b.Scope] = c.fs.depth
	if closing {
		c.emit(Instruction{Op: OP_ENTER, Block: rt})
		c.fs.closeBlocks++
	}
	if prologue != nil {
		prologue()
	}
	c.compileStatements(b.Statements)
	if closing {
		c.fs.closeBlocks--
		c.emit(Instruction{Op: OP_LEAVE, Block: rt})
	}
}

func (c *Compiler) compileStatements(stmts []ast.Statement) {
	for _, stmt := range stmts {
		c.compileStatement(stmt)
	}
}

// describe names an expression for runtime error messages.
func describe(e ast.Expression) string {
	switch x := e.(type) {
	case *ast.SymbolExpr:
		switch x.Symbol.Type {
		case symbols.SymbolGlobal:
			return fmt.Sprintf("global '%s'", x.Name)
		case symbols.SymbolLocal:
			return fmt.Sprintf("local '%s'", x.Name)
		case symbols.SymbolUpvalue:
			return fmt.Sprintf("upvalue '%s'", x.Name)
		}
	case *ast.IndexExpr:
		if x.Name != "" {
			return fmt.Sprintf("field '%s'", x.Name)
		}
	case *ast.StringLiteral:
		return "constant string"
	}
	return ""
}
