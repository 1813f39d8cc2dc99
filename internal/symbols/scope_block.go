package symbols

import "github.com/funvibe/lunar/internal/diagnostics"

// RuntimeScopeBlock is the post-compile view of a lexical block: the slot
// range of its locals and the <close> locals to close on exit.
type RuntimeScopeBlock struct {
	From        int
	To          int
	ToInclusive int
	ToBeClosed  []*SymbolRef
}

// HasToBeClosed reports whether leaving the block must run __close.
func (b *RuntimeScopeBlock) HasToBeClosed() bool {
	return b != nil && len(b.ToBeClosed) > 0
}

// RuntimeScopeFrame is the post-compile view of a function.
type RuntimeScopeFrame struct {
	DebugSymbols []*SymbolRef
	ToFirstBlock int
}

// Count is the number of local slots the function needs.
func (f *RuntimeScopeFrame) Count() int { return len(f.DebugSymbols) }

// Label is a goto target.
type Label struct {
	Name   string
	Source *diagnostics.SourceRef

	block      *Block
	localCount int
	gotos      []*Goto
}

// Block returns the block the label is declared in.
func (l *Label) Block() *Block { return l.block }

// Gotos returns the gotos bound to the label once its block is popped.
func (l *Label) Gotos() []*Goto { return l.gotos }

// Goto is a pending or resolved jump.
type Goto struct {
	Name   string
	Source *diagnostics.SourceRef

	block      *Block
	localCount int
	label      *Label
	leaving    []*SymbolRef
}

// Block returns the block the goto statement appears in.
func (g *Goto) Block() *Block { return g.block }

// Label returns the resolved target, nil until resolution.
func (g *Goto) Label() *Label { return g.label }

// LeavingLocals lists the <close> locals of the label's own block that go
// out of scope on a backward jump, in declaration order.
func (g *Goto) LeavingLocals() []*SymbolRef { return g.leaving }

// Block is a compile-time lexical block.
type Block struct {
	parent   *Block
	children []*Block

	locals  []*SymbolRef
	visible map[string]*SymbolRef

	labels       map[string]*Label
	pendingGotos []*Goto

	// number of locals the parent had when this block opened
	openCount int

	loop    bool
	runtime *RuntimeScopeBlock
}

func newBlock(parent *Block) *Block {
	b := &Block{
		parent:  parent,
		visible: make(map[string]*SymbolRef),
		runtime: &RuntimeScopeBlock{},
	}
	if parent != nil {
		b.openCount = len(parent.locals)
	}
	return b
}

func (b *Block) addChild() *Block {
	child := newBlock(b)
	b.children = append(b.children, child)
	return child
}

// Parent returns the enclosing block in the same function, or nil.
func (b *Block) Parent() *Block { return b.parent }

// IsLoop reports whether break targets this block.
func (b *Block) IsLoop() bool { return b.loop }

// Runtime returns the block's runtime metadata. It is filled in when the
// enclosing function is resolved.
func (b *Block) Runtime() *RuntimeScopeBlock { return b.runtime }

func (b *Block) find(name string) *SymbolRef {
	return b.visible[name]
}

func (b *Block) define(name string, attrs Attributes) *SymbolRef {
	sym := Local(name, -1, attrs)
	b.locals = append(b.locals, sym)
	b.visible[name] = sym
	return sym
}

func (b *Block) defineLabel(name string, ref *diagnostics.SourceRef) *Label {
	if b.labels == nil {
		b.labels = make(map[string]*Label)
	}
	if existing, ok := b.labels[name]; ok {
		panic(diagnostics.NewSyntaxErrorAt(ref, "label '%s' already defined on line %d", name, existing.Source.FromLine))
	}
	l := &Label{Name: name, Source: ref, block: b, localCount: len(b.locals)}
	b.labels[name] = l
	return l
}

func (b *Block) registerGoto(g *Goto, localCount int) {
	g.block = b
	g.localCount = localCount
	b.pendingGotos = append(b.pendingGotos, g)
}

// resolveGotos binds pending gotos to labels of this block, or hands
// them to the parent as if they appeared where this block opened.
func (b *Block) resolveGotos() {
	for _, g := range b.pendingGotos {
		if l, ok := b.labels[g.Name]; ok {
			if l.localCount > g.localCount {
				panic(diagnostics.NewSyntaxErrorAt(g.Source, "<goto %s> at line %d jumps into the scope of local '%s'",
					g.Name, g.Source.FromLine, b.locals[g.localCount].Name))
			}
			g.label = l
			for _, sym := range b.locals[l.localCount:g.localCount] {
				if sym.IsToBeClosed() {
					g.leaving = append(g.leaving, sym)
				}
			}
			l.gotos = append(l.gotos, g)
			continue
		}
		if b.parent == nil {
			panic(diagnostics.NewSyntaxErrorAt(g.Source, "no visible label '%s' for <goto> at line %d", g.Name, g.Source.FromLine))
		}
		b.parent.pendingGotos = append(b.parent.pendingGotos, g)
		g.localCount = b.openCount
	}
	b.pendingGotos = nil
}

// resolveLRefs assigns slots to this block's locals and its children's,
// in declaration order. Returns the highest slot live in the subtree.
func (b *Block) resolveLRefs(f *Frame) int {
	first, last := -1, -1
	for _, sym := range b.locals {
		pos := f.allocVar(sym)
		if first < 0 {
			first = pos
		}
		last = pos
	}

	b.runtime.From = first
	b.runtime.To = last
	b.runtime.ToInclusive = last
	if first < 0 {
		b.runtime.From = f.nextVarPos()
	}

	for _, child := range b.children {
		if to := child.resolveLRefs(f); to > b.runtime.ToInclusive {
			b.runtime.ToInclusive = to
		}
	}

	b.runtime.ToBeClosed = nil
	for _, sym := range b.locals {
		if sym.IsToBeClosed() {
			b.runtime.ToBeClosed = append(b.runtime.ToBeClosed, sym)
		}
	}
	return b.runtime.ToInclusive
}

// ExitPath classifies the cleanup needed when control leaves blocks.
type ExitPath int

const (
	// ExitNoCleanup: the path crosses no block with <close> locals.
	ExitNoCleanup ExitPath = iota
	// ExitWithCleanup: the returned blocks must be closed, innermost first.
	ExitWithCleanup
	// ExitUnreachable: the target is not an ancestor of the source block.
	ExitUnreachable
)

func (p ExitPath) String() string {
	switch p {
	case ExitNoCleanup:
		return "no-cleanup"
	case ExitWithCleanup:
		return "with-cleanup"
	}
	return "unreachable"
}

// ExitBlocks walks from "from" up to "to" and collects the runtime blocks
// owning <close> locals, innermost first. With inclusive set, "to" itself
// is exited too (break leaves the loop block; goto stays in the label's).
func ExitBlocks(from, to *Block, inclusive bool) (ExitPath, []*RuntimeScopeBlock) {
	var blocks []*RuntimeScopeBlock
	b := from
	for b != to {
		if b == nil {
			return ExitUnreachable, nil
		}
		if b.runtime.HasToBeClosed() {
			blocks = append(blocks, b.runtime)
		}
		b = b.parent
	}
	if inclusive && to.runtime.HasToBeClosed() {
		blocks = append(blocks, to.runtime)
	}
	if len(blocks) == 0 {
		return ExitNoCleanup, nil
	}
	return ExitWithCleanup, blocks
}

// GotoExit computes the exit path of a resolved goto.
func GotoExit(g *Goto) (ExitPath, []*RuntimeScopeBlock) {
	if g.label == nil {
		return ExitUnreachable, nil
	}
	return ExitBlocks(g.block, g.label.block, false)
}
