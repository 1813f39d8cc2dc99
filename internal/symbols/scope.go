package symbols

import (
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
)

// ClosureBuilder receives capture requests for the function being built.
// It returns the UpValue reference the function body uses for sym.
type ClosureBuilder interface {
	CreateUpvalue(scope *BuildTimeScope, sym *SymbolRef) *SymbolRef
}

// UpvalueList is the standard ClosureBuilder: captures are deduplicated
// by name and indexed in capture order. Symbols holds the captured outer
// refs; the function body reads them through the matching UpValue ref.
type UpvalueList struct {
	Symbols []*SymbolRef
	refs    []*SymbolRef
}

func (u *UpvalueList) CreateUpvalue(_ *BuildTimeScope, sym *SymbolRef) *SymbolRef {
	for i, s := range u.Symbols {
		if s.Name == sym.Name {
			return u.refs[i]
		}
	}
	ref := UpValue(sym.Name, len(u.Symbols))
	ref.Attributes = sym.Attributes
	u.Symbols = append(u.Symbols, sym)
	u.refs = append(u.refs, ref)
	return ref
}

// Frame is the compile-time state of one function.
type Frame struct {
	root       *Block
	head       *Block
	hasVarArgs bool

	runtime  *RuntimeScopeFrame
	resolved bool
}

func newFrame(hasVarArgs bool) *Frame {
	root := newBlock(nil)
	return &Frame{root: root, head: root, hasVarArgs: hasVarArgs, runtime: &RuntimeScopeFrame{}}
}

func (f *Frame) allocVar(sym *SymbolRef) int {
	sym.Index = len(f.runtime.DebugSymbols)
	f.runtime.DebugSymbols = append(f.runtime.DebugSymbols, sym)
	return sym.Index
}

func (f *Frame) nextVarPos() int {
	return len(f.runtime.DebugSymbols)
}

func (f *Frame) find(name string) *SymbolRef {
	for b := f.head; b != nil; b = b.parent {
		if sym := b.find(name); sym != nil {
			return sym
		}
	}
	return nil
}

func (f *Frame) pushBlock() *Block {
	f.head = f.head.addChild()
	return f.head
}

func (f *Frame) popBlock() *RuntimeScopeBlock {
	if f.head == f.root {
		diagnostics.Internalf("can't pop block - stack underflow")
	}
	tree := f.head
	tree.resolveGotos()
	f.head = tree.parent
	return tree.runtime
}

// ResolveLRefs assigns slots to every local of the function. It runs once;
// later calls are no-ops.
func (f *Frame) ResolveLRefs() {
	if f.resolved {
		return
	}
	if f.head != f.root {
		diagnostics.Internalf("misaligned scope frames/blocks")
	}
	f.root.resolveGotos()
	f.root.resolveLRefs(f)
	f.runtime.ToFirstBlock = f.root.runtime.To
	f.resolved = true
}

// RuntimeFrame returns the resolved frame data.
func (f *Frame) RuntimeFrame() *RuntimeScopeFrame {
	if !f.resolved {
		diagnostics.Internalf("runtime frame read before ResolveLRefs")
	}
	return f.runtime
}

// RootBlock returns the function's outermost block.
func (f *Frame) RootBlock() *Block { return f.root }

// BuildTimeScope is the compile-time stack of function frames.
type BuildTimeScope struct {
	frames   []*Frame
	builders []ClosureBuilder
}

// NewBuildTimeScope returns an empty scope. With no function pushed, every
// name resolves to a global of the default environment (dynamic mode).
func NewBuildTimeScope() *BuildTimeScope {
	return &BuildTimeScope{}
}

func (s *BuildTimeScope) top() *Frame {
	if len(s.frames) == 0 {
		diagnostics.Internalf("no function frame on the scope stack")
	}
	return s.frames[len(s.frames)-1]
}

// PushFunction opens a function. cb receives capture requests made from
// inside it; it may be nil for the main chunk.
func (s *BuildTimeScope) PushFunction(cb ClosureBuilder, hasVarArgs bool) {
	s.frames = append(s.frames, newFrame(hasVarArgs))
	s.builders = append(s.builders, cb)
}

// PopFunction resolves and closes the current function.
func (s *BuildTimeScope) PopFunction() *RuntimeScopeFrame {
	f := s.top()
	f.ResolveLRefs()
	s.frames = s.frames[:len(s.frames)-1]
	s.builders = s.builders[:len(s.builders)-1]
	return f.RuntimeFrame()
}

// CurrentFrame returns the innermost function frame.
func (s *BuildTimeScope) CurrentFrame() *Frame { return s.top() }

// PushBlock opens a lexical block.
func (s *BuildTimeScope) PushBlock() *Block {
	return s.top().pushBlock()
}

// PushLoopBlock opens a block that break can leave.
func (s *BuildTimeScope) PushLoopBlock() *Block {
	b := s.top().pushBlock()
	b.loop = true
	return b
}

// PopBlock closes the innermost block. Popping a function's root block is
// an internal error.
func (s *BuildTimeScope) PopBlock() *RuntimeScopeBlock {
	return s.top().popBlock()
}

// CurrentBlock returns the innermost open block.
func (s *BuildTimeScope) CurrentBlock() *Block { return s.top().head }

// HasVarArgs reports whether the current function is variadic.
func (s *BuildTimeScope) HasVarArgs() bool {
	return len(s.frames) > 0 && s.top().hasVarArgs
}

// IsDynamic reports whether no function is open.
func (s *BuildTimeScope) IsDynamic() bool { return len(s.frames) == 0 }

// TryDefineLocal defines a local in the current block. It never fails:
// a visible symbol of the same name is shadowed, not reused.
func (s *BuildTimeScope) TryDefineLocal(name string, attrs Attributes) *SymbolRef {
	return s.top().head.define(name, attrs)
}

// FindLocal looks name up in the current function only.
func (s *BuildTimeScope) FindLocal(name string) *SymbolRef {
	if len(s.frames) == 0 {
		return nil
	}
	return s.top().find(name)
}

// Find resolves name: current function, then enclosing functions through
// upvalue capture, then as a global of the visible _ENV.
func (s *BuildTimeScope) Find(name string) *SymbolRef {
	if len(s.frames) == 0 {
		if name == config.EnvName {
			return DefaultEnv()
		}
		return Global(name, DefaultEnv())
	}

	if local := s.top().find(name); local != nil {
		return local
	}

	for i := len(s.frames) - 2; i >= 0; i-- {
		if sym := s.frames[i].find(name); sym != nil {
			return s.createUpValue(sym, i, len(s.frames)-2)
		}
	}

	if name == config.EnvName {
		return DefaultEnv()
	}
	return Global(name, s.Find(config.EnvName))
}

// createUpValue threads sym from frame closured down to frame current+1,
// capturing it in every function in between.
func (s *BuildTimeScope) createUpValue(sym *SymbolRef, closured, current int) *SymbolRef {
	if closured == current {
		return s.builders[current+1].CreateUpvalue(s, sym)
	}
	upvalue := s.createUpValue(sym, closured, current-1)
	return s.builders[current+1].CreateUpvalue(s, upvalue)
}

// FindLoop returns the innermost loop block in the current function, or
// nil. Loops of enclosing functions are never visible.
func (s *BuildTimeScope) FindLoop() *Block {
	for b := s.top().head; b != nil; b = b.parent {
		if b.loop {
			return b
		}
	}
	return nil
}

// DefineLabel declares a label in the current block.
func (s *BuildTimeScope) DefineLabel(name string, ref *diagnostics.SourceRef) *Label {
	return s.top().head.defineLabel(name, ref)
}

// RegisterGoto records a goto; it is bound when its block is popped.
func (s *BuildTimeScope) RegisterGoto(name string, ref *diagnostics.SourceRef) *Goto {
	b := s.top().head
	g := &Goto{Name: name, Source: ref}
	b.registerGoto(g, len(b.locals))
	return g
}

// LabelsAtBlockEnd marks labels followed only by void statements up to the
// end of their block. Such labels sit outside the scope of the block's
// locals, so a goto may jump to them past local declarations.
func (s *BuildTimeScope) LabelsAtBlockEnd(labels []*Label) {
	for _, l := range labels {
		l.localCount = 0
	}
}
