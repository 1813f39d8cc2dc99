package symbols

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/diagnostics"
)

func TestDumpIntegersRoundTrip(t *testing.T) {
	ints := []int32{0, 1, -1, 63, -64, 64, math.MaxInt32, math.MinInt32}
	uints := []uint32{0, 1, 127, 128, math.MaxUint32}

	var buf bytes.Buffer
	w := NewDumpWriter(&buf)
	for _, v := range ints {
		w.WriteInt32(v)
	}
	for _, v := range uints {
		w.WriteUint32(v)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewDumpReader(&buf)
	for _, want := range ints {
		if got := r.ReadInt32(); got != want {
			t.Errorf("int32: got %d, want %d", got, want)
		}
	}
	for _, want := range uints {
		if got := r.ReadUint32(); got != want {
			t.Errorf("uint32: got %d, want %d", got, want)
		}
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
}

func TestDumpStringsAreInterned(t *testing.T) {
	var buf bytes.Buffer
	w := NewDumpWriter(&buf)
	w.WriteString("alpha")
	w.WriteString("beta")
	w.WriteString("alpha")
	w.WriteString("")
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	// "alpha" costs 1+1+5 bytes, "beta" 1+1+4, the repeat 1, "" 1+1.
	if buf.Len() != 7+6+1+2 {
		t.Errorf("unexpected encoded size %d", buf.Len())
	}

	r := NewDumpReader(&buf)
	for _, want := range []string{"alpha", "beta", "alpha", ""} {
		if got := r.ReadString(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
}

func TestDumpReaderErrors(t *testing.T) {
	r := NewDumpReader(bytes.NewReader([]byte{5}))
	r.ReadString()
	if r.Err() == nil {
		t.Fatal("expected error for dangling string reference")
	}

	r = NewDumpReader(bytes.NewReader(nil))
	r.ReadInt32()
	if r.Err() == nil {
		t.Fatal("expected error on empty input")
	}
}

func TestSymbolRefRoundTrip(t *testing.T) {
	env := Local("_ENV", 0, 0)
	custom := UpValue("_ENV", 2)
	syms := []*SymbolRef{
		Global("print", env),
		Local("x", 3, AttrConst),
		Local("h", 4, AttrToBeClosed|AttrConst),
		UpValue("y", 1),
		Global("z", custom),
		Global("w", DefaultEnv()),
		DefaultEnv(),
	}

	var buf bytes.Buffer
	w := NewDumpWriter(&buf)
	index := WriteSymbolTable(w, syms)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	table, err := ReadSymbolTable(NewDumpReader(&buf))
	if err != nil {
		t.Fatal(err)
	}

	for _, orig := range syms {
		got := table[index[orig]]
		if got.Type != orig.Type || got.Name != orig.Name || got.Index != orig.Index || got.Attributes != orig.Attributes {
			t.Errorf("%v: round trip gave %v", orig, got)
		}
		if orig.Env == nil {
			if got.Env != nil {
				t.Errorf("%v: unexpected env %v", orig, got.Env)
			}
			continue
		}
		if got.Env != table[index[orig.Env]] {
			t.Errorf("%v: env reference not preserved", orig)
		}
	}
	if table[index[DefaultEnv()]] != DefaultEnv() {
		t.Error("DefaultEnv must read back as the shared marker")
	}
}

func expectInternal(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if _, ok := recover().(*diagnostics.InternalError); !ok {
			t.Fatal("expected an internal error")
		}
	}()
	fn()
}

func expectSyntax(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		se, ok := r.(*diagnostics.SyntaxError)
		if !ok {
			t.Fatalf("expected a syntax error, got %v", r)
		}
		if !strings.Contains(se.Message, want) {
			t.Fatalf("message %q does not contain %q", se.Message, want)
		}
	}()
	fn()
}

func TestScopeBalance(t *testing.T) {
	s := NewBuildTimeScope()
	s.PushFunction(nil, true)
	expectInternal(t, func() { s.PopBlock() })

	s.PushBlock()
	f := s.CurrentFrame()
	expectInternal(t, func() { f.RuntimeFrame() })
	expectInternal(t, func() { f.ResolveLRefs() })
	s.PopBlock()

	rf := s.PopFunction()
	if rf.Count() != 0 {
		t.Errorf("unexpected slots: %d", rf.Count())
	}
	expectInternal(t, func() { s.PopFunction() })
}

func TestShadowingAndSlots(t *testing.T) {
	s := NewBuildTimeScope()
	s.PushFunction(nil, false)

	x1 := s.TryDefineLocal("x", 0)
	if s.Find("x") != x1 || s.Find("x") != s.Find("x") {
		t.Fatal("reads of one local must share one SymbolRef")
	}
	s.PushBlock()
	x2 := s.TryDefineLocal("x", 0)
	if x2 == x1 || s.Find("x") != x2 {
		t.Fatal("shadowing must create a new SymbolRef")
	}
	x3 := s.TryDefineLocal("x", AttrConst)
	if s.Find("x") != x3 {
		t.Fatal("redefinition in the same block must shadow")
	}
	blk := s.PopBlock()
	if s.Find("x") != x1 {
		t.Fatal("popping the block must reveal the outer local")
	}

	f := s.CurrentFrame()
	rf := s.PopFunction()
	if x1.Index != 0 || x2.Index != 1 || x3.Index != 2 {
		t.Errorf("slots = %d,%d,%d", x1.Index, x2.Index, x3.Index)
	}
	if rf.Count() != 3 || blk.From != 1 || blk.To != 2 {
		t.Errorf("unexpected runtime data: count=%d block=%+v", rf.Count(), blk)
	}
	f.ResolveLRefs()
	if x1.Index != 0 || rf.Count() != 3 {
		t.Error("ResolveLRefs must be idempotent")
	}
}

func TestUpvalueCaptureThroughFrames(t *testing.T) {
	s := NewBuildTimeScope()
	s.PushFunction(nil, true)
	env := s.TryDefineLocal("_ENV", 0)
	a := s.TryDefineLocal("a", 0)

	mid := &UpvalueList{}
	s.PushFunction(mid, false)
	inner := &UpvalueList{}
	s.PushFunction(inner, false)

	ref := s.Find("a")
	if ref.Type != SymbolUpvalue || ref.Index != 0 {
		t.Fatalf("expected upvalue 0, got %v", ref)
	}
	if len(mid.Symbols) != 1 || mid.Symbols[0] != a {
		t.Fatalf("middle function must capture the local itself: %v", mid.Symbols)
	}
	if len(inner.Symbols) != 1 || inner.Symbols[0].Type != SymbolUpvalue {
		t.Fatalf("inner function must capture the middle upvalue: %v", inner.Symbols)
	}
	if again := s.Find("a"); again.Index != 0 || len(inner.Symbols) != 1 {
		t.Error("captures must be deduplicated by name")
	}

	g := s.Find("print")
	if g.Type != SymbolGlobal || g.Env == nil || g.Env.Type != SymbolUpvalue || g.Env.Name != "_ENV" {
		t.Fatalf("global must resolve against the captured _ENV: %v", g)
	}
	if len(mid.Symbols) != 2 || mid.Symbols[1] != env {
		t.Error("_ENV must be captured through the middle function")
	}
	s.PopFunction()
	s.PopFunction()
	s.PopFunction()
}

func TestDynamicScopeResolvesGlobals(t *testing.T) {
	s := NewBuildTimeScope()
	g := s.Find("x")
	if g.Type != SymbolGlobal || g.Env != DefaultEnv() {
		t.Fatalf("got %v", g)
	}
	if s.Find("_ENV") != DefaultEnv() {
		t.Fatal("_ENV must be the default environment")
	}
}

func TestFindLoopStopsAtFunction(t *testing.T) {
	s := NewBuildTimeScope()
	s.PushFunction(nil, false)
	loop := s.PushLoopBlock()
	s.PushBlock()
	if s.FindLoop() != loop {
		t.Fatal("expected the enclosing loop")
	}
	s.PushFunction(&UpvalueList{}, false)
	if s.FindLoop() != nil {
		t.Fatal("loops must not be visible across functions")
	}
	s.PopFunction()
	s.PopBlock()
	s.PopBlock()
	s.PopFunction()
}

func ref(line int) *diagnostics.SourceRef {
	return diagnostics.NewSourceRef(0, line, 1, line, 4, true)
}

func TestGotoValidation(t *testing.T) {
	t.Run("duplicate label", func(t *testing.T) {
		s := NewBuildTimeScope()
		s.PushFunction(nil, false)
		s.DefineLabel("a", ref(1))
		expectSyntax(t, "label 'a' already defined on line 1", func() { s.DefineLabel("a", ref(2)) })
	})

	t.Run("missing label", func(t *testing.T) {
		s := NewBuildTimeScope()
		s.PushFunction(nil, false)
		s.RegisterGoto("nowhere", ref(3))
		expectSyntax(t, "no visible label 'nowhere' for <goto> at line 3", func() { s.PopFunction() })
	})

	t.Run("jump into scope", func(t *testing.T) {
		s := NewBuildTimeScope()
		s.PushFunction(nil, false)
		s.PushBlock()
		s.RegisterGoto("l", ref(1))
		s.TryDefineLocal("v", 0)
		s.DefineLabel("l", ref(3))
		s.TryDefineLocal("w", 0)
		expectSyntax(t, "<goto l> at line 1 jumps into the scope of local 'v'", func() { s.PopBlock() })
	})

	t.Run("label at block end", func(t *testing.T) {
		s := NewBuildTimeScope()
		s.PushFunction(nil, false)
		s.PushBlock()
		g := s.RegisterGoto("done", ref(1))
		s.TryDefineLocal("v", 0)
		l := s.DefineLabel("done", ref(3))
		s.LabelsAtBlockEnd([]*Label{l})
		s.PopBlock()
		if g.Label() != l {
			t.Fatal("goto not bound")
		}
		s.PopFunction()
	})

	t.Run("goto from nested block", func(t *testing.T) {
		s := NewBuildTimeScope()
		s.PushFunction(nil, false)
		outer := s.CurrentBlock()
		s.TryDefineLocal("a", 0)
		s.PushBlock()
		s.TryDefineLocal("h", AttrToBeClosed)
		g := s.RegisterGoto("out", ref(2))
		s.PopBlock()
		l := s.DefineLabel("out", ref(4))
		s.PopFunction()

		if g.Label() != l || l.Block() != outer {
			t.Fatal("goto must bind to the outer label")
		}
		path, blocks := GotoExit(g)
		if path != ExitWithCleanup || len(blocks) != 1 || len(blocks[0].ToBeClosed) != 1 {
			t.Fatalf("got %v %v", path, blocks)
		}
	})
}

func TestExitBlocks(t *testing.T) {
	s := NewBuildTimeScope()
	s.PushFunction(nil, false)
	loop := s.PushLoopBlock()
	s.TryDefineLocal("c", AttrToBeClosed)
	inner := s.PushBlock()
	other := NewBuildTimeScope()
	other.PushFunction(nil, false)
	stranger := other.PushBlock()
	s.PopBlock()
	s.PopBlock()
	s.PopFunction()

	if path, _ := ExitBlocks(inner, loop, false); path != ExitNoCleanup {
		t.Errorf("exclusive exit: got %v", path)
	}
	if path, blocks := ExitBlocks(inner, loop, true); path != ExitWithCleanup || len(blocks) != 1 {
		t.Errorf("inclusive exit: got %v %v", path, blocks)
	}
	if path, _ := ExitBlocks(inner, stranger, false); path != ExitUnreachable {
		t.Errorf("unrelated block: got %v", path)
	}
}
