package vm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/symbols"
	"github.com/fxamacker/cbor/v2"
)

// Bundle format: 4 magic bytes, a version byte, then a canonical CBOR
// bundleFile. Symbols travel as one binary symbol table so that every
// instruction referring to the same local shares one *SymbolRef after
// loading.
var bundleMagic = [4]byte{'L', 'N', 'R', 'B'}

const bundleVersion byte = 0x01

// ErrNotBundle is returned by UnmarshalChunk for data without the bundle
// header.
var ErrNotBundle = errors.New("not a compiled chunk")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type bundleFile struct {
	Name    string              `cbor:"1,keyasint"`
	Dialect string              `cbor:"2,keyasint"`
	Symbols []byte              `cbor:"3,keyasint"`
	Refs    []bundleRef         `cbor:"4,keyasint"`
	Frames  []bundleFrame       `cbor:"5,keyasint"`
	Blocks  []bundleBlock       `cbor:"6,keyasint"`
	Code    []bundleInstruction `cbor:"7,keyasint"`
	Frame   int                 `cbor:"8,keyasint"`
}

type bundleRef struct {
	Pos   [4]int `cbor:"1,keyasint"`
	Flags uint8  `cbor:"2,keyasint,omitempty"`
}

const (
	refStepStop uint8 = 1 << iota
	refCannotBreakpoint
)

type bundleFrame struct {
	Symbols      []int `cbor:"1,keyasint"`
	ToFirstBlock int   `cbor:"2,keyasint"`
}

type bundleBlock struct {
	From        int   `cbor:"1,keyasint"`
	To          int   `cbor:"2,keyasint"`
	ToInclusive int   `cbor:"3,keyasint"`
	ToBeClosed  []int `cbor:"4,keyasint,omitempty"`
}

// bundleValue holds a literal operand; only scalar constants appear in
// compiled code.
type bundleValue struct {
	Type DataType `cbor:"1,keyasint"`
	Num  float64  `cbor:"2,keyasint,omitempty"`
	Str  string   `cbor:"3,keyasint,omitempty"`
}

// Index fields are 1-based so that omitempty drops absent references.
type bundleInstruction struct {
	Op      Opcode       `cbor:"1,keyasint"`
	NumVal  int          `cbor:"2,keyasint,omitempty"`
	NumVal2 int          `cbor:"3,keyasint,omitempty"`
	Name    string       `cbor:"4,keyasint,omitempty"`
	Desc    string       `cbor:"5,keyasint,omitempty"`
	Value   *bundleValue `cbor:"6,keyasint,omitempty"`
	Symbol  int          `cbor:"7,keyasint,omitempty"`
	Symbols []int        `cbor:"8,keyasint,omitempty"`
	Frame   int          `cbor:"9,keyasint,omitempty"`
	Block   int          `cbor:"10,keyasint,omitempty"`
	Define  bool         `cbor:"11,keyasint,omitempty"`
	Source  int          `cbor:"12,keyasint,omitempty"`
}

type bundleWriter struct {
	syms   []*symbols.SymbolRef
	symIdx map[*symbols.SymbolRef]int
	refs   map[*diagnostics.SourceRef]int
	frames map[*symbols.RuntimeScopeFrame]int
	blocks map[*symbols.RuntimeScopeBlock]int
	file   bundleFile
}

func (w *bundleWriter) addSymbol(s *symbols.SymbolRef) {
	if s == nil {
		return
	}
	if _, ok := w.symIdx[s]; !ok {
		w.symIdx[s] = len(w.syms)
		w.syms = append(w.syms, s)
	}
}

func (w *bundleWriter) collect(chunk *Chunk) {
	add := func(f *symbols.RuntimeScopeFrame) {
		if f == nil {
			return
		}
		for _, s := range f.DebugSymbols {
			w.addSymbol(s)
		}
	}
	add(chunk.Frame)
	for _, ins := range chunk.Code {
		w.addSymbol(ins.Symbol)
		for _, s := range ins.Symbols {
			w.addSymbol(s)
		}
		add(ins.Frame)
		if ins.Block != nil {
			for _, s := range ins.Block.ToBeClosed {
				w.addSymbol(s)
			}
		}
	}
}

func (w *bundleWriter) symbol(s *symbols.SymbolRef, index map[*symbols.SymbolRef]int) int {
	if s == nil {
		return 0
	}
	return index[s] + 1
}

func (w *bundleWriter) symbolList(syms []*symbols.SymbolRef, index map[*symbols.SymbolRef]int) []int {
	if len(syms) == 0 {
		return nil
	}
	out := make([]int, len(syms))
	for i, s := range syms {
		out[i] = w.symbol(s, index)
	}
	return out
}

func (w *bundleWriter) frame(f *symbols.RuntimeScopeFrame, index map[*symbols.SymbolRef]int) int {
	if f == nil {
		return 0
	}
	if i, ok := w.frames[f]; ok {
		return i
	}
	w.file.Frames = append(w.file.Frames, bundleFrame{
		Symbols:      w.symbolList(f.DebugSymbols, index),
		ToFirstBlock: f.ToFirstBlock,
	})
	w.frames[f] = len(w.file.Frames)
	return w.frames[f]
}

func (w *bundleWriter) block(b *symbols.RuntimeScopeBlock, index map[*symbols.SymbolRef]int) int {
	if b == nil {
		return 0
	}
	if i, ok := w.blocks[b]; ok {
		return i
	}
	w.file.Blocks = append(w.file.Blocks, bundleBlock{
		From:        b.From,
		To:          b.To,
		ToInclusive: b.ToInclusive,
		ToBeClosed:  w.symbolList(b.ToBeClosed, index),
	})
	w.blocks[b] = len(w.file.Blocks)
	return w.blocks[b]
}

func (w *bundleWriter) ref(r *diagnostics.SourceRef) int {
	if r == nil {
		return 0
	}
	if i, ok := w.refs[r]; ok {
		return i
	}
	var flags uint8
	if r.IsStepStop {
		flags |= refStepStop
	}
	if r.CannotBreakpoint {
		flags |= refCannotBreakpoint
	}
	w.file.Refs = append(w.file.Refs, bundleRef{
		Pos:   [4]int{r.FromLine, r.FromCol, r.ToLine, r.ToCol},
		Flags: flags,
	})
	w.refs[r] = len(w.file.Refs)
	return w.refs[r]
}

// MarshalChunk serializes a compiled chunk. Breakpoint flags are not
// part of the bundle.
func MarshalChunk(chunk *Chunk) ([]byte, error) {
	w := &bundleWriter{
		symIdx: make(map[*symbols.SymbolRef]int),
		refs:   make(map[*diagnostics.SourceRef]int),
		frames: make(map[*symbols.RuntimeScopeFrame]int),
		blocks: make(map[*symbols.RuntimeScopeBlock]int),
	}
	w.collect(chunk)

	var symBuf bytes.Buffer
	dw := symbols.NewDumpWriter(&symBuf)
	index := symbols.WriteSymbolTable(dw, w.syms)
	if err := dw.Flush(); err != nil {
		return nil, fmt.Errorf("writing symbol table: %w", err)
	}

	w.file.Name = chunk.Name
	w.file.Dialect = chunk.Dialect.Name()
	w.file.Symbols = symBuf.Bytes()
	w.file.Frame = w.frame(chunk.Frame, index)
	w.file.Code = make([]bundleInstruction, len(chunk.Code))
	for i, ins := range chunk.Code {
		bi := bundleInstruction{
			Op:      ins.Op,
			NumVal:  ins.NumVal,
			NumVal2: ins.NumVal2,
			Name:    ins.Name,
			Desc:    ins.Desc,
			Symbol:  w.symbol(ins.Symbol, index),
			Symbols: w.symbolList(ins.Symbols, index),
			Frame:   w.frame(ins.Frame, index),
			Block:   w.block(ins.Block, index),
			Define:  ins.Define,
			Source:  w.ref(ins.Source),
		}
		if ins.Op == OP_LITERAL {
			switch ins.Value.Type() {
			case TypeNil, TypeBoolean, TypeNumber, TypeString:
				bi.Value = &bundleValue{Type: ins.Value.Type(), Num: ins.Value.Number(), Str: ins.Value.Str()}
			default:
				return nil, fmt.Errorf("instruction %d: cannot serialize a %s literal", i, ins.Value.TypeName())
			}
		}
		w.file.Code[i] = bi
	}

	body, err := cborEncMode.Marshal(&w.file)
	if err != nil {
		return nil, fmt.Errorf("bundle cbor encoding failed: %w", err)
	}
	out := make([]byte, 0, len(body)+5)
	out = append(out, bundleMagic[:]...)
	out = append(out, bundleVersion)
	return append(out, body...), nil
}

// IsBundle reports whether data starts with the bundle header.
func IsBundle(data []byte) bool {
	return len(data) >= 5 && bytes.Equal(data[:4], bundleMagic[:])
}

// UnmarshalChunk reverses MarshalChunk. The result has source id 0 until
// a runtime loads it.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	if !IsBundle(data) {
		return nil, ErrNotBundle
	}
	if data[4] != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", data[4])
	}
	var f bundleFile
	if err := cbor.Unmarshal(data[5:], &f); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal chunk: %w", err)
	}
	dialect, ok := config.ParseDialect(f.Dialect)
	if !ok {
		return nil, fmt.Errorf("bundle: unknown dialect %q", f.Dialect)
	}

	table, err := symbols.ReadSymbolTable(symbols.NewDumpReader(bytes.NewReader(f.Symbols)))
	if err != nil {
		return nil, fmt.Errorf("bundle: reading symbol table: %w", err)
	}
	r := &bundleReader{file: &f, table: table}

	refs := make([]*diagnostics.SourceRef, len(f.Refs))
	for i, br := range f.Refs {
		ref := diagnostics.NewSourceRef(0, br.Pos[0], br.Pos[1], br.Pos[2], br.Pos[3], br.Flags&refStepStop != 0)
		ref.CannotBreakpoint = br.Flags&refCannotBreakpoint != 0
		refs[i] = ref
	}
	frames := make([]*symbols.RuntimeScopeFrame, len(f.Frames))
	for i, bf := range f.Frames {
		syms, err := r.symbolList(bf.Symbols)
		if err != nil {
			return nil, err
		}
		frames[i] = &symbols.RuntimeScopeFrame{DebugSymbols: syms, ToFirstBlock: bf.ToFirstBlock}
	}
	blocks := make([]*symbols.RuntimeScopeBlock, len(f.Blocks))
	for i, bb := range f.Blocks {
		closed, err := r.symbolList(bb.ToBeClosed)
		if err != nil {
			return nil, err
		}
		blocks[i] = &symbols.RuntimeScopeBlock{From: bb.From, To: bb.To, ToInclusive: bb.ToInclusive, ToBeClosed: closed}
	}

	chunk := NewChunk(f.Name, 0, dialect)
	if f.Frame > 0 {
		if f.Frame > len(frames) {
			return nil, fmt.Errorf("bundle: frame %d out of range", f.Frame)
		}
		chunk.Frame = frames[f.Frame-1]
	}
	for i, bi := range f.Code {
		ins := Instruction{
			Op:      bi.Op,
			NumVal:  bi.NumVal,
			NumVal2: bi.NumVal2,
			Name:    bi.Name,
			Desc:    bi.Desc,
			Define:  bi.Define,
		}
		if _, ok := OpcodeNames[bi.Op]; !ok {
			return nil, fmt.Errorf("bundle: instruction %d: unknown opcode %d", i, bi.Op)
		}
		if bi.Op.isJump() && (bi.NumVal < 0 || bi.NumVal > len(f.Code)) {
			return nil, fmt.Errorf("bundle: instruction %d: jump target %d out of range", i, bi.NumVal)
		}
		if bi.Value != nil {
			ins.Value = bi.Value.decode()
		}
		if ins.Symbol, err = r.symbol(bi.Symbol); err != nil {
			return nil, err
		}
		if ins.Symbols, err = r.symbolList(bi.Symbols); err != nil {
			return nil, err
		}
		if ins.Frame, err = lookup(frames, bi.Frame, "frame"); err != nil {
			return nil, err
		}
		if ins.Block, err = lookup(blocks, bi.Block, "block"); err != nil {
			return nil, err
		}
		if ins.Source, err = lookup(refs, bi.Source, "source ref"); err != nil {
			return nil, err
		}
		chunk.Emit(ins)
	}
	return chunk, nil
}

type bundleReader struct {
	file  *bundleFile
	table []*symbols.SymbolRef
}

func (r *bundleReader) symbol(i int) (*symbols.SymbolRef, error) {
	return lookup(r.table, i, "symbol")
}

func (r *bundleReader) symbolList(idx []int) ([]*symbols.SymbolRef, error) {
	if len(idx) == 0 {
		return nil, nil
	}
	out := make([]*symbols.SymbolRef, len(idx))
	for i, n := range idx {
		s, err := r.symbol(n)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// lookup resolves a 1-based index; 0 is nil.
func lookup[T any](items []*T, i int, what string) (*T, error) {
	if i == 0 {
		return nil, nil
	}
	if i < 0 || i > len(items) {
		return nil, fmt.Errorf("bundle: %s %d out of range", what, i)
	}
	return items[i-1], nil
}

func (v *bundleValue) decode() DynValue {
	switch v.Type {
	case TypeBoolean:
		return NewBoolean(v.Num != 0)
	case TypeNumber:
		return NewNumber(v.Num)
	case TypeString:
		return NewString(v.Str)
	}
	return Nil
}
