package symbols

import "fmt"

// SymbolRefType tags the SymbolRef variant.
type SymbolRefType byte

const (
	SymbolLocal SymbolRefType = iota
	SymbolUpvalue
	SymbolGlobal
	SymbolDefaultEnv
)

func (t SymbolRefType) String() string {
	switch t {
	case SymbolLocal:
		return "Local"
	case SymbolUpvalue:
		return "UpValue"
	case SymbolGlobal:
		return "Global"
	case SymbolDefaultEnv:
		return "DefaultEnv"
	}
	return fmt.Sprintf("SymbolRefType(%d)", byte(t))
}

// Attributes are local variable attributes.
type Attributes int32

const (
	AttrConst Attributes = 1 << iota
	AttrToBeClosed
)

// SymbolRef is a resolved reference to a variable. Locals are identified
// by pointer: every read of one logical local shares one *SymbolRef, and
// shadowing creates a new one.
type SymbolRef struct {
	Type       SymbolRefType
	Name       string
	Index      int
	Attributes Attributes
	// Env is the _ENV symbol a global resolves against.
	Env *SymbolRef
}

var defaultEnv = &SymbolRef{Type: SymbolDefaultEnv}

// DefaultEnv is the marker for the script's root environment.
func DefaultEnv() *SymbolRef { return defaultEnv }

// Global creates a reference to name in the environment env.
func Global(name string, env *SymbolRef) *SymbolRef {
	return &SymbolRef{Type: SymbolGlobal, Name: name, Index: -1, Env: env}
}

// Local creates a local reference. Slots of scope-defined locals are
// assigned when the enclosing frame is resolved.
func Local(name string, index int, attrs Attributes) *SymbolRef {
	return &SymbolRef{Type: SymbolLocal, Name: name, Index: index, Attributes: attrs}
}

// UpValue creates a reference to the index-th captured variable.
func UpValue(name string, index int) *SymbolRef {
	return &SymbolRef{Type: SymbolUpvalue, Name: name, Index: index}
}

func (s *SymbolRef) IsConst() bool      { return s.Attributes&AttrConst != 0 }
func (s *SymbolRef) IsToBeClosed() bool { return s.Attributes&AttrToBeClosed != 0 }

func (s *SymbolRef) String() string {
	switch s.Type {
	case SymbolDefaultEnv:
		return "(default _ENV)"
	case SymbolGlobal:
		return fmt.Sprintf("%s : %s / %s", s.Name, s.Type, s.Env)
	}
	return fmt.Sprintf("%s : %s[%d]", s.Name, s.Type, s.Index)
}

// WriteBinary writes type, index, name and attributes.
func (s *SymbolRef) WriteBinary(w *DumpWriter) {
	w.WriteUint8(byte(s.Type))
	w.WriteInt32(int32(s.Index))
	w.WriteString(s.Name)
	w.WriteInt32(int32(s.Attributes))
}

// WriteBinaryEnv writes the table index of s.Env, or -1.
func (s *SymbolRef) WriteBinaryEnv(w *DumpWriter, index map[*SymbolRef]int) {
	if s.Env == nil {
		w.WriteInt32(-1)
		return
	}
	idx, ok := index[s.Env]
	if !ok {
		w.fail(fmt.Errorf("environment of %s is not in the symbol table", s.Name))
		return
	}
	w.WriteInt32(int32(idx))
}

// ReadBinary reverses WriteBinary. A DefaultEnv record yields the shared
// DefaultEnv marker.
func ReadBinary(r *DumpReader) *SymbolRef {
	typ := SymbolRefType(r.ReadUint8())
	index := r.ReadInt32()
	name := r.ReadString()
	attrs := Attributes(r.ReadInt32())
	if typ == SymbolDefaultEnv {
		return defaultEnv
	}
	return &SymbolRef{Type: typ, Index: int(index), Name: name, Attributes: attrs}
}

// ReadBinaryEnv reverses WriteBinaryEnv against the already-read table.
func (s *SymbolRef) ReadBinaryEnv(r *DumpReader, table []*SymbolRef) {
	idx := r.ReadInt32()
	if idx < 0 {
		return
	}
	if int(idx) >= len(table) {
		r.fail(fmt.Errorf("environment index %d out of range", idx))
		return
	}
	if s != defaultEnv {
		s.Env = table[idx]
	}
}

// IndexSymbols returns syms extended with any environment symbols they
// reference, and the position of every symbol in that table.
func IndexSymbols(syms []*SymbolRef) ([]*SymbolRef, map[*SymbolRef]int) {
	table := make([]*SymbolRef, 0, len(syms))
	index := make(map[*SymbolRef]int, len(syms))
	var add func(s *SymbolRef)
	add = func(s *SymbolRef) {
		if s == nil {
			return
		}
		if _, ok := index[s]; ok {
			return
		}
		index[s] = len(table)
		table = append(table, s)
		add(s.Env)
	}
	for _, s := range syms {
		add(s)
	}
	return table, index
}

// WriteSymbolTable writes a self-contained table (see IndexSymbols) and
// returns the index used for each symbol.
func WriteSymbolTable(w *DumpWriter, syms []*SymbolRef) map[*SymbolRef]int {
	table, index := IndexSymbols(syms)
	w.WriteUint32(uint32(len(table)))
	for _, s := range table {
		s.WriteBinary(w)
	}
	for _, s := range table {
		s.WriteBinaryEnv(w, index)
	}
	return index
}

// ReadSymbolTable reverses WriteSymbolTable.
func ReadSymbolTable(r *DumpReader) ([]*SymbolRef, error) {
	n := r.ReadUint32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if n > maxTableLen {
		return nil, fmt.Errorf("symbol table too large: %d", n)
	}
	table := make([]*SymbolRef, n)
	for i := range table {
		table[i] = ReadBinary(r)
	}
	for _, s := range table {
		s.ReadBinaryEnv(r, table)
	}
	return table, r.Err()
}
