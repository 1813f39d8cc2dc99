package vm

import (
	"math"

	"github.com/funvibe/lunar/internal/diagnostics"
)

// tableKey is the comparable form of a DynValue used as a hash key.
type tableKey struct {
	typ DataType
	num float64
	str string
	ptr interface{}
}

type tableEntry struct {
	key   DynValue
	value DynValue
}

// Table is the script table: a 1-based array part plus an insertion
// ordered hash part. Removed hash entries stay as nil tombstones until the
// next insert compacts them, so next() is stable while assigning nil to
// existing fields during a traversal.
type Table struct {
	arr     []DynValue
	hash    map[tableKey]int
	entries []tableEntry
	dead    int

	meta *Table
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

func keyOf(k DynValue) (tableKey, bool) {
	switch k.typ {
	case TypeNumber:
		n := k.num
		if n == 0 {
			n = 0 // -0 and +0 are the same key
		}
		return tableKey{typ: TypeNumber, num: n}, true
	case TypeString:
		return tableKey{typ: TypeString, str: k.str}, true
	case TypeBoolean:
		return tableKey{typ: TypeBoolean, num: k.num}, true
	case TypeNil, TypeVoid:
		return tableKey{}, false
	case TypeClrFunction:
		return tableKey{typ: TypeFunction, ptr: k.ref}, true
	}
	return tableKey{typ: k.typ, ptr: k.ref}, true
}

// arrayIndex returns the 0-based array position of k, or -1.
func (t *Table) arrayIndex(k DynValue) int {
	if k.typ != TypeNumber {
		return -1
	}
	i, ok := toInteger(k.num)
	if !ok || i < 1 || i > int64(len(t.arr)) {
		return -1
	}
	return int(i - 1)
}

// Get reads a field without metamethods.
func (t *Table) Get(k DynValue) DynValue {
	k = k.ToScalar()
	if i := t.arrayIndex(k); i >= 0 {
		return t.arr[i]
	}
	key, ok := keyOf(k)
	if !ok || t.hash == nil {
		return Nil
	}
	if pos, ok := t.hash[key]; ok {
		return t.entries[pos].value
	}
	return Nil
}

// GetStr is Get with a string key.
func (t *Table) GetStr(name string) DynValue {
	if t.hash == nil {
		return Nil
	}
	if pos, ok := t.hash[tableKey{typ: TypeString, str: name}]; ok {
		return t.entries[pos].value
	}
	return Nil
}

// GetInt is Get with an integer key.
func (t *Table) GetInt(i int) DynValue {
	if i >= 1 && i <= len(t.arr) {
		return t.arr[i-1]
	}
	return t.Get(NewNumber(float64(i)))
}

// Set writes a field without metamethods. Nil and NaN keys raise a
// runtime error; a nil value removes the field.
func (t *Table) Set(k, v DynValue) {
	k = k.ToScalar()
	v = v.ToScalar()
	if k.typ == TypeNumber && math.IsNaN(k.num) {
		panic(diagnostics.NewRuntimeError("table index is NaN"))
	}
	if k.IsNil() {
		panic(diagnostics.NewRuntimeError("table index is nil"))
	}

	if i := t.arrayIndex(k); i >= 0 {
		t.arr[i] = v
		if v.IsNil() && i == len(t.arr)-1 {
			t.trimArray()
		}
		return
	}

	if k.typ == TypeNumber && k.num == float64(len(t.arr)+1) {
		if v.IsNil() {
			t.removeHash(k)
			return
		}
		t.removeHash(k)
		t.arr = append(t.arr, v)
		t.migrate()
		return
	}

	if v.IsNil() {
		t.removeHash(k)
		return
	}
	t.setHash(k, v)
}

// SetStr is Set with a string key.
func (t *Table) SetStr(name string, v DynValue) {
	t.Set(NewString(name), v)
}

// SetInt is Set with an integer key.
func (t *Table) SetInt(i int, v DynValue) {
	t.Set(NewNumber(float64(i)), v)
}

// Append stores v at #t+1.
func (t *Table) Append(v DynValue) {
	t.Set(NewNumber(float64(len(t.arr)+1)), v)
}

func (t *Table) setHash(k, v DynValue) {
	key, _ := keyOf(k)
	if t.hash == nil {
		t.hash = make(map[tableKey]int)
	}
	if pos, ok := t.hash[key]; ok {
		t.entries[pos].value = v
		return
	}
	if t.dead > 0 && t.dead >= len(t.entries)/2 {
		t.compact()
	}
	t.hash[key] = len(t.entries)
	t.entries = append(t.entries, tableEntry{key: k, value: v})
}

func (t *Table) removeHash(k DynValue) {
	if t.hash == nil {
		return
	}
	key, ok := keyOf(k)
	if !ok {
		return
	}
	if pos, ok := t.hash[key]; ok && t.entries[pos].value.IsNotNil() {
		t.entries[pos].value = Nil
		t.dead++
	}
}

func (t *Table) compact() {
	live := t.entries[:0]
	for _, e := range t.entries {
		key, _ := keyOf(e.key)
		if e.value.IsNil() {
			delete(t.hash, key)
			continue
		}
		t.hash[key] = len(live)
		live = append(live, e)
	}
	for i := len(live); i < len(t.entries); i++ {
		t.entries[i] = tableEntry{}
	}
	t.entries = live
	t.dead = 0
}

// migrate moves keys len+1, len+2, ... from the hash into the array.
func (t *Table) migrate() {
	if t.hash == nil {
		return
	}
	for {
		k := NewNumber(float64(len(t.arr) + 1))
		key, _ := keyOf(k)
		pos, ok := t.hash[key]
		if !ok || t.entries[pos].value.IsNil() {
			return
		}
		t.arr = append(t.arr, t.entries[pos].value)
		t.entries[pos].value = Nil
		t.dead++
	}
}

func (t *Table) trimArray() {
	n := len(t.arr)
	for n > 0 && t.arr[n-1].IsNil() {
		n--
	}
	t.arr = t.arr[:n]
}

// Length is the raw border used by the # operator.
func (t *Table) Length() int { return len(t.arr) }

// Next returns the entry following key in traversal order: the array part
// first, then hash entries in insertion order. A nil key starts the walk;
// a nil returned key ends it.
func (t *Table) Next(key DynValue) (DynValue, DynValue, bool) {
	key = key.ToScalar()
	start := 0
	if key.IsNotNil() {
		if i := t.arrayIndex(key); i >= 0 {
			start = i + 1
		} else {
			k, _ := keyOf(key)
			pos, ok := t.hash[k]
			switch {
			case ok:
				start = len(t.arr) + pos + 1
			case key.typ == TypeNumber && key.num >= 1 && key.num == math.Trunc(key.num):
				// the array part shrank under the traversal
				start = len(t.arr)
			default:
				return Nil, Nil, false
			}
		}
	}
	for i := start; i < len(t.arr); i++ {
		if t.arr[i].IsNotNil() {
			return NewNumber(float64(i + 1)), t.arr[i], true
		}
	}
	from := start - len(t.arr)
	if from < 0 {
		from = 0
	}
	for i := from; i < len(t.entries); i++ {
		if e := t.entries[i]; e.value.IsNotNil() {
			return e.key, e.value, true
		}
	}
	return Nil, Nil, true
}

// MetaTable returns the table's metatable or nil.
func (t *Table) MetaTable() *Table { return t.meta }

// SetMetaTable replaces the metatable. A metatable with a __metatable
// field is protected.
func (t *Table) SetMetaTable(m *Table) error {
	if t.meta != nil && t.meta.GetStr("__metatable").IsNotNil() {
		return diagnostics.NewRuntimeError("cannot change a protected metatable")
	}
	t.meta = m
	return nil
}

// Values returns the array part.
func (t *Table) Values() []DynValue {
	out := make([]DynValue, len(t.arr))
	copy(out, t.arr)
	return out
}
