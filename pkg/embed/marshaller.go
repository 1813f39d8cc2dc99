package lunar

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/funvibe/lunar/internal/vm"
)

// maxMarshalDepth bounds nested tables when converting to Go.
const maxMarshalDepth = 100

var (
	dynValueType = reflect.TypeOf(vm.DynValue{})
	errorType    = reflect.TypeOf((*error)(nil)).Elem()

	errCyclicTable = errors.New("table is nested too deeply or cyclic")
)

// Marshaller converts between Go values and script values. Only plain
// data is supported: booleans, numbers, strings, slices and maps of
// those. Functions, userdata and coroutines pass through as Values.
type Marshaller struct{}

func NewMarshaller() *Marshaller {
	return &Marshaller{}
}

// ToValue converts a Go value to a script value.
func (m *Marshaller) ToValue(val interface{}) (vm.DynValue, error) {
	switch x := val.(type) {
	case nil:
		return vm.Nil, nil
	case vm.DynValue:
		return x, nil
	case *vm.Table:
		return vm.NewTableValue(x), nil
	case *vm.Closure:
		return vm.NewClosureValue(x), nil
	case *vm.UserData:
		return vm.NewUserDataValue(x), nil
	case vm.CallbackFunction:
		return vm.NewCallback("?", x), nil
	case func(*vm.ExecutionContext, *vm.CallbackArguments) (vm.DynValue, error):
		return vm.NewCallback("?", x), nil
	}

	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return vm.NewNumber(float64(v.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return vm.NewNumber(float64(v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return vm.NewNumber(v.Float()), nil
	case reflect.Bool:
		return vm.NewBoolean(v.Bool()), nil
	case reflect.String:
		return vm.NewString(v.String()), nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return vm.Nil, nil
		}
		return m.sliceToTable(v)
	case reflect.Map:
		if v.IsNil() {
			return vm.Nil, nil
		}
		return m.mapToTable(v)
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return vm.Nil, nil
		}
	}
	return vm.Nil, fmt.Errorf("cannot convert %T to a script value", val)
}

func (m *Marshaller) sliceToTable(v reflect.Value) (vm.DynValue, error) {
	t := vm.NewTable()
	for i := 0; i < v.Len(); i++ {
		el, err := m.ToValue(v.Index(i).Interface())
		if err != nil {
			return vm.Nil, fmt.Errorf("element %d: %w", i, err)
		}
		t.SetInt(i+1, el)
	}
	return vm.NewTableValue(t), nil
}

func (m *Marshaller) mapToTable(v reflect.Value) (vm.DynValue, error) {
	t := vm.NewTable()
	iter := v.MapRange()
	for iter.Next() {
		key, err := m.ToValue(iter.Key().Interface())
		if err != nil {
			return vm.Nil, fmt.Errorf("map key: %w", err)
		}
		if key.IsNil() || key.Type() == vm.TypeNumber && math.IsNaN(key.Number()) {
			return vm.Nil, fmt.Errorf("map key %v cannot index a table", iter.Key().Interface())
		}
		val, err := m.ToValue(iter.Value().Interface())
		if err != nil {
			return vm.Nil, fmt.Errorf("map value: %w", err)
		}
		t.Set(key, val)
	}
	return vm.NewTableValue(t), nil
}

// FromValue converts a script value to a Go value. targetType is
// optional; when given the result is converted to it.
func (m *Marshaller) FromValue(val vm.DynValue, targetType reflect.Type) (interface{}, error) {
	return m.fromValue(val, targetType, 0)
}

func (m *Marshaller) fromValue(val vm.DynValue, targetType reflect.Type, depth int) (interface{}, error) {
	if targetType == dynValueType {
		return val, nil
	}
	if val.Type() == vm.TypeTuple {
		out := make([]interface{}, 0, len(val.TupleValues()))
		for _, el := range val.TupleValues() {
			g, err := m.fromValue(el, nil, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	}

	val = val.ToScalar()
	var out interface{}
	switch val.Type() {
	case vm.TypeNil, vm.TypeVoid:
		return nil, nil
	case vm.TypeBoolean:
		out = val.Boolean()
	case vm.TypeNumber:
		out = val.Number()
	case vm.TypeString:
		out = val.Str()
	case vm.TypeTable:
		if depth >= maxMarshalDepth {
			return nil, errCyclicTable
		}
		return m.tableToGo(val.Table(), targetType, depth+1)
	case vm.TypeUserData:
		if out = val.UserData().Object; out == nil {
			return nil, nil
		}
	default:
		out = val
	}
	if targetType == nil {
		return out, nil
	}
	return convert(out, targetType)
}

// convert adapts a scalar to targetType, checking integer targets for
// an exact representation.
func convert(val interface{}, targetType reflect.Type) (interface{}, error) {
	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(targetType) {
		return val, nil
	}
	if f, ok := val.(float64); ok {
		switch targetType.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("number %s has no integer representation", vm.FormatNumber(f))
			}
		case reflect.String:
			return reflect.ValueOf(vm.FormatNumber(f)).Convert(targetType).Interface(), nil
		}
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType).Interface(), nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", rv.Type(), targetType)
}

func (m *Marshaller) tableToGo(t *vm.Table, targetType reflect.Type, depth int) (interface{}, error) {
	if targetType != nil {
		switch targetType.Kind() {
		case reflect.Slice:
			return m.tableToSlice(t, targetType.Elem(), depth)
		case reflect.Map:
			return m.tableToMap(t, targetType, depth)
		case reflect.Interface:
		default:
			return nil, fmt.Errorf("cannot convert table to %s", targetType)
		}
	}

	n := 0
	for k, _, ok := t.Next(vm.Nil); ok && k.IsNotNil(); k, _, ok = t.Next(k) {
		n++
	}
	if n == t.Length() {
		return m.tableToSlice(t, nil, depth)
	}
	return m.tableToMap(t, nil, depth)
}

func (m *Marshaller) tableToSlice(t *vm.Table, elemType reflect.Type, depth int) (interface{}, error) {
	if elemType == nil {
		elemType = reflect.TypeOf((*interface{})(nil)).Elem()
	}
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), 0, t.Length())
	for i := 1; i <= t.Length(); i++ {
		g, err := m.fromValue(t.GetInt(i), elemType, depth)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		slice = reflect.Append(slice, valueOrZero(g, elemType))
	}
	return slice.Interface(), nil
}

func (m *Marshaller) tableToMap(t *vm.Table, mapType reflect.Type, depth int) (interface{}, error) {
	if mapType == nil {
		mapType = reflect.TypeOf(map[interface{}]interface{}{})
	}
	result := reflect.MakeMap(mapType)
	for k, v, ok := t.Next(vm.Nil); ok && k.IsNotNil(); k, v, ok = t.Next(k) {
		gk, err := m.fromValue(k, mapType.Key(), depth)
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		gv, err := m.fromValue(v, mapType.Elem(), depth)
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		result.SetMapIndex(valueOrZero(gk, mapType.Key()), valueOrZero(gv, mapType.Elem()))
	}
	return result.Interface(), nil
}

func valueOrZero(val interface{}, typ reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(val)
}
