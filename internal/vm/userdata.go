package vm

import (
	"github.com/funvibe/lunar/internal/diagnostics"
)

// FieldGetter reads one member of a host object.
type FieldGetter func(obj interface{}) DynValue

// FieldSetter writes one member of a host object.
type FieldSetter func(obj interface{}, v DynValue) error

// FieldDescriptor is a map-based UserDataDescriptor: named getters,
// setters, methods and metamethods.
type FieldDescriptor struct {
	TypeName string
	ReadOnly bool

	Getters     map[string]FieldGetter
	Setters     map[string]FieldSetter
	Methods     map[string]DynValue
	MetaMethods map[string]DynValue
}

// NewFieldDescriptor creates an empty descriptor.
func NewFieldDescriptor(name string) *FieldDescriptor {
	return &FieldDescriptor{
		TypeName:    name,
		Getters:     make(map[string]FieldGetter),
		Setters:     make(map[string]FieldSetter),
		Methods:     make(map[string]DynValue),
		MetaMethods: make(map[string]DynValue),
	}
}

func (d *FieldDescriptor) Name() string { return d.TypeName }

// Method adds a host method.
func (d *FieldDescriptor) Method(name string, fn CallbackFunction) *FieldDescriptor {
	d.Methods[name] = NewCallback(name, fn)
	return d
}

// Field adds a member with an optional setter.
func (d *FieldDescriptor) Field(name string, get FieldGetter, set FieldSetter) *FieldDescriptor {
	d.Getters[name] = get
	if set != nil {
		d.Setters[name] = set
	}
	return d
}

func (d *FieldDescriptor) Index(_ *ExecutionContext, obj interface{}, key DynValue) (DynValue, error) {
	if key.typ != TypeString {
		return Nil, nil
	}
	if get, ok := d.Getters[key.str]; ok {
		return get(obj), nil
	}
	if m, ok := d.Methods[key.str]; ok {
		return m, nil
	}
	return Nil, nil
}

func (d *FieldDescriptor) SetIndex(_ *ExecutionContext, obj interface{}, key, value DynValue) error {
	if d.ReadOnly {
		return diagnostics.NewRuntimeError("cannot assign to read-only userdata '%s'", d.TypeName)
	}
	if key.typ == TypeString {
		if set, ok := d.Setters[key.str]; ok {
			return set(obj, value)
		}
	}
	return diagnostics.NewRuntimeError("cannot assign field '%s' of userdata '%s'", key.String(), d.TypeName)
}

func (d *FieldDescriptor) MetaMethod(name string) DynValue {
	if m, ok := d.MetaMethods[name]; ok {
		return m
	}
	return Nil
}
