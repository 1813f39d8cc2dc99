package vm

import (
	"sort"
)

// ColonCallPolicy decides how host callbacks see calls made with ':'.
type ColonCallPolicy int

const (
	// ColonFlagOnUserData flags the call only when the receiver is userdata.
	ColonFlagOnUserData ColonCallPolicy = iota
	// ColonFlagMethodCall always flags ':' calls.
	ColonFlagMethodCall
	// ColonSuppressFlag never flags them.
	ColonSuppressFlag
)

// ParseColonCallPolicy maps the config spelling to a policy.
func ParseColonCallPolicy(s string) ColonCallPolicy {
	switch s {
	case "method":
		return ColonFlagMethodCall
	case "suppress":
		return ColonSuppressFlag
	}
	return ColonFlagOnUserData
}

// isMethodCall applies the policy to a ':' call with the given receiver.
func (p ColonCallPolicy) isMethodCall(receiver DynValue) bool {
	switch p {
	case ColonFlagMethodCall:
		return true
	case ColonSuppressFlag:
		return false
	}
	return receiver.typ == TypeUserData
}

// RegistrationPolicy controls which host types may be wrapped as userdata.
type RegistrationPolicy int

const (
	// RegisterExplicit requires a registered descriptor.
	RegisterExplicit RegistrationPolicy = iota
	// RegisterAutomatic creates an empty descriptor on first use.
	RegisterAutomatic
)

// AccessMode is the default member access mode for new descriptors.
type AccessMode int

const (
	AccessReadWrite AccessMode = iota
	AccessReadOnly
)

// UserDataDescriptor exposes a host object to scripts.
type UserDataDescriptor interface {
	Name() string
	Index(ctx *ExecutionContext, obj interface{}, key DynValue) (DynValue, error)
	SetIndex(ctx *ExecutionContext, obj interface{}, key, value DynValue) error
	MetaMethod(name string) DynValue
}

// UserData is a host object visible to scripts.
type UserData struct {
	Object     interface{}
	Descriptor UserDataDescriptor
	meta       *Table
}

// MetaTable returns the userdata's own metatable, if any.
func (u *UserData) MetaTable() *Table { return u.meta }

// SetMetaTable sets the userdata's metatable (host side only).
func (u *UserData) SetMetaTable(m *Table) { u.meta = m }

// registry is process-wide state. It is not synchronized: hosts mutate it
// at startup, and tests go through OverrideRegistry.
var registry = struct {
	policy      RegistrationPolicy
	access      AccessMode
	descriptors map[string]UserDataDescriptor
}{
	descriptors: make(map[string]UserDataDescriptor),
}

// OverrideRegistry snapshots the registry and returns a func restoring it.
func OverrideRegistry() (restore func()) {
	policy, access := registry.policy, registry.access
	saved := make(map[string]UserDataDescriptor, len(registry.descriptors))
	for k, v := range registry.descriptors {
		saved[k] = v
	}
	return func() {
		registry.policy = policy
		registry.access = access
		registry.descriptors = saved
	}
}

// SetRegistrationPolicy sets the process-wide registration policy.
func SetRegistrationPolicy(p RegistrationPolicy) { registry.policy = p }

// SetDefaultAccessMode sets the access mode of automatic descriptors.
func SetDefaultAccessMode(m AccessMode) { registry.access = m }

// RegisterType registers a descriptor under its name.
func RegisterType(d UserDataDescriptor) {
	registry.descriptors[d.Name()] = d
}

// UnregisterType removes a descriptor.
func UnregisterType(name string) {
	delete(registry.descriptors, name)
}

// LookupType returns the descriptor for name. Under RegisterAutomatic an
// empty field descriptor is created on demand.
func LookupType(name string) (UserDataDescriptor, bool) {
	if d, ok := registry.descriptors[name]; ok {
		return d, true
	}
	if registry.policy != RegisterAutomatic {
		return nil, false
	}
	d := NewFieldDescriptor(name)
	d.ReadOnly = registry.access == AccessReadOnly
	registry.descriptors[name] = d
	return d, true
}

// RegisteredTypes lists registered descriptor names in order.
func RegisteredTypes() []string {
	names := make([]string, 0, len(registry.descriptors))
	for name := range registry.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewUserData wraps obj with the descriptor registered as typeName.
func NewUserData(typeName string, obj interface{}) (DynValue, bool) {
	d, ok := LookupType(typeName)
	if !ok {
		return Nil, false
	}
	return NewUserDataValue(&UserData{Object: obj, Descriptor: d}), true
}
