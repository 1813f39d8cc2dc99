package vm

import (
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/config"
)

type counter struct {
	name  string
	value float64
}

func counterDescriptor() *FieldDescriptor {
	d := NewFieldDescriptor("counter")
	d.Field("value",
		func(obj interface{}) DynValue { return NewNumber(obj.(*counter).value) },
		func(obj interface{}, v DynValue) error {
			obj.(*counter).value = v.Number()
			return nil
		})
	d.Field("name", func(obj interface{}) DynValue { return NewString(obj.(*counter).name) }, nil)
	d.Method("bump", func(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		c := args.Get(0).UserData().Object.(*counter)
		n, err := args.AsNumber(1, "bump")
		if err != nil {
			return Nil, err
		}
		c.value += n
		return NewNumber(c.value), nil
	})
	d.MetaMethods[config.MetaToString] = NewCallback("__tostring", func(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
		return NewString("counter(" + args.Get(0).UserData().Object.(*counter).name + ")"), nil
	})
	return d
}

func TestUserDataDescriptor(t *testing.T) {
	defer OverrideRegistry()()
	RegisterType(counterDescriptor())

	c := &counter{name: "hits", value: 1}
	ud, ok := NewUserData("counter", c)
	if !ok {
		t.Fatalf("registered type not found")
	}
	rt := newTestRuntime(t, nil)
	rt.SetGlobal("c", ud)

	v, err := rt.DoString(`
c.value = c.value + 1
local after = c:bump(10)
return after, c.name, tostring(c), type(c)`, "ud")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	got := v.TupleValues()
	expectNumber(t, got[0], 12)
	expectString(t, got[1], "hits")
	expectString(t, got[2], "counter(hits)")
	expectString(t, got[3], "userdata")
	if c.value != 12 {
		t.Fatalf("host object not updated: %v", c.value)
	}

	_, err = rt.DoString(`c.name = "other"`, "ro")
	if err == nil || !strings.Contains(err.Error(), "cannot assign field 'name'") {
		t.Fatalf("expected a field assignment error, got %v", err)
	}
	if v, err := rt.DoString("return c.missing", "miss"); err != nil || !v.ToScalar().IsNil() {
		t.Fatalf("unknown member = %v, %v", v, err)
	}
}

func TestRegistryPolicies(t *testing.T) {
	restore := OverrideRegistry()

	if _, ok := NewUserData("widget", struct{}{}); ok {
		t.Fatalf("explicit policy must reject unregistered types")
	}

	SetRegistrationPolicy(RegisterAutomatic)
	SetDefaultAccessMode(AccessReadOnly)
	ud, ok := NewUserData("widget", struct{}{})
	if !ok {
		t.Fatalf("automatic policy must create a descriptor")
	}
	if names := RegisteredTypes(); len(names) != 1 || names[0] != "widget" {
		t.Fatalf("registered types = %v", names)
	}

	rt := newTestRuntime(t, nil)
	rt.SetGlobal("w", ud)
	_, err := rt.DoString("w.x = 1", "ro")
	if err == nil || !strings.Contains(err.Error(), "read-only userdata 'widget'") {
		t.Fatalf("expected a read-only error, got %v", err)
	}

	restore()
	if len(RegisteredTypes()) != 0 {
		t.Fatalf("restore left descriptors behind: %v", RegisteredTypes())
	}
	if _, ok := LookupType("widget"); ok {
		t.Fatalf("restore did not reset the registration policy")
	}
}

func TestColonCallPolicies(t *testing.T) {
	defer OverrideRegistry()()
	RegisterType(NewFieldDescriptor("box"))

	tests := []struct {
		policy    string
		onTable   bool
		onUser    bool
		plainCall bool
	}{
		{"userdata", false, true, false},
		{"method", true, true, false},
		{"suppress", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			rt := newTestRuntime(t, &config.Options{ColonCall: tt.policy})
			var seen []bool
			probe := NewCallback("probe", func(_ *ExecutionContext, args *CallbackArguments) (DynValue, error) {
				seen = append(seen, args.IsMethodCall)
				return Nil, nil
			})
			tbl := NewTable()
			tbl.Set(NewString("probe"), probe)
			rt.SetGlobal("t", NewTableValue(tbl))

			meta := NewTable()
			meta.Set(NewString(config.MetaIndex), NewTableValue(tbl))
			ud, _ := NewUserData("box", nil)
			ud.UserData().SetMetaTable(meta)
			rt.SetGlobal("u", ud)

			if _, err := rt.DoString("t:probe() u:probe() t.probe(t)", "colon"); err != nil {
				t.Fatalf("DoString: %v", err)
			}
			if len(seen) != 3 || seen[0] != tt.onTable || seen[1] != tt.onUser || seen[2] != tt.plainCall {
				t.Fatalf("IsMethodCall = %v", seen)
			}
		})
	}
}
