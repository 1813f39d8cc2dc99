package lunar_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/cache"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/vm"
	lunar "github.com/funvibe/lunar/pkg/embed"
)

func newState(t *testing.T, opts *lunar.Options) *lunar.State {
	t.Helper()
	if opts == nil {
		opts = &lunar.Options{}
	}
	opts.Log.Level = "error"
	s, err := lunar.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmbedAPI(t *testing.T) {
	s := newState(t, nil)

	if err := s.Bind("double", func(x int) int { return x * 2 }); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := s.Bind("join", func(sep string, parts ...string) string { return strings.Join(parts, sep) }); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := s.Set("config", map[string]interface{}{"name": "lunar", "limits": []int{1, 2, 3}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, err := s.DoString(`
doubled = double(21)
name = config.name
total = 0
for _, v in ipairs(config.limits) do total = total + v end
joined = join("-", "a", "b", "c")
function minmax(a, b)
  if a < b then return a, b end
  return b, a
end`, "api")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}

	tests := []struct {
		name string
		want interface{}
	}{
		{"doubled", 42.0},
		{"name", "lunar"},
		{"total", 6.0},
		{"joined", "a-b-c"},
	}
	for _, tt := range tests {
		got, err := s.Get(tt.name)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Get(%s) = %#v, want %#v", tt.name, got, tt.want)
		}
	}

	res, err := s.Call("minmax", 9, 4)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !reflect.DeepEqual(res, []interface{}{4.0, 9.0}) {
		t.Errorf("Call(minmax) = %#v", res)
	}

	v, err := s.Eval("doubled + total")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != 48.0 {
		t.Errorf("Eval = %#v", v)
	}

	if _, err := s.Get("missing"); err == nil {
		t.Errorf("expected an error for a missing global")
	}
	if _, err := s.Call("name"); err == nil {
		t.Errorf("expected an error calling a string")
	}
}

func TestBindErrors(t *testing.T) {
	s := newState(t, nil)
	s.Bind("fail", func(msg string) (int, error) {
		if msg != "" {
			return 0, errors.New(msg)
		}
		return 1, nil
	})
	s.Bind("half", func(n int) int { return n / 2 })
	if err := s.Bind("notfunc", 3); err == nil {
		t.Fatalf("binding a number should fail")
	}

	v, err := s.DoString(`
local ok1, e1 = pcall(fail, "boom")
local ok2, r2 = pcall(fail, "")
local ok3, e3 = pcall(half, 1.5)
return tostring(ok1) .. "|" .. e1 .. "|" .. tostring(ok2) .. "|" .. r2 .. "|" .. tostring(ok3) .. "|" .. e3`, "errors")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	parts := strings.Split(v.ToScalar().Str(), "|")
	if len(parts) != 6 {
		t.Fatalf("unexpected result %q", v.ToScalar().Str())
	}
	if parts[0] != "false" || !strings.Contains(parts[1], "boom") {
		t.Errorf("error result not raised: %v", parts[:2])
	}
	if parts[2] != "true" || parts[3] != "1" {
		t.Errorf("nil error should return values: %v", parts[2:4])
	}
	if parts[4] != "false" || !strings.Contains(parts[5], "bad argument #1 to 'half'") {
		t.Errorf("non-integral argument accepted: %v", parts[4:])
	}
}

func TestBindCallback(t *testing.T) {
	s := newState(t, nil)
	s.Bind("count", func(_ *lunar.ExecutionContext, args *lunar.Arguments) (lunar.Value, error) {
		return vm.NewNumber(float64(args.Count())), nil
	})
	v, err := s.DoString("return count(1, nil, 3)", "cb")
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if v.ToScalar().Number() != 3 {
		t.Errorf("count = %v", v)
	}
}

func TestDumpAndDoFile(t *testing.T) {
	s := newState(t, nil)
	data, err := s.Dump("local a, b = ... return (a or 2) * (b or 3)", "bundle")
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	fn, err := s.LoadBundle(data)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	v, err := s.CallValue(fn, vm.NewNumber(5), vm.NewNumber(7))
	if err != nil || v.ToScalar().Number() != 35 {
		t.Fatalf("bundle call = %v, %v", v, err)
	}

	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "calc.lnrb")
	if err := os.WriteFile(bundlePath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	v, err = s.DoFile(bundlePath)
	if err != nil || v.ToScalar().Number() != 6 {
		t.Fatalf("DoFile(bundle) = %v, %v", v, err)
	}

	srcPath := filepath.Join(dir, "script.lua")
	if err := os.WriteFile(srcPath, []byte("error('from file')"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = s.DoFile(srcPath)
	if err == nil || !strings.HasPrefix(err.Error(), "script:(1,") {
		t.Fatalf("expected an error located in chunk 'script', got %v", err)
	}

	if _, err := s.Dump("return +", "broken"); err == nil {
		t.Fatalf("Dump should report syntax errors")
	}
}

func TestPersistentCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	code := "return 'cached'"
	for i := 0; i < 2; i++ {
		s := newState(t, &lunar.Options{Cache: config.CacheOptions{Path: path}})
		v, err := s.DoString(code, "c")
		if err != nil || v.ToScalar().Str() != "cached" {
			t.Fatalf("run %d: %v, %v", i, v, err)
		}
		s.Close()
	}

	store, err := cache.OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if n, err := store.Len(); err != nil || n != 1 {
		t.Fatalf("store has %d entries (%v), want 1", n, err)
	}
	data, err := store.Get(cache.Key(code, "c", config.Lua54))
	if err != nil || !vm.IsBundle(data) {
		t.Fatalf("stored entry is not a bundle: %v", err)
	}
}

func TestRethrowNestedIsScoped(t *testing.T) {
	if diagnostics.RethrowNested() {
		t.Fatalf("RethrowNested enabled before the test")
	}
	s := newState(t, &lunar.Options{RethrowNested: true})
	if !diagnostics.RethrowNested() {
		t.Fatalf("New did not enable RethrowNested")
	}
	s.Close()
	if diagnostics.RethrowNested() {
		t.Fatalf("Close did not restore RethrowNested")
	}
}

func TestNestedStatesRestoreInReverseOrder(t *testing.T) {
	outer := newState(t, &lunar.Options{RethrowNested: true})
	inner := newState(t, &lunar.Options{RethrowNested: true})
	inner.Close()
	if !diagnostics.RethrowNested() {
		t.Fatalf("closing the inner State disabled the outer State's setting")
	}
	outer.Close()
	if diagnostics.RethrowNested() {
		t.Fatalf("closing both States did not restore RethrowNested")
	}
}

func TestDialectOption(t *testing.T) {
	s := newState(t, &lunar.Options{Dialect: "5.2"})
	_, err := s.DoString("return 1 & 2", "old")
	if err == nil || !strings.Contains(err.Error(), "[compatibility: Lua 5.2]") {
		t.Fatalf("expected a tagged syntax error, got %v", err)
	}
}

func TestOutput(t *testing.T) {
	s := newState(t, nil)
	var buf bytes.Buffer
	s.SetOutput(&buf)
	if _, err := s.DoString(`print("a", 1, nil)`, "out"); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if buf.String() != "a\t1\tnil\n" {
		t.Errorf("print wrote %q", buf.String())
	}
}

type point struct{ X, Y float64 }

func TestUserDataRoundTrip(t *testing.T) {
	defer vm.OverrideRegistry()()
	d := vm.NewFieldDescriptor("point")
	d.Field("x", func(obj interface{}) vm.DynValue { return vm.NewNumber(obj.(*point).X) }, nil)
	vm.RegisterType(d)

	s := newState(t, nil)
	p := &point{X: 3, Y: 4}
	ud, ok := vm.NewUserData("point", p)
	if !ok {
		t.Fatalf("NewUserData failed")
	}
	if err := s.Set("p", ud.UserData()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Eval("p.x")
	if err != nil || v != 3.0 {
		t.Fatalf("Eval(p.x) = %v, %v", v, err)
	}
	got, err := s.Get("p")
	if err != nil || got != p {
		t.Fatalf("Get(p) = %v, %v; want the host object", got, err)
	}
}
