package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/funvibe/lunar/internal/config"
	"github.com/google/uuid"
)

func TestKey(t *testing.T) {
	a := Key("return 1", "main", config.Lua54)
	if a != Key("return 1", "main", config.Lua54) {
		t.Fatal("Key is not deterministic")
	}
	distinct := []string{
		Key("return 2", "main", config.Lua54),
		Key("return 1", "other", config.Lua54),
		Key("return 1", "main", config.Lua53),
	}
	for _, k := range distinct {
		if k == a {
			t.Errorf("key collision: %s", k)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.Put("c", 3) // evicts b, the least recently used

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("a = %d, %v", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("c = %d, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}

	c.Put("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("updated a = %d", v)
	}
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be removed")
	}
}

func TestLRUDefaultSize(t *testing.T) {
	c := NewLRU[string](0)
	for i := 0; i < config.DefaultCacheEntries+10; i++ {
		c.Put(string(rune('a'+i%26))+string(rune(i)), "x")
	}
	if c.Len() != config.DefaultCacheEntries {
		t.Errorf("Len = %d, want %d", c.Len(), config.DefaultCacheEntries)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "chunks.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	if _, err := s.Get("missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get(missing) error = %v, want ErrMiss", err)
	}

	owner := uuid.New()
	if err := s.Put("k", []byte{1, 2, 3}, owner); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("k", []byte{4, 5}, owner); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}
	data, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(data) != 2 || data[0] != 4 || data[1] != 5 {
		t.Errorf("Get = %v", data)
	}
	if n, err := s.Len(); err != nil || n != 1 {
		t.Errorf("Len = %d, %v", n, err)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrMiss) {
		t.Errorf("after Delete error = %v", err)
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := s.Put("persisted", []byte("bundle"), uuid.New()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	data, err := s.Get("persisted")
	if err != nil || string(data) != "bundle" {
		t.Errorf("Get after reopen = %q, %v", data, err)
	}
}
