package cache

import (
	"path/filepath"
	"testing"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/parser"
	"github.com/funvibe/lunar/internal/pipeline"
	"github.com/funvibe/lunar/internal/vm"
	"github.com/google/uuid"
)

func loader(c *Chunks) *pipeline.Pipeline {
	return pipeline.New(
		&LookupProcessor{Cache: c},
		&parser.ParserProcessor{},
		&vm.CompilerProcessor{},
		&SaveProcessor{Cache: c},
	)
}

func load(t *testing.T, p *pipeline.Pipeline, src string) *pipeline.Context {
	t.Helper()
	ctx := p.Run(pipeline.NewContext(src, "cached", config.Lua54))
	if err := ctx.Err(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := ctx.Chunk.(*vm.Chunk); !ok {
		t.Fatalf("no chunk produced")
	}
	return ctx
}

func TestChunksMemoryLayer(t *testing.T) {
	c, err := NewChunks(config.CacheOptions{MaxEntries: 4})
	if err != nil {
		t.Fatalf("NewChunks: %v", err)
	}
	p := loader(c)

	first := load(t, p, "return 1 + 1")
	if first.CacheHit || first.AstRoot == nil {
		t.Fatalf("first load should parse")
	}
	second := load(t, p, "return 1 + 1")
	if !second.CacheHit || second.AstRoot != nil {
		t.Fatalf("second load should come from the cache")
	}
	if second.Chunk == first.Chunk {
		t.Fatalf("cache hits must decode a fresh chunk")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	rt, err := vm.NewRuntime(nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	v, err := rt.Call(vm.NewClosureValue(rt.LoadChunk(second.Chunk.(*vm.Chunk), "")))
	if err != nil || v.ToScalar().Number() != 2 {
		t.Fatalf("cached chunk returned %v, %v", v, err)
	}
}

func TestChunksPersistentLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	c, err := NewChunks(config.CacheOptions{Path: path})
	if err != nil {
		t.Fatalf("NewChunks: %v", err)
	}
	load(t, loader(c), "local x = 5 return x")
	c.Close()

	c, err = NewChunks(config.CacheOptions{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	ctx := load(t, loader(c), "local x = 5 return x")
	if !ctx.CacheHit {
		t.Fatalf("expected a hit from the sqlite store")
	}
}

func TestChunksDropsCorruptEntries(t *testing.T) {
	c, err := NewChunks(config.CacheOptions{})
	if err != nil {
		t.Fatalf("NewChunks: %v", err)
	}
	key := Key("return 3", "cached", config.Lua54)
	if err := c.Put(key, []byte("not a bundle"), uuid.Nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ctx := load(t, loader(c), "return 3")
	if ctx.CacheHit {
		t.Fatalf("corrupt entry must not count as a hit")
	}
	if data, _, err := c.Get(key); err != nil || !vm.IsBundle(data) {
		t.Fatalf("entry was not replaced by a fresh bundle")
	}
}

func TestDisabledCache(t *testing.T) {
	c, err := NewChunks(config.CacheOptions{Disabled: true})
	if err != nil || c != nil {
		t.Fatalf("NewChunks(disabled) = %v, %v", c, err)
	}
	ctx := load(t, loader(c), "return 4")
	if ctx.CacheHit || ctx.CacheKey != "" {
		t.Fatalf("disabled cache should stay out of the way")
	}
}

func TestSyntaxErrorsStopThePipeline(t *testing.T) {
	c, _ := NewChunks(config.CacheOptions{})
	ctx := loader(c).Run(pipeline.NewContext("return +", "broken", config.Lua54))
	if ctx.Err() == nil || ctx.Chunk != nil {
		t.Fatalf("expected a syntax error and no chunk")
	}
	if c.Len() != 0 {
		t.Fatalf("failed loads must not be cached")
	}
}
