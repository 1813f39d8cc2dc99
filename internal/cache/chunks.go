package cache

import (
	"errors"
	"fmt"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/logs"
	"github.com/funvibe/lunar/internal/pipeline"
	"github.com/funvibe/lunar/internal/vm"
	"github.com/google/uuid"
)

// Chunks caches compiled chunks as bundles: the LRU always, the sqlite
// store when a path is configured. Entries are bytes so every hit yields
// a fresh chunk that the loader may bind to its own source id.
type Chunks struct {
	mem   *LRU[[]byte]
	store *Store
}

// NewChunks builds the cache described by opts. It returns nil when
// caching is disabled; a nil *Chunks is a valid, always-missing cache.
func NewChunks(opts config.CacheOptions) (*Chunks, error) {
	if opts.Disabled {
		return nil, nil
	}
	c := &Chunks{mem: NewLRU[[]byte](opts.MaxEntries)}
	if opts.Path != "" {
		s, err := OpenStore(opts.Path)
		if err != nil {
			return nil, err
		}
		c.store = s
	}
	return c, nil
}

// Close releases the persistent store.
func (c *Chunks) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Len is the number of in-memory entries.
func (c *Chunks) Len() int {
	if c == nil {
		return 0
	}
	return c.mem.Len()
}

// Get returns the bundle stored under key and the layer it came from.
func (c *Chunks) Get(key string) ([]byte, string, error) {
	if c == nil {
		return nil, "", ErrMiss
	}
	if data, ok := c.mem.Get(key); ok {
		return data, "memory", nil
	}
	if c.store == nil {
		return nil, "", ErrMiss
	}
	data, err := c.store.Get(key)
	if err != nil {
		return nil, "", err
	}
	c.mem.Put(key, data)
	return data, "sqlite", nil
}

// Put stores a bundle in every layer.
func (c *Chunks) Put(key string, data []byte, owner uuid.UUID) error {
	if c == nil {
		return nil
	}
	c.mem.Put(key, data)
	if c.store != nil {
		return c.store.Put(key, data, owner)
	}
	return nil
}

// Forget drops key from every layer.
func (c *Chunks) Forget(key string) error {
	if c == nil {
		return nil
	}
	c.mem.Remove(key)
	if c.store != nil {
		return c.store.Delete(key)
	}
	return nil
}

// LookupProcessor fills ctx.Chunk from the cache. It runs before parsing.
type LookupProcessor struct {
	Cache *Chunks
}

func (lp *LookupProcessor) Process(ctx *pipeline.Context) *pipeline.Context {
	if lp.Cache == nil || ctx.Failed() {
		return ctx
	}
	ctx.CacheKey = Key(ctx.Source, ctx.ChunkName, ctx.Dialect)

	data, layer, err := lp.Cache.Get(ctx.CacheKey)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			ctx.Logger.WarnContext(ctx.Ctx, "cache read failed", "chunk", ctx.ChunkName, "error", err.Error())
		}
		ctx.Logger.DebugContext(ctx.Ctx, "cache miss", "chunk", ctx.ChunkName)
		return ctx
	}

	chunk, err := vm.UnmarshalChunk(data)
	if err != nil {
		ctx.Logger.WarnContext(ctx.Ctx, "dropping unreadable cache entry", "chunk", ctx.ChunkName, "error", err.Error())
		if ferr := lp.Cache.Forget(ctx.CacheKey); ferr != nil {
			ctx.Logger.WarnContext(ctx.Ctx, "cache delete failed", "error", ferr.Error())
		}
		return ctx
	}
	ctx.Chunk = chunk
	ctx.CacheHit = true
	ctx.Logger.DebugContext(ctx.Ctx, "cache hit", "chunk", ctx.ChunkName, "layer", layer)
	return ctx
}

// SaveProcessor stores a freshly compiled ctx.Chunk. It runs after the
// compiler.
type SaveProcessor struct {
	Cache *Chunks
}

func (sp *SaveProcessor) Process(ctx *pipeline.Context) *pipeline.Context {
	if sp.Cache == nil || ctx.Failed() || ctx.CacheHit || ctx.Chunk == nil {
		return ctx
	}
	chunk, ok := ctx.Chunk.(*vm.Chunk)
	if !ok {
		ctx.Errors = append(ctx.Errors, fmt.Errorf("cache: unexpected chunk type %T", ctx.Chunk))
		return ctx
	}
	if ctx.CacheKey == "" {
		ctx.CacheKey = Key(ctx.Source, ctx.ChunkName, ctx.Dialect)
	}

	data, err := vm.MarshalChunk(chunk)
	if err != nil {
		ctx.Logger.WarnContext(ctx.Ctx, "cannot bundle chunk", "chunk", ctx.ChunkName, "error", err.Error())
		return ctx
	}
	owner, _ := logs.ScriptID(ctx.Ctx)
	if err := sp.Cache.Put(ctx.CacheKey, data, owner); err != nil {
		ctx.Logger.WarnContext(ctx.Ctx, "cache write failed", "chunk", ctx.ChunkName, "error", err.Error())
		return ctx
	}
	ctx.Logger.DebugContext(ctx.Ctx, "chunk cached", "chunk", ctx.ChunkName, "bytes", len(data))
	return ctx
}
