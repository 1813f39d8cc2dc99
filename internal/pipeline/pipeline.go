// Package pipeline runs the load stages of a chunk (cache lookup, parse,
// compile, cache store) over one shared Context.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/funvibe/lunar/internal/ast"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/logs"
)

// Processor is one stage. Stages skip their work when an earlier stage
// already failed or already produced what they would.
type Processor interface {
	Process(ctx *Context) *Context
}

// Context carries a chunk through the stages.
type Context struct {
	Source    string
	ChunkName string
	SourceID  int
	Dialect   config.Dialect

	AstRoot *ast.Chunk
	// Chunk is the compiled *vm.Chunk. It is untyped so the vm package
	// can implement a stage without an import cycle.
	Chunk interface{}

	CacheKey string
	CacheHit bool

	Errors []error

	Ctx    context.Context
	Logger *slog.Logger
}

// NewContext prepares a context for source.
func NewContext(source, chunkName string, dialect config.Dialect) *Context {
	return &Context{
		Source:    source,
		ChunkName: chunkName,
		Dialect:   dialect,
		Ctx:       context.Background(),
		Logger:    logs.Discard(),
	}
}

// Failed reports whether a stage recorded an error.
func (c *Context) Failed() bool { return len(c.Errors) > 0 }

// Err returns the first recorded error.
func (c *Context) Err() error {
	if len(c.Errors) == 0 {
		return nil
	}
	return c.Errors[0]
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline. Every stage sees the context, even after a
// failure, so a late stage may still record its own diagnostics.
func (p *Pipeline) Run(initialCtx *Context) *Context {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
	}
	return ctx
}
