package vm

import (
	"github.com/funvibe/lunar/internal/pipeline"
)

// CompilerProcessor compiles ctx.AstRoot to bytecode.
type CompilerProcessor struct{}

func (cp *CompilerProcessor) Process(ctx *pipeline.Context) *pipeline.Context {
	if ctx.AstRoot == nil || ctx.Failed() || ctx.Chunk != nil {
		return ctx
	}

	chunk, err := Compile(ctx.AstRoot, ctx.Dialect)
	if err != nil {
		ctx.Errors = append(ctx.Errors, err)
		return ctx
	}
	ctx.Chunk = chunk
	return ctx
}
