package parser

import (
	"github.com/funvibe/lunar/internal/pipeline"
)

// ParserProcessor builds the syntax tree of ctx.Source.
type ParserProcessor struct{}

func (pp *ParserProcessor) Process(ctx *pipeline.Context) *pipeline.Context {
	if ctx.Failed() || ctx.Chunk != nil {
		return ctx
	}

	tree, err := Parse(ctx.Source, ctx.ChunkName, ctx.SourceID, ctx.Dialect)
	if err != nil {
		ctx.Errors = append(ctx.Errors, err)
		return ctx
	}
	ctx.AstRoot = tree
	return ctx
}
