package pipeline

import (
	"errors"
	"testing"

	"github.com/funvibe/lunar/internal/config"
)

type recordStage struct {
	name string
	fail bool
	seen *[]string
}

func (r *recordStage) Process(ctx *Context) *Context {
	*r.seen = append(*r.seen, r.name)
	if r.fail {
		ctx.Errors = append(ctx.Errors, errors.New(r.name+" failed"))
	}
	return ctx
}

func TestRunVisitsEveryStage(t *testing.T) {
	var seen []string
	p := New(
		&recordStage{name: "a", seen: &seen},
		&recordStage{name: "b", fail: true, seen: &seen},
		&recordStage{name: "c", fail: true, seen: &seen},
	)
	ctx := p.Run(NewContext("return 1", "chunk", config.Lua53))
	if len(seen) != 3 {
		t.Fatalf("visited %v", seen)
	}
	if !ctx.Failed() || ctx.Err().Error() != "b failed" {
		t.Fatalf("Err = %v, want the first failure", ctx.Err())
	}
	if ctx.Dialect != config.Lua53 || ctx.ChunkName != "chunk" {
		t.Fatalf("context fields lost: %+v", ctx)
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := New().Run(NewContext("", "empty", config.DefaultDialect))
	if ctx.Failed() || ctx.Err() != nil {
		t.Fatalf("empty pipeline should not fail")
	}
	if ctx.Logger == nil || ctx.Ctx == nil {
		t.Fatalf("defaults not set")
	}
}
