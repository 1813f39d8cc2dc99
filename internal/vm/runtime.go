package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/logs"
	"github.com/funvibe/lunar/internal/parser"
	"github.com/google/uuid"
)

// Runtime is one script instance: globals, loaded sources, the main
// processor and the execution budget. A Runtime is not safe for
// concurrent use; independent runtimes may run on separate goroutines.
type Runtime struct {
	ID uuid.UUID

	options *config.Options
	dialect config.Dialect
	colon   ColonCallPolicy

	globals    *Table
	stringMeta *Table

	main          *Processor
	mainCoroutine *Coroutine
	debug         *DebugService

	ctx    context.Context
	logger *slog.Logger
	out    io.Writer

	instructions    int64
	maxInstructions int64
	maxCallDepth    int

	sources []*SourceCode
}

// NewRuntime creates a script instance with the base library installed.
// A nil opts means defaults.
func NewRuntime(opts *config.Options) (*Runtime, error) {
	if opts == nil {
		opts = config.DefaultOptions()
	} else {
		copied := *opts
		opts = &copied
		if err := opts.Normalize(); err != nil {
			return nil, err
		}
	}

	rt := &Runtime{
		ID:              uuid.New(),
		options:         opts,
		dialect:         opts.DialectValue(),
		colon:           ParseColonCallPolicy(opts.ColonCall),
		globals:         NewTable(),
		logger:          logs.Discard(),
		out:             os.Stdout,
		maxInstructions: opts.Sandbox.MaxInstructions,
		maxCallDepth:    opts.Sandbox.MaxCallDepth,
	}
	if rt.maxCallDepth <= 0 {
		rt.maxCallDepth = config.DefaultMaxCallDepth
	}
	rt.ctx = logs.WithScriptID(context.Background(), rt.ID)
	rt.main = newProcessor(rt, nil)
	rt.mainCoroutine = &Coroutine{proc: rt.main, status: CoroutineRunning, isMain: true}
	registerBaseLibrary(rt)
	return rt, nil
}

// Options returns the normalized options the runtime was built with.
func (rt *Runtime) Options() *config.Options { return rt.options }

// Dialect returns the compatibility version.
func (rt *Runtime) Dialect() config.Dialect { return rt.dialect }

// Globals returns the global environment.
func (rt *Runtime) Globals() *Table { return rt.globals }

// GetGlobal reads a global without metamethods.
func (rt *Runtime) GetGlobal(name string) DynValue { return rt.globals.GetStr(name) }

// SetGlobal writes a global without metamethods.
func (rt *Runtime) SetGlobal(name string, v DynValue) { rt.globals.SetStr(name, v) }

// StringMetaTable returns the metatable shared by all strings, or nil.
func (rt *Runtime) StringMetaTable() *Table { return rt.stringMeta }

// SetStringMetaTable sets the metatable shared by all strings.
func (rt *Runtime) SetStringMetaTable(m *Table) { rt.stringMeta = m }

// SetContext sets the cancellation context checked while running.
func (rt *Runtime) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	rt.ctx = logs.WithScriptID(ctx, rt.ID)
}

// Context returns the cancellation context, tagged with the script id.
func (rt *Runtime) Context() context.Context { return rt.ctx }

// SetLogger replaces the logger. nil discards.
func (rt *Runtime) SetLogger(l *slog.Logger) {
	if l == nil {
		l = logs.Discard()
	}
	rt.logger = l
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// SetOutput redirects print.
func (rt *Runtime) SetOutput(w io.Writer) { rt.out = w }

// Output returns the writer print uses.
func (rt *Runtime) Output() io.Writer { return rt.out }

// MainCoroutine returns the coroutine standing for the main processor.
func (rt *Runtime) MainCoroutine() *Coroutine { return rt.mainCoroutine }

// Instructions returns the instruction count of the current outermost
// call.
func (rt *Runtime) Instructions() int64 { return rt.instructions }

// AttachDebugger installs d. Sources loaded so far are announced to it.
func (rt *Runtime) AttachDebugger(d Debugger) *DebugService {
	if d == nil {
		rt.debug = nil
		return nil
	}
	rt.debug = newDebugService(rt, d)
	for _, src := range rt.sources {
		if rt.debug.caps&CanDebugSourceCode != 0 {
			d.SetSourceCode(src)
		}
	}
	return rt.debug
}

// DebugService returns the attached debugger's service, or nil.
func (rt *Runtime) DebugService() *DebugService { return rt.debug }

// Sources lists the loaded sources by id.
func (rt *Runtime) Sources() []*SourceCode { return rt.sources }

// Source returns the source with the given id, or nil.
func (rt *Runtime) Source(id int) *SourceCode {
	if id < 0 || id >= len(rt.sources) {
		return nil
	}
	return rt.sources[id]
}

// NextSourceID is the id the next loaded source will get.
func (rt *Runtime) NextSourceID() int { return len(rt.sources) }

// LoadString parses and compiles code into a callable main chunk.
func (rt *Runtime) LoadString(code, chunkName string) (*Closure, error) {
	tree, err := parser.Parse(code, chunkName, rt.NextSourceID(), rt.dialect)
	if err != nil {
		return nil, err
	}
	chunk, err := Compile(tree, rt.dialect)
	if err != nil {
		return nil, err
	}
	return rt.LoadChunk(chunk, code), nil
}

// LoadChunk registers a compiled chunk as a new source and returns its
// main function, bound to the globals through _ENV. code is the source
// text shown by debuggers and may be empty.
func (rt *Runtime) LoadChunk(chunk *Chunk, code string) *Closure {
	src := newSourceCode(len(rt.sources), chunk.Name, code)
	src.Refs = chunk.SourceRefs()
	for _, ref := range src.Refs {
		ref.SourceID = src.ID
	}
	chunk.SourceID = src.ID
	rt.sources = append(rt.sources, src)

	env := NewTableValue(rt.globals)
	main := &Closure{
		Name:    "main chunk",
		Entry:   0,
		chunk:   chunk,
		context: newClosureContext([]string{config.EnvName}, []*DynValue{&env}),
		runtime: rt,
	}
	rt.logger.DebugContext(rt.ctx, "chunk loaded",
		"chunk", chunk.Name,
		"source", src.ID,
		"instructions", chunk.Len(),
		"dialect", chunk.Dialect.Name())
	if rt.debug != nil {
		rt.debug.sourceLoaded(src, chunk)
	}
	return main
}

// DoString loads and runs code.
func (rt *Runtime) DoString(code, chunkName string) (DynValue, error) {
	fn, err := rt.LoadString(code, chunkName)
	if err != nil {
		return Nil, err
	}
	return rt.Call(NewClosureValue(fn))
}

// Call calls fn on the main processor. Internal errors surface here as
// returned errors.
func (rt *Runtime) Call(fn DynValue, args ...DynValue) (result DynValue, err error) {
	p := rt.main
	outermost := p.loopDepth == 0
	if outermost {
		rt.instructions = 0
		p.opsSinceCheck = 0
	}
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*diagnostics.InternalError)
			if !ok {
				panic(r)
			}
			if outermost {
				p.frames = p.frames[:0]
				p.truncate(0)
				p.loopDepth = 0
			}
			result, err = Nil, ie
		}
		if outermost && rt.debug != nil {
			rt.debug.executionEnded()
		}
		if err != nil && outermost {
			rt.logger.WarnContext(rt.ctx, "uncaught runtime error", "error", err.Error())
		}
	}()

	return p.Call(fn, args...)
}

// sandboxViolation builds the fatal error raised when a budget runs out.
func (rt *Runtime) sandboxViolation(format string, args ...interface{}) *diagnostics.RuntimeError {
	msg := fmt.Sprintf(format, args...)
	rt.logger.WarnContext(rt.ctx, "sandbox violation", "reason", msg)
	re := diagnostics.NewRuntimeError("sandbox violation: %s", msg)
	re.Fatal = true
	return re
}

// IsSandboxViolation reports whether err was raised by a sandbox limit.
func IsSandboxViolation(err error) bool {
	var re *diagnostics.RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	const prefix = "sandbox violation"
	return len(re.Message) >= len(prefix) && re.Message[:len(prefix)] == prefix
}
