// Package lunar is the embedding API: a script State wrapping one runtime,
// its load pipeline and the compiled chunk cache.
package lunar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/funvibe/lunar/internal/cache"
	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/logs"
	"github.com/funvibe/lunar/internal/parser"
	"github.com/funvibe/lunar/internal/pipeline"
	"github.com/funvibe/lunar/internal/vm"
)

type (
	Options          = config.Options
	Value            = vm.DynValue
	Debugger         = vm.Debugger
	DebugService     = vm.DebugService
	ExecutionContext = vm.ExecutionContext
	Arguments        = vm.CallbackArguments
)

// State is one script instance. It is not safe for concurrent use.
type State struct {
	rt         *vm.Runtime
	loader     *pipeline.Pipeline
	compiler   *pipeline.Pipeline
	chunks     *cache.Chunks
	marshaller *Marshaller

	closers []io.Closer
	restore func()
}

// New creates a State. A nil opts means defaults. Records at or above
// opts.Log.Level go to stderr and the configured sinks.
//
// opts.RethrowNested overrides a process-wide setting until Close. States
// created with it must be closed in reverse order of creation.
func New(opts *Options) (*State, error) {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	rt, err := vm.NewRuntime(opts)
	if err != nil {
		return nil, err
	}
	opts = rt.Options()

	s := &State{rt: rt, marshaller: NewMarshaller()}
	logger, closer, err := logs.New(opts.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	rt.SetLogger(logger)
	s.closers = append(s.closers, closer)

	s.chunks, err = cache.NewChunks(opts.Cache)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening chunk cache: %w", err)
	}
	if s.chunks != nil {
		s.closers = append(s.closers, s.chunks)
	}

	s.loader = pipeline.New(
		&cache.LookupProcessor{Cache: s.chunks},
		&parser.ParserProcessor{},
		&vm.CompilerProcessor{},
		&cache.SaveProcessor{Cache: s.chunks},
	)
	s.compiler = pipeline.New(
		&parser.ParserProcessor{},
		&vm.CompilerProcessor{},
	)

	if opts.RethrowNested {
		s.restore = diagnostics.OverrideRethrowNested(true)
	}
	return s, nil
}

// Close releases log files and the cache, and restores process-wide
// settings changed by New. Close overlapping States last-created first;
// any other order can leave RethrowNested at a stale value.
func (s *State) Close() error {
	if s.restore != nil {
		s.restore()
		s.restore = nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Runtime exposes the underlying runtime.
func (s *State) Runtime() *vm.Runtime { return s.rt }

// Logger returns the logger the runtime writes to.
func (s *State) Logger() *slog.Logger { return s.rt.Logger() }

// SetLogger replaces the logger.
func (s *State) SetLogger(l *slog.Logger) { s.rt.SetLogger(l) }

// SetOutput redirects print.
func (s *State) SetOutput(w io.Writer) { s.rt.SetOutput(w) }

// SetContext installs a cancellation context for subsequent calls.
func (s *State) SetContext(ctx context.Context) { s.rt.SetContext(ctx) }

func (s *State) run(p *pipeline.Pipeline, code, chunkName string) (*vm.Chunk, error) {
	ctx := pipeline.NewContext(code, chunkName, s.rt.Dialect())
	ctx.SourceID = s.rt.NextSourceID()
	ctx.Ctx = s.rt.Context()
	ctx.Logger = s.rt.Logger()

	ctx = p.Run(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunk, ok := ctx.Chunk.(*vm.Chunk)
	if !ok {
		return nil, &diagnostics.InternalError{Message: "pipeline produced no chunk for " + chunkName}
	}
	return chunk, nil
}

// LoadString compiles code, through the cache, into a function value.
func (s *State) LoadString(code, chunkName string) (Value, error) {
	chunk, err := s.run(s.loader, code, chunkName)
	if err != nil {
		return vm.Nil, err
	}
	return vm.NewClosureValue(s.rt.LoadChunk(chunk, code)), nil
}

// DoString loads and runs code.
func (s *State) DoString(code, chunkName string) (Value, error) {
	fn, err := s.LoadString(code, chunkName)
	if err != nil {
		return vm.Nil, err
	}
	return s.rt.Call(fn)
}

// DoFile runs a source file or a bundle written by Dump.
func (s *State) DoFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.Nil, fmt.Errorf("reading script: %w", err)
	}
	if vm.IsBundle(data) {
		fn, err := s.LoadBundle(data)
		if err != nil {
			return vm.Nil, fmt.Errorf("%s: %w", path, err)
		}
		return s.rt.Call(fn)
	}
	return s.DoString(string(data), config.TrimSourceExt(filepath.Base(path)))
}

// Dump compiles code into a bundle that LoadBundle or DoFile accept.
func (s *State) Dump(code, chunkName string) ([]byte, error) {
	chunk, err := s.run(s.compiler, code, chunkName)
	if err != nil {
		return nil, err
	}
	return vm.MarshalChunk(chunk)
}

// LoadBundle loads a bundle into a function value. Bundles carry no
// source text, so debuggers see an empty source.
func (s *State) LoadBundle(data []byte) (Value, error) {
	chunk, err := vm.UnmarshalChunk(data)
	if err != nil {
		return vm.Nil, err
	}
	if !chunk.Dialect.Valid() {
		return vm.Nil, fmt.Errorf("bundle %s has an unknown dialect", chunk.Name)
	}
	return vm.NewClosureValue(s.rt.LoadChunk(chunk, "")), nil
}

// Call calls the global function funcName. The result is nil, a single
// Go value, or a []interface{} for several results.
func (s *State) Call(funcName string, args ...interface{}) (interface{}, error) {
	fn := s.rt.GetGlobal(funcName)
	if !fn.IsCallable() && fn.Type() != vm.TypeTable && fn.Type() != vm.TypeUserData {
		return nil, fmt.Errorf("function '%s' not found", funcName)
	}
	values := make([]vm.DynValue, len(args))
	for i, arg := range args {
		v, err := s.marshaller.ToValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		values[i] = v
	}
	result, err := s.rt.Call(fn, values...)
	if err != nil {
		return nil, err
	}
	return s.marshaller.FromValue(result, nil)
}

// CallValue calls fn with script values.
func (s *State) CallValue(fn Value, args ...Value) (Value, error) {
	return s.rt.Call(fn, args...)
}

// Get returns a global converted to Go.
func (s *State) Get(name string) (interface{}, error) {
	v := s.rt.GetGlobal(name)
	if v.IsNil() {
		return nil, fmt.Errorf("variable '%s' not found", name)
	}
	return s.marshaller.FromValue(v, nil)
}

// Set assigns a global from a Go value.
func (s *State) Set(name string, val interface{}) error {
	v, err := s.marshaller.ToValue(val)
	if err != nil {
		return fmt.Errorf("setting '%s': %w", name, err)
	}
	s.rt.SetGlobal(name, v)
	return nil
}

// Bind registers a Go function as a global. fn is either a host callback
// or any func whose parameters and results the Marshaller handles; a
// trailing error result is raised as a script error.
func (s *State) Bind(name string, fn interface{}) error {
	switch f := fn.(type) {
	case vm.CallbackFunction:
		s.rt.SetGlobal(name, vm.NewCallback(name, f))
		return nil
	case func(*vm.ExecutionContext, *vm.CallbackArguments) (vm.DynValue, error):
		s.rt.SetGlobal(name, vm.NewCallback(name, f))
		return nil
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return fmt.Errorf("cannot bind %T as '%s': not a function", fn, name)
	}
	s.rt.SetGlobal(name, vm.NewCallback(name, func(_ *vm.ExecutionContext, args *vm.CallbackArguments) (vm.DynValue, error) {
		return s.hostCall(name, rv, args)
	}))
	return nil
}

func (s *State) hostCall(name string, fn reflect.Value, args *vm.CallbackArguments) (vm.DynValue, error) {
	fnType := fn.Type()
	numIn := fnType.NumIn()
	isVariadic := fnType.IsVariadic()

	count := args.Count()
	if isVariadic {
		if count < numIn-1 {
			count = numIn - 1
		}
	} else {
		count = numIn
	}

	goArgs := make([]reflect.Value, count)
	for i := 0; i < count; i++ {
		var targetType reflect.Type
		if isVariadic && i >= numIn-1 {
			targetType = fnType.In(numIn - 1).Elem()
		} else {
			targetType = fnType.In(i)
		}

		val, err := s.marshaller.FromValue(args.Get(i), targetType)
		if err != nil {
			return vm.Nil, diagnostics.NewRuntimeError("bad argument #%d to '%s' (%s)", i+1, name, err)
		}
		goArgs[i] = valueOrZero(val, targetType)
	}

	results := fn.Call(goArgs)
	if n := len(results); n > 0 && fnType.Out(n-1) == errorType {
		if err, _ := results[n-1].Interface().(error); err != nil {
			return vm.Nil, diagnostics.WrapRuntimeError(err)
		}
		results = results[:n-1]
	}

	values := make([]vm.DynValue, len(results))
	for i, res := range results {
		v, err := s.marshaller.ToValue(res.Interface())
		if err != nil {
			return vm.Nil, diagnostics.NewRuntimeError("result %d of '%s': %s", i+1, name, err)
		}
		values[i] = v
	}
	return vm.NewTuple(values...), nil
}

// Eval evaluates a dynamic expression against the globals.
func (s *State) Eval(expr string) (interface{}, error) {
	v, err := s.rt.Eval(expr)
	if err != nil {
		return nil, err
	}
	return s.marshaller.FromValue(v, nil)
}

// AttachDebugger installs d on the runtime. Chunks loaded afterwards are
// announced to it.
func (s *State) AttachDebugger(d Debugger) *DebugService {
	return s.rt.AttachDebugger(d)
}
