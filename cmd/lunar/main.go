package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/debugcli"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/logs"
	"github.com/funvibe/lunar/internal/vm"
	lunar "github.com/funvibe/lunar/pkg/embed"
	"github.com/mattn/go-isatty"
)

const usage = `Usage: lunar [flags] [script [args...]]

Runs script, or the code given with -e. Without either, reads a chunk
from stdin, or starts an interactive prompt when stdin is a terminal.
Script may be a bundle written with -o.

Flags:
`

// command is one invocation of the interpreter.
type command struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool

	dialect    string
	configPath string
	cachePath  string
	code       string
	output     string
	dis        bool
	debug      bool
	logDebug   bool
	version    bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("LUNAR_DEBUG") == "1" {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(1)
		}
	}()

	cmd := &command{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
	os.Exit(cmd.run(os.Args[1:]))
}

func (c *command) flags() *flag.FlagSet {
	fs := flag.NewFlagSet("lunar", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		fmt.Fprint(c.stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&c.dialect, "dialect", "", "compatibility version: 5.2, 5.3, 5.4 or 5.5")
	fs.StringVar(&c.configPath, "config", "", "options file (yaml, toml or cue); default: search upwards from the working directory")
	fs.StringVar(&c.cachePath, "cache", "", "sqlite database caching compiled chunks")
	fs.StringVar(&c.code, "e", "", "run `code` instead of a script")
	fs.StringVar(&c.output, "o", "", "compile to a bundle at `path` instead of running")
	fs.BoolVar(&c.dis, "dis", false, "print the bytecode listing instead of running")
	fs.BoolVar(&c.debug, "debug", false, "run under the command-line debugger")
	fs.BoolVar(&c.logDebug, "log-debug", false, "log at debug level")
	fs.BoolVar(&c.version, "version", false, "print the version and exit")
	return fs
}

// run executes the command and returns the process exit code.
func (c *command) run(args []string) int {
	fs := c.flags()
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if c.version {
		fmt.Fprintf(c.stdout, "lunar %s\n", config.Version)
		return 0
	}

	opts, err := c.options()
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %s\n", err)
		return 1
	}

	state, err := lunar.New(opts)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %s\n", err)
		return 1
	}
	defer state.Close()
	state.SetOutput(c.stdout)

	rest := fs.Args()
	code, chunkName, scriptArgs, err := c.input(rest)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %s\n", err)
		return 1
	}
	if code == "" && chunkName == "" {
		if c.interactive {
			return newREPL(state, c.stdin, c.stdout, c.stderr).run()
		}
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			fmt.Fprintf(c.stderr, "Error reading input: %s\n", err)
			return 1
		}
		code, chunkName = string(data), "stdin"
	}

	switch {
	case c.output != "":
		return c.compile(state, code, chunkName)
	case c.dis:
		return c.disassemble(state, code, chunkName)
	}

	if c.debug {
		cli := debugcli.New(c.stdin, c.stderr)
		cli.BreakOnError = true
		state.AttachDebugger(cli)
	}
	return c.execute(state, code, chunkName, scriptArgs)
}

// options loads the options file and applies the flags on top.
func (c *command) options() (*lunar.Options, error) {
	path := c.configPath
	if path == "" {
		found, err := config.FindConfig(".")
		if err != nil {
			return nil, err
		}
		path = found
	}
	opts := config.DefaultOptions()
	// Errors are printed by the command itself; the log only repeats
	// them unless a config file asks for more.
	opts.Log.Level = "error"
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if c.dialect != "" {
		if _, ok := config.ParseDialect(c.dialect); !ok {
			return nil, fmt.Errorf("unknown dialect %q", c.dialect)
		}
		opts.Dialect = c.dialect
	}
	if c.cachePath != "" {
		opts.Cache.Path = c.cachePath
		opts.Cache.Disabled = false
	}
	if c.logDebug {
		opts.Log.Level = "debug"
	} else if _, err := logs.ParseLevel(opts.Log.Level); err != nil {
		return nil, err
	}
	return opts, nil
}

// input resolves the chunk to run. A bundle file is returned as its raw
// bytes with the chunk name taken from the file.
func (c *command) input(rest []string) (code, chunkName string, scriptArgs []string, err error) {
	if c.code != "" {
		return c.code, "(command line)", rest, nil
	}
	if len(rest) == 0 {
		return "", "", nil, nil
	}
	path := rest[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading script: %w", err)
	}
	return string(data), config.TrimSourceExt(filepath.Base(path)), rest, nil
}

func (c *command) load(state *lunar.State, code, chunkName string) (lunar.Value, error) {
	if vm.IsBundle([]byte(code)) {
		return state.LoadBundle([]byte(code))
	}
	return state.LoadString(code, chunkName)
}

func (c *command) execute(state *lunar.State, code, chunkName string, scriptArgs []string) int {
	fn, err := c.load(state, code, chunkName)
	if err != nil {
		fmt.Fprintf(c.stderr, "%s\n", err)
		return 1
	}

	// arg[0] is the script, arg[1..] its arguments; they are also the
	// varargs of the main chunk.
	var values []vm.DynValue
	argTable := vm.NewTable()
	for i, a := range scriptArgs {
		argTable.SetInt(i, vm.NewString(a))
		if i > 0 {
			values = append(values, vm.NewString(a))
		}
	}
	state.Runtime().SetGlobal("arg", vm.NewTableValue(argTable))

	if _, err := state.CallValue(fn, values...); err != nil {
		report(c.stderr, err)
		return 1
	}
	return 0
}

// report prints err, with the stack traceback for runtime errors.
func report(w io.Writer, err error) {
	var re *diagnostics.RuntimeError
	if errors.As(err, &re) {
		fmt.Fprintln(w, re.Traceback())
		return
	}
	fmt.Fprintln(w, err)
}

func (c *command) compile(state *lunar.State, code, chunkName string) int {
	data, err := state.Dump(code, chunkName)
	if err != nil {
		fmt.Fprintf(c.stderr, "%s\n", err)
		return 1
	}
	if err := os.WriteFile(c.output, data, 0o644); err != nil {
		fmt.Fprintf(c.stderr, "Error writing bundle: %s\n", err)
		return 1
	}
	return 0
}

func (c *command) disassemble(state *lunar.State, code, chunkName string) int {
	data := []byte(code)
	if !vm.IsBundle(data) {
		var err error
		if data, err = state.Dump(code, chunkName); err != nil {
			fmt.Fprintf(c.stderr, "%s\n", err)
			return 1
		}
	}
	chunk, err := vm.UnmarshalChunk(data)
	if err != nil {
		fmt.Fprintf(c.stderr, "%s\n", err)
		return 1
	}
	fmt.Fprintln(c.stdout, strings.Join(vm.Disassemble(chunk), "\n"))
	return 0
}
