package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/funvibe/lunar/internal/diagnostics"
	"github.com/funvibe/lunar/internal/vm"
	lunar "github.com/funvibe/lunar/pkg/embed"
)

// repl reads chunks line by line. A line that parses as an expression is
// printed; "=expr" is shorthand for "return expr". Incomplete input
// continues on the next line.
type repl struct {
	state   *lunar.State
	scanner *bufio.Scanner
	out     io.Writer
	errOut  io.Writer
	count   int
}

func newREPL(state *lunar.State, in io.Reader, out, errOut io.Writer) *repl {
	return &repl{state: state, scanner: bufio.NewScanner(in), out: out, errOut: errOut}
}

func (r *repl) run() int {
	fmt.Fprintf(r.out, "lunar %s (%s)  type :quit to exit\n", config.Version, r.state.Runtime().Dialect().Name())
	var pending []string
	for {
		if len(pending) == 0 {
			fmt.Fprint(r.out, "> ")
		} else {
			fmt.Fprint(r.out, ">> ")
		}
		if !r.scanner.Scan() {
			fmt.Fprintln(r.out)
			return 0
		}
		line := r.scanner.Text()
		if len(pending) == 0 {
			switch strings.TrimSpace(line) {
			case "":
				continue
			case ":quit", ":q":
				return 0
			}
			if strings.HasPrefix(line, "=") {
				line = "return " + line[1:]
			}
		}
		pending = append(pending, line)

		fn, err := r.compile(strings.Join(pending, "\n"))
		if err != nil {
			var se *diagnostics.SyntaxError
			if errors.As(err, &se) && se.PrematureEnd {
				continue
			}
			pending = pending[:0]
			fmt.Fprintln(r.errOut, err)
			continue
		}
		pending = pending[:0]

		result, err := r.state.CallValue(fn)
		if err != nil {
			report(r.errOut, err)
			continue
		}
		r.print(result)
	}
}

// compile tries the input as an expression first, then as a chunk.
func (r *repl) compile(code string) (lunar.Value, error) {
	r.count++
	name := fmt.Sprintf("stdin:%d", r.count)
	if fn, err := r.state.LoadString("return "+code, name); err == nil {
		return fn, nil
	}
	return r.state.LoadString(code, name)
}

func (r *repl) print(result vm.DynValue) {
	values := result.TupleValues()
	if len(values) == 0 {
		return
	}
	tostring := r.state.Runtime().GetGlobal("tostring")
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
		if s, err := r.state.CallValue(tostring, v); err == nil {
			parts[i] = s.ToScalar().String()
		}
	}
	fmt.Fprintln(r.out, strings.Join(parts, "\t"))
}
