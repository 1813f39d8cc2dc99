// Package logs builds the structured logger shared by the runtime, the
// compile cache and the CLI.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/funvibe/lunar/internal/config"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger from opts. Terminal output goes to w as text when
// w is a terminal and as JSON otherwise. The returned closer releases the
// log file, if one was opened. Each logger owns its level, so loggers of
// separate States do not affect each other.
func New(opts config.LogOptions, w io.Writer) (*slog.Logger, io.Closer, error) {
	l, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(l)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	switch opts.Format {
	case "text":
		handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
	case "json":
		handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
	default:
		if isTerminal(w) {
			handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	var journalErr error
	if opts.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			journalErr = err
		} else {
			handlers = append(handlers, journal)
		}
	}

	logger := slog.New(&Handler{Handler: slogmulti.Fanout(handlers...)})
	if journalErr != nil {
		logger.Warn("systemd journal unavailable", "error", journalErr.Error())
	}
	return logger, closer, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(&Handler{Handler: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
