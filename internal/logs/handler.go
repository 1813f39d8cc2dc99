package logs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type scriptIDKey struct{}

// ScriptIDKey is the record attribute naming the script instance.
const ScriptIDKey = "script.id"

// WithScriptID tags ctx with the id of a script instance.
func WithScriptID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, scriptIDKey{}, id)
}

// ScriptID returns the script instance id carried by ctx.
func ScriptID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(scriptIDKey{}).(uuid.UUID)
	return id, ok
}

// Handler adds the script instance id found in the context to every
// record.
type Handler struct {
	slog.Handler
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := ScriptID(ctx); ok {
		record.Add(ScriptIDKey, id.String())
	}
	return h.Handler.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name)}
}
