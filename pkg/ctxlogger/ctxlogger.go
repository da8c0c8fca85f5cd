package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey string

const slogAttrsKey ctxKey = "slog_attrs"

// ContextHandler wraps a slog.Handler and appends attributes carried
// in the context to every record.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogAttrsKey).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context that carries the given attribute in addition
// to any attributes already present on the parent.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if attrs, ok := parent.Value(slogAttrsKey).([]slog.Attr); ok {
		newAttrs := make([]slog.Attr, 0, len(attrs)+1)
		newAttrs = append(newAttrs, attrs...)
		newAttrs = append(newAttrs, attr)
		return context.WithValue(parent, slogAttrsKey, newAttrs)
	}

	return context.WithValue(parent, slogAttrsKey, []slog.Attr{attr})
}
