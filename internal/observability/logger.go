package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/snowchat/snowchat/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// maskedAttrs carry driver or provider text that may echo credentials.
var maskedAttrs = map[string]struct{}{
	"error": {},
	"dsn":   {},
	"cause": {},
}

// NewLogger builds the service logger. Error-like attributes pass through Mask
// so a connection error cannot write a warehouse password or API key to the log.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: maskAttr,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("dialect", cfg.Warehouse.Dialect),
	)
}

func maskAttr(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := maskedAttrs[attr.Key]; !ok {
		return attr
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Mask(attr.Value.String()))
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			return slog.String(attr.Key, Mask(err.Error()))
		}
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
