package entitlement

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// logOperation records completion of one engine operation on both the
// structured log and the active span.
func (e *Engine) logOperation(ctx context.Context, operation string, start time.Time, err error, attrs ...attribute.KeyValue) {
	duration := e.now().Sub(start)
	observeOperation(operation, err)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
		span.SetAttributes(
			attribute.String("entitlement.operation", operation),
			attribute.Float64("entitlement.duration_ms", float64(duration.Milliseconds())),
			attribute.Bool("entitlement.success", err == nil),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	logAttrs := []any{
		slog.String("operation", operation),
		slog.Duration("duration", duration),
	}
	if err != nil {
		logAttrs = append(logAttrs, slog.String("error", err.Error()))
		if kind := KindOf(err); kind != "" {
			// Business-rule denials are expected traffic, not failures.
			logAttrs = append(logAttrs, slog.String("kind", string(kind)))
			e.logger.InfoContext(ctx, "entitlement operation denied", logAttrs...)
			return
		}
		e.logger.ErrorContext(ctx, "entitlement operation failed", logAttrs...)
		return
	}
	e.logger.DebugContext(ctx, "entitlement operation completed", logAttrs...)
}
