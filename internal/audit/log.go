// Package audit records security-relevant events: logins, password changes,
// gateway rejections.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"ems.org/internal/auth"
	"ems.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated principal, when present.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs,
			slog.String("employee_id", p.EmployeeID),
			slog.String("role", p.Roles.String()),
		)
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	attrs = append(attrs, slog.Any("fields", copied))

	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
