// Package audit writes one JSON line per operator action: logins, mapping
// corrections, pass lifecycle and delivery pushes. Each line carries the
// request id and the operator found in the context.
package audit

import (
	"context"
	"errors"
	"strings"

	"microvision.org/internal/auth"
	"microvision.org/internal/login"
	"microvision.org/internal/obs"
)

var ErrNoEvent = errors.New("audit: event name is required")

type requestIDKey struct{}

// WithRequestID tags ctx so later audit lines can be joined with the access log.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// LogEvent writes the audit line for event. Password-like fields are masked
// the same way as in login traces.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	if event = strings.TrimSpace(event); event == "" {
		return ErrNoEvent
	}
	detail := login.MaskFields(fields)
	if detail == nil {
		detail = map[string]any{}
	}
	line := map[string]any{"type": "audit", "event": event, "fields": detail}
	if id, _ := ctx.Value(requestIDKey{}).(string); id != "" {
		line["request_id"] = id
	}
	if op, ok := auth.OperatorFromContext(ctx); ok {
		line["operator_id"] = op.OperatorID
		if op.Login != "" {
			line["operator_login"] = op.Login
		}
		if op.Profile != "" {
			line["profile"] = op.Profile
		}
	}
	obs.LogEvent("info", "audit", line)
	return nil
}
