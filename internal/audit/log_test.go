package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"microvision.org/internal/auth"
	"microvision.org/internal/login"
	"microvision.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithOperator(ctx, auth.Identity{OperatorID: 42, Login: "ivan", Profile: "shop-1"})

	if err := LogEvent(ctx, "delivery.push", map[string]any{"foo": "bar", "password": "secret"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["msg"] != "audit" || entry["ts"] == nil {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "delivery.push" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["operator_id"] != float64(42) || entry["operator_login"] != "ivan" || entry["profile"] != "shop-1" {
		t.Fatalf("unexpected operator fields: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" || fields["password"] != login.Mask {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); !errors.Is(err, ErrNoEvent) {
		t.Fatalf("expected ErrNoEvent, got %v", err)
	}
}
