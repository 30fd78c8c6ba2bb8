package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestLogRegistrationEvent(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogRegistrationEvent(context.Background(), AuditEvent{
		EventType:     EventVerificationFailed,
		RequestID:     "req-1",
		Email:         "alice@example.com",
		FailureReason: "code_mismatch",
	})

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, EventVerificationFailed, rec["event_type"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "code_mismatch", rec["failure_reason"])
	assert.NotContains(t, buf.String(), "alice@example.com")
}

func TestLogRegistrationEvent_SuccessIsInfo(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogRegistrationEvent(context.Background(), AuditEvent{
		EventType: EventRequestApproved,
		ActorID:   "admin-1",
		Success:   true,
		Metadata:  map[string]string{"role": "CLINICIAN"},
	})

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "admin-1", rec["actor_id"])
	assert.Equal(t, "CLINICIAN", rec["role"])
	_, hasEmail := rec["email"]
	assert.False(t, hasEmail)
}

func TestLogAccountAction(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogAccountAction(context.Background(), "admin_created", "user-9", nil)

	rec := decodeRecord(t, &buf)
	assert.Equal(t, "account", rec["audit_type"])
	assert.Equal(t, "user-9", rec["user_id"])
}
