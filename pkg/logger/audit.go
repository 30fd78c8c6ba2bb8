package logger

import (
	"context"
	"log/slog"
	"time"
)

// Registration audit event types
const (
	EventRegistrationRequested = "registration_requested"
	EventCodeReissued          = "registration_code_reissued"
	EventEmailVerified         = "registration_email_verified"
	EventVerificationFailed    = "registration_verification_failed"
	EventRequestApproved       = "registration_approved"
	EventRequestRejected       = "registration_rejected"
	EventApprovalResent        = "registration_approval_resent"
	EventRequestExpired        = "registration_expired"
	EventRegistrationCompleted = "registration_completed"
	EventCompletionFailed      = "registration_completion_failed"
	EventDecisionDenied        = "registration_decision_denied"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	RequestID     string
	ActorID       string
	Email         string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records to the structured log. Failure reasons are
// precise here even when the caller was given a vague message.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogRegistrationEvent records one step of the onboarding workflow. Emails are masked.
func (al *AuditLogger) LogRegistrationEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "registration"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
