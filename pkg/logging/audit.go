package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security-relevant decision taken by the bridge.
type AuditEvent struct {
	// Action is what was attempted, e.g. "admit", "authenticate", "evict".
	Action string
	// Outcome is "success", "failure" or "closed".
	Outcome string
	// SessionID should already be truncated with TruncateSessionID.
	SessionID string
	// Target names the object of the action (a host, a file path, a user).
	Target string
	// Reason explains a failure outcome.
	Reason string
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	logger := current()
	if logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session", event.SessionID))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}

// sessionIDDisplayLength is how many characters of a session id are logged.
const sessionIDDisplayLength = 8

// TruncateSessionID shortens a session id for log output.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= sessionIDDisplayLength {
		return sessionID
	}
	return sessionID[:sessionIDDisplayLength] + "..."
}

// RedactToken renders a secret as its first four characters followed by a
// mask. Short or empty tokens are fully masked.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
