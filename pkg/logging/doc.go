// Package logging provides the structured logging used across mcpgate.
//
// It is a thin layer over Go's log/slog that tags every entry with a
// subsystem name so bridge, launcher and installer output can be filtered
// independently.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bridge", "Listening on %s", addr)
//	logging.Debug("Session", "Touched session %s", logging.TruncateSessionID(id))
//	logging.Warn("Admission", "Rejected host %q", host)
//	logging.Error("Relay", err, "Forwarding failed for message %s", id)
//
// # Subsystems
//
//   - Bootstrap: configuration loading and startup
//   - Bridge: listener lifecycle and connection handling
//   - Session: registry and idle sweep
//   - Relay: forwarding to the remote API
//   - Entitlement: license checks
//   - ClientConfig: client configuration merge
//   - Launcher: child process lifecycle
//
// # Audit Logging
//
// Security-relevant decisions (admission refusals, authentication results,
// idle evictions, configuration installs) are emitted as audit events:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:    "authenticate",
//	    Outcome:   "failure",
//	    SessionID: logging.TruncateSessionID(sessionID),
//	    Reason:    "invalid token",
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix so log
// aggregation can pick them out.
//
// Secrets must never be passed to the logger verbatim; use RedactToken.
package logging
