package protocol

import "github.com/coder/websocket"

// Close codes sent by the bridge. The 4xxx range is application defined.
const (
	CloseServiceShutdown       websocket.StatusCode = websocket.StatusGoingAway
	CloseProcessingError       websocket.StatusCode = websocket.StatusInternalError
	CloseAuthTimeout           websocket.StatusCode = 4001
	CloseInvalidToken          websocket.StatusCode = 4002
	CloseEntitlementFailure    websocket.StatusCode = 4003
	CloseSessionExpired        websocket.StatusCode = 4004
	CloseAuthenticationMissing websocket.StatusCode = 4005
)

var closeReasons = map[websocket.StatusCode]string{
	CloseServiceShutdown:       "Service shutting down",
	CloseProcessingError:       "Message processing error",
	CloseAuthTimeout:           "Authentication timeout",
	CloseInvalidToken:          "Invalid token",
	CloseEntitlementFailure:    "License validation failed",
	CloseSessionExpired:        "Session expired",
	CloseAuthenticationMissing: "Authentication required",
}

// CloseReason returns the human readable reason sent with code.
func CloseReason(code websocket.StatusCode) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return code.String()
}

// IsAuthFailure reports whether code ends a session that never authenticated.
func IsAuthFailure(code websocket.StatusCode) bool {
	switch code {
	case CloseAuthTimeout, CloseInvalidToken, CloseEntitlementFailure, CloseAuthenticationMissing:
		return true
	}
	return false
}
