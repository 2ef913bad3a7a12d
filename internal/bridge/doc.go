// Package bridge implements the local websocket bridge between a
// sandboxed client connector and the remote API.
//
// The Server listens on a loopback address only. Every HTTP request,
// including the websocket upgrade, must declare a Host of exactly
// localhost:<port> or 127.0.0.1:<port>; anything else is refused before a
// session exists.
//
// Each accepted websocket is driven as an explicit state machine:
//
//   - CONNECTED: the only acceptable message is {"type":"auth","token":...}.
//     A valid token plus a passing entitlement check authenticates the
//     session and is acknowledged with an auth_success message. A bad token,
//     a failed check, any other message, or the authentication deadline
//     closes the socket with a distinct close code.
//   - AUTHENTICATED: every message is forwarded to the remote API and the
//     response, or an error envelope echoing the message id, is written
//     back in the order the messages arrived.
//   - CLOSED: terminal.
//
// Two side channel endpoints share the same admission rule: GET /health
// and GET /config.
package bridge
