// Package session tracks bridge connections from accept to close.
//
// Every accepted websocket becomes a Session in the CONNECTED state. A
// session moves to AUTHENTICATED at most once, and to CLOSED exactly once,
// from either earlier state:
//
//	CONNECTED ──auth ok──▶ AUTHENTICATED
//	    │                       │
//	    └──────────┬────────────┘
//	               ▼
//	            CLOSED
//
// The Registry owns the two timers that end sessions on its own: the
// authentication deadline armed by Create, and the periodic idle sweep
// driven by Run. All time is read from an injected clock so both can be
// exercised with a fake clock in tests.
package session
