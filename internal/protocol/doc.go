// Package protocol defines the JSON messages exchanged between a connector
// and the bridge over the websocket, and the close codes the bridge uses
// to end a session.
//
// Inbound messages are a tagged variant: an auth message
//
//	{"type": "auth", "token": "<token>"}
//
// or a relay payload, which is any JSON object and is forwarded verbatim.
// Decode classifies a raw message into an Envelope so callers can switch
// on Envelope.Kind exhaustively.
package protocol
