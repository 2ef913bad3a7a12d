package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Message type tags.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
)

// Kind classifies an inbound message.
type Kind int

const (
	// KindRelay is any payload destined for the remote API.
	KindRelay Kind = iota
	// KindAuth is an authentication request carrying a candidate token.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRelay:
		return "relay"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNotObject is returned by Decode for payloads that are not a JSON object.
var ErrNotObject = errors.New("message is not a JSON object")

// Envelope is a decoded inbound message.
type Envelope struct {
	Kind  Kind
	Token string
	// ID is the caller supplied message id, JSON null when absent.
	ID json.RawMessage
	// Raw is the message exactly as received.
	Raw json.RawMessage
}

type header struct {
	Type  string          `json:"type"`
	Token *string         `json:"token"`
	ID    json.RawMessage `json:"id"`
}

var jsonNull = json.RawMessage("null")

// Decode classifies data. Only objects whose "type" is "auth" and which
// carry a string token are auth messages; everything else is a relay.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrNotObject
	}

	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode message: %w", err)
	}

	env := Envelope{
		Kind: KindRelay,
		ID:   jsonNull,
		Raw:  json.RawMessage(data),
	}
	if len(h.ID) > 0 {
		env.ID = h.ID
	}
	if h.Type == TypeAuth && h.Token != nil {
		env.Kind = KindAuth
		env.Token = *h.Token
	}
	return env, nil
}

// AuthRequest is the first message a connector sends.
type AuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewAuthRequest builds an auth message for token.
func NewAuthRequest(token string) AuthRequest {
	return AuthRequest{Type: TypeAuth, Token: token}
}

// AuthSuccess acknowledges a successful authentication.
type AuthSuccess struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// NewAuthSuccess builds the acknowledgment sent after authentication.
func NewAuthSuccess(sessionID string) AuthSuccess {
	return AuthSuccess{
		Type:      TypeAuthSuccess,
		SessionID: sessionID,
		Message:   "Successfully authenticated with MCP bridge",
	}
}

// ErrorBody is the error member of an ErrorEnvelope.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope reports a failed relay back to the caller.
type ErrorEnvelope struct {
	ID    json.RawMessage `json:"id"`
	Error ErrorBody       `json:"error"`
}

// NewRelayError builds an internal-error envelope echoing id.
func NewRelayError(id json.RawMessage, message string) ErrorEnvelope {
	if len(id) == 0 {
		id = jsonNull
	}
	return ErrorEnvelope{
		ID: id,
		Error: ErrorBody{
			Code:    mcp.INTERNAL_ERROR,
			Message: message,
		},
	}
}

// IsAuthSuccess reports whether data is an auth_success acknowledgment.
func IsAuthSuccess(data []byte) (AuthSuccess, bool) {
	var ack AuthSuccess
	if err := json.Unmarshal(data, &ack); err != nil {
		return AuthSuccess{}, false
	}
	return ack, ack.Type == TypeAuthSuccess
}
