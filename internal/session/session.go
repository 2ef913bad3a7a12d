package session

import (
	"sync"
	"time"

	"github.com/coder/websocket"
	"k8s.io/utils/clock"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport a session closes when it ends.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Session is one bridge connection. ID and CreatedAt are immutable; the
// rest is guarded by mu.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn  Conn
	clock clock.PassiveClock

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	userID       string
	status       string
	authTimer    clock.Timer
	closeCode    websocket.StatusCode
}

func newSession(id string, conn Conn, clk clock.PassiveClock) *Session {
	now := clk.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		conn:         conn,
		clock:        clk,
		state:        StateConnected,
		lastActivity: now,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last inbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// UserID is empty until the session authenticates.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// EntitlementStatus is the status string captured at authentication.
func (s *Session) EntitlementStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CloseCode is the code the session was closed with, zero while open.
func (s *Session) CloseCode() websocket.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// BeginAuthentication moves a CONNECTED session to AUTHENTICATING once its
// auth message has arrived. The deadline stays armed. It returns false from
// any other state.
func (s *Session) BeginAuthentication() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return false
	}
	s.state = StateAuthenticating
	return true
}

// Authenticate moves a CONNECTED or AUTHENTICATING session to AUTHENTICATED
// and cancels its authentication deadline. It returns false, changing
// nothing, from any other state, so a session authenticates at most once
// and never after the deadline has closed it.
func (s *Session) Authenticate(userID, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected && s.state != StateAuthenticating {
		return false
	}
	s.state = StateAuthenticated
	s.userID = userID
	s.status = status
	s.touchLocked()
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	return true
}

// Touch records inbound activity. LastActivity never moves backwards.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) touchLocked() {
	if now := s.clock.Now(); now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// Close moves the session to CLOSED and closes the transport with code and
// reason. Only the first call has any effect; it returns the state the
// session was in and true. Later calls return StateClosed and false.
func (s *Session) Close(code websocket.StatusCode, reason string) (State, bool) {
	return s.closeIf(func(State) bool { return true }, code, reason)
}

// closeIf closes the session only when allow accepts its current state.
func (s *Session) closeIf(allow func(State) bool, code websocket.StatusCode, reason string) (State, bool) {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed || !allow(prev) {
		s.mu.Unlock()
		return prev, false
	}
	s.state = StateClosed
	s.closeCode = code
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	s.mu.Unlock()

	// Closing performs a handshake that can block, so it runs unlocked.
	if s.conn != nil {
		_ = s.conn.Close(code, reason)
	}
	return prev, true
}

// idleFor reports whether an authenticated session has been idle for at
// least timeout at now.
func (s *Session) idleFor(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated && now.Sub(s.lastActivity) >= timeout
}

// Info is a point-in-time copy of a session for reporting.
type Info struct {
	ID                string    `json:"id"`
	State             string    `json:"state"`
	UserID            string    `json:"userId,omitempty"`
	EntitlementStatus string    `json:"entitlementStatus,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActivity      time.Time `json:"lastActivity"`
}

// Info returns a snapshot of s.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:                s.ID,
		State:             s.state.String(),
		UserID:            s.userID,
		EntitlementStatus: s.status,
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.lastActivity,
	}
}
