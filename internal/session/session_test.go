package session

import (
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type closeCall struct {
	code   websocket.StatusCode
	reason string
}

type fakeConn struct {
	mu    sync.Mutex
	calls []closeCall
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, closeCall{code: code, reason: reason})
	return nil
}

func (c *fakeConn) closes() []closeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]closeCall(nil), c.calls...)
}

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestSession_AuthenticateOnce(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := newSession("sess-1", &fakeConn{}, clk)

	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.Authenticate("user-1", "active"))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, "user-1", s.UserID())
	assert.Equal(t, "active", s.EntitlementStatus())

	assert.False(t, s.Authenticate("user-2", "trial"), "second authentication must be refused")
	assert.Equal(t, "user-1", s.UserID())
}

func TestSession_BeginAuthentication(t *testing.T) {
	s := newSession("sess-1", &fakeConn{}, clocktesting.NewFakeClock(epoch))

	require.True(t, s.BeginAuthentication())
	assert.Equal(t, StateAuthenticating, s.State())
	assert.False(t, s.BeginAuthentication(), "authentication starts once")

	assert.True(t, s.Authenticate("user-1", "active"))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.False(t, s.BeginAuthentication())
}

func TestSession_CloseOnce(t *testing.T) {
	conn := &fakeConn{}
	s := newSession("sess-1", conn, clocktesting.NewFakeClock(epoch))

	prev, ok := s.Close(4002, "Invalid token")
	assert.True(t, ok)
	assert.Equal(t, StateConnected, prev)

	prev, ok = s.Close(1001, "Service shutting down")
	assert.False(t, ok)
	assert.Equal(t, StateClosed, prev)

	assert.Equal(t, []closeCall{{code: 4002, reason: "Invalid token"}}, conn.closes())
	assert.Equal(t, websocket.StatusCode(4002), s.CloseCode())
	assert.False(t, s.Authenticate("u", "active"), "closed sessions cannot authenticate")
}

func TestSession_TouchIsMonotonic(t *testing.T) {
	clk := clocktesting.NewFakeClock(epoch)
	s := newSession("sess-1", &fakeConn{}, clk)

	clk.Step(time.Minute)
	s.Touch()
	assert.Equal(t, epoch.Add(time.Minute), s.LastActivity())

	clk.SetTime(epoch)
	s.Touch()
	assert.Equal(t, epoch.Add(time.Minute), s.LastActivity(), "activity must not move backwards")
}

func TestSession_Info(t *testing.T) {
	s := newSession("sess-1", &fakeConn{}, clocktesting.NewFakeClock(epoch))
	require.True(t, s.Authenticate("user-1", "trial"))

	info := s.Info()
	assert.Equal(t, "sess-1", info.ID)
	assert.Equal(t, "authenticated", info.State)
	assert.Equal(t, "user-1", info.UserID)
	assert.Equal(t, "trial", info.EntitlementStatus)
	assert.Equal(t, epoch, info.CreatedAt)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
