package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/protocol"
	"mcpgate/internal/relay"
	"mcpgate/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

const testToken = "0123456789abcdef0123456789abcdef"

// switchGate allows or denies on demand, optionally after a delay.
type switchGate struct {
	deny  atomic.Bool
	delay atomic.Int64
}

func (g *switchGate) Check(ctx context.Context) entitlement.Result {
	if d := time.Duration(g.delay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return entitlement.Result{Reason: ctx.Err().Error()}
		}
	}
	if g.deny.Load() {
		return entitlement.Result{Reason: "subscription status \"expired\" does not grant access", Status: "expired", UserID: "user-1"}
	}
	return entitlement.Result{Allowed: true, Status: "active", UserID: "user-1"}
}

type fixture struct {
	server *Server
	remote *httptest.Server
	gate   *switchGate
	clock  *clocktesting.FakeClock
	// requests received by the remote API
	mu       sync.Mutex
	requests []*http.Request
}

func (f *fixture) remoteRequests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func newFixture(t *testing.T, remote http.HandlerFunc) *fixture {
	t.Helper()

	f := &fixture{
		gate:  &switchGate{},
		clock: clocktesting.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if remote == nil {
		remote = func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			var msg struct {
				ID json.RawMessage `json:"id"`
			}
			_ = json.Unmarshal(body, &msg)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}`, msg.ID)
		}
	}
	f.remote = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()
		remote(w, r)
	}))
	t.Cleanup(f.remote.Close)

	fwd, err := relay.New(relay.Options{BaseURL: f.remote.URL, Token: testToken})
	require.NoError(t, err)

	registry := session.NewRegistry(session.Options{
		Clock:         f.clock,
		AuthTimeout:   10 * time.Second,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	})

	f.server, err = New(config.BridgeConfig{ListenPort: 0, AuthToken: testToken, RemoteAPIBaseURL: f.remote.URL}, Options{
		Gate:      f.gate,
		Forwarder: fwd,
		Registry:  registry,
		Host:      "127.0.0.1",
	})
	require.NoError(t, err)
	require.NoError(t, f.server.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.server.Shutdown(ctx)
	})
	return f
}

func (f *fixture) url() string {
	return fmt.Sprintf("ws://127.0.0.1:%d", f.server.Port())
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.url(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func (f *fixture) dialAuthenticated(t *testing.T) (*websocket.Conn, protocol.AuthSuccess) {
	t.Helper()
	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, protocol.NewAuthRequest(testToken)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	ack, ok := protocol.IsAuthSuccess(data)
	require.True(t, ok, "expected auth_success, got %s", data)
	return conn, ack
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var v map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &v))
	return v
}

// expectClose reads until the server closes the socket and returns the close frame.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.CloseError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		var ce websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce
	}
}

func TestServer_AuthenticatesAndRelays(t *testing.T) {
	f := newFixture(t, nil)
	conn, ack := f.dialAuthenticated(t)

	assert.NotEmpty(t, ack.SessionID)
	assert.Equal(t, 1, f.server.Registry().CountAuthenticated())

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	resp := readJSON(t, conn)
	assert.Equal(t, float64(1), resp["id"])
	assert.Equal(t, map[string]any{"ok": true}, resp["result"])

	reqs := f.remoteRequests()
	require.Len(t, reqs, 1)
	h := reqs[0].Header
	assert.Equal(t, "Bearer "+testToken, h.Get("Authorization"))
	assert.Equal(t, "true", h.Get(relay.HeaderBridge))
	assert.Equal(t, "user-1", h.Get(relay.HeaderUserID))
	assert.Equal(t, "active", h.Get(relay.HeaderSubscriptionStatus))
	assert.NotEmpty(t, h.Get(relay.HeaderSessionID))
}

func TestServer_InvalidTokenCloses(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, wsjson.Write(context.Background(), conn, protocol.NewAuthRequest("wrong")))
	ce := expectClose(t, conn)

	assert.Equal(t, protocol.CloseInvalidToken, ce.Code)
	assert.Equal(t, "Invalid token", ce.Reason)
	require.Eventually(t, func() bool { return f.server.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.remoteRequests())
}

func TestServer_EntitlementFailureCloses(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.deny.Store(true)
	conn := f.dial(t)

	require.NoError(t, wsjson.Write(context.Background(), conn, protocol.NewAuthRequest(testToken)))
	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseEntitlementFailure, ce.Code)
	assert.Equal(t, "License validation failed", ce.Reason)
}

func TestServer_RelayBeforeAuthIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"id":1,"method":"tools/list"}`)))
	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseAuthenticationMissing, ce.Code)
	assert.Empty(t, f.remoteRequests())
}

func TestServer_MessageDuringSlowAuthIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.delay.Store(int64(300 * time.Millisecond))
	conn := f.dial(t)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, protocol.NewAuthRequest(testToken)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))

	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseAuthenticationMissing, ce.Code)
	require.Eventually(t, func() bool { return f.server.Registry().Count() == 0 }, time.Second, 5*time.Millisecond)

	// Outlast the entitlement check; nothing may reach the remote API.
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, f.remoteRequests())
}

func TestServer_SlowAuthThenRelay(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.delay.Store(int64(100 * time.Millisecond))
	conn, ack := f.dialAuthenticated(t)
	assert.NotEmpty(t, ack.SessionID)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)))
	resp := readJSON(t, conn)
	assert.Equal(t, float64(7), resp["id"])
	assert.Len(t, f.remoteRequests(), 1)
}

func TestServer_AuthTimeout(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	// The sweep ticker plus the new session's authentication deadline.
	require.Eventually(t, func() bool { return f.clock.Waiters() == 2 }, time.Second, 5*time.Millisecond)
	f.clock.Step(9 * time.Second)
	assert.Equal(t, 1, f.server.Registry().Count())
	f.clock.Step(time.Second)

	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseAuthTimeout, ce.Code)
	assert.Equal(t, "Authentication timeout", ce.Reason)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		f.server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var health HealthResponse
		return json.Unmarshal(rec.Body.Bytes(), &health) == nil && health.ExpiredSessions == 1
	}, time.Second, 5*time.Millisecond)
}

func TestServer_SecondAuthIsRelayed(t *testing.T) {
	f := newFixture(t, nil)
	conn, _ := f.dialAuthenticated(t)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"auth","token":"`+testToken+`","id":9}`)))
	resp := readJSON(t, conn)
	assert.Equal(t, float64(9), resp["id"])
	assert.Len(t, f.remoteRequests(), 1)
	assert.Equal(t, 1, f.server.Registry().CountAuthenticated())
}

func TestServer_RemoteErrorKeepsSessionOpen(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{}}`))
	})
	conn, _ := f.dialAuthenticated(t)
	ctx := context.Background()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`)))
	resp := readJSON(t, conn)
	assert.Equal(t, float64(1), resp["id"])
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", resp)
	assert.Equal(t, float64(-32603), errObj["code"])
	assert.Contains(t, errObj["message"], "503")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	resp = readJSON(t, conn)
	assert.Equal(t, float64(2), resp["id"])
	assert.NotContains(t, resp, "error")
}

func TestServer_RepliesKeepArrivalOrder(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg struct {
			ID int `json:"id"`
		}
		_ = json.Unmarshal(body, &msg)
		if msg.ID == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		fmt.Fprintf(w, `{"id":%d,"result":{}}`, msg.ID)
	})
	conn, _ := f.dialAuthenticated(t)
	ctx := context.Background()

	for _, id := range []int{1, 2, 3} {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(fmt.Sprintf(`{"id":%d}`, id))))
	}
	for _, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, readJSON(t, conn)["id"])
	}
}

func TestServer_IdleSessionExpires(t *testing.T) {
	f := newFixture(t, nil)
	conn, _ := f.dialAuthenticated(t)
	require.Eventually(t, f.clock.HasWaiters, time.Second, 5*time.Millisecond)

	for i := 0; i < 31; i++ {
		f.clock.Step(time.Minute)
	}

	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseSessionExpired, ce.Code)
	assert.Equal(t, "Session expired", ce.Reason)
}

func TestServer_RefusesNonLoopbackHost(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, f.url(), &websocket.DialOptions{Host: fmt.Sprintf("evil.example.com:%d", f.server.Port())})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.server.Registry().Count())

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/config", f.server.Port()), nil)
	require.NoError(t, err)
	req.Host = "192.168.0.2:80"
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestServer_SideChannel(t *testing.T) {
	f := newFixture(t, nil)
	f.dialAuthenticated(t)

	for _, host := range []string{"localhost", "127.0.0.1"} {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", f.server.Port()), nil)
		require.NoError(t, err)
		req.Host = fmt.Sprintf("%s:%d", host, f.server.Port())

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		var health HealthResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
		res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, ServiceName, health.Service)
		assert.Equal(t, 1, health.AuthenticatedClients)
	}

	res, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/config", f.server.Port()))
	require.NoError(t, err)
	defer res.Body.Close()
	var cfg ConfigResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&cfg))
	assert.Equal(t, testToken, cfg.AuthToken)
	assert.Equal(t, fmt.Sprintf("ws://localhost:%d", f.server.Port()), cfg.WebSocketURL)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	f := newFixture(t, nil)
	conn, _ := f.dialAuthenticated(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))

	ce := expectClose(t, conn)
	assert.Equal(t, protocol.CloseServiceShutdown, ce.Code)
	assert.Equal(t, "Service shutting down", ce.Reason)

	select {
	case <-f.server.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}
	assert.Equal(t, 0, f.server.Registry().Count())
}

func TestServer_RefusesConnectionsWhileShuttingDown(t *testing.T) {
	f := newFixture(t, nil)
	f.server.shuttingDown.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, f.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, f.server.Registry().Count())
}

func TestServer_StartRequiresEntitlement(t *testing.T) {
	gate := &switchGate{}
	gate.deny.Store(true)

	srv, err := New(config.BridgeConfig{AuthToken: testToken}, Options{
		Gate:      gate,
		Forwarder: &relay.Forwarder{},
		Clock:     clock.RealClock{},
		Host:      "127.0.0.1",
	})
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, entitlement.IsNotEntitled(err))
	assert.Nil(t, srv.Addr())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(config.BridgeConfig{}, Options{Gate: &switchGate{}, Forwarder: &relay.Forwarder{}})
	assert.Error(t, err)

	_, err = New(config.BridgeConfig{AuthToken: testToken}, Options{Forwarder: &relay.Forwarder{}})
	assert.Error(t, err)

	_, err = New(config.BridgeConfig{AuthToken: testToken}, Options{Gate: &switchGate{}})
	assert.Error(t, err)
}
