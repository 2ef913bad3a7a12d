package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"mcpgate/internal/protocol"
	"mcpgate/internal/relay"
	"mcpgate/internal/session"
	"mcpgate/pkg/logging"

	"github.com/coder/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	baseCtx := s.ctx
	s.mu.Unlock()
	if baseCtx == nil || baseCtx.Err() != nil || s.shuttingDown.Load() {
		http.Error(w, "service shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		logging.Debug("Bridge", "Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(s.maxMessageBytes)

	sess, err := s.registry.Create(ws)
	if err != nil {
		logging.Warn("Bridge", "Rejecting connection from %s: %v", r.RemoteAddr, err)
		_ = ws.Close(websocket.StatusTryAgainLater, "too many sessions")
		return
	}
	if s.shuttingDown.Load() {
		// Shutdown may have swept the registry before this session joined it.
		s.registry.Remove(sess.ID)
		sess.Close(protocol.CloseServiceShutdown, protocol.CloseReason(protocol.CloseServiceShutdown))
		return
	}
	logging.Info("Bridge", "Accepted connection %s from %s", logging.TruncateSessionID(sess.ID), r.RemoteAddr)

	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	c := &connection{
		server:  s,
		ws:      ws,
		session: sess,
		sem:     semaphore.NewWeighted(int64(s.maxInflight)),
		queue:   make(chan *pendingReply, s.maxInflight),
	}
	if s.rateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
	}
	c.serve(ctx)
}

// pendingReply is a relay response slot; replies are written in the order
// their slots were queued.
type pendingReply struct {
	done    chan struct{}
	payload []byte
}

// connection drives one websocket through the session state machine.
type connection struct {
	server  *Server
	ws      *websocket.Conn
	session *session.Session
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	queue   chan *pendingReply
	relays  sync.WaitGroup
}

func (c *connection) serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeReplies(ctx)
	}()

	authCtx, cancelAuth := context.WithCancel(ctx)
	var authenticating sync.WaitGroup

	defer func() {
		cancelAuth()
		authenticating.Wait()
		close(c.queue)
		<-writerDone
		c.relays.Wait()
		c.server.registry.Remove(c.session.ID)
		if prev, closed := c.session.Close(websocket.StatusNormalClosure, ""); closed {
			logging.Debug("Bridge", "Connection %s ended in state %s", logging.TruncateSessionID(c.session.ID), prev)
		}
	}()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil && c.session.State() != session.StateClosed {
				logging.Debug("Bridge", "Read from %s failed: %v", logging.TruncateSessionID(c.session.ID), err)
			}
			return
		}

		switch c.session.State() {
		case session.StateConnected:
			token, ok := c.beginAuthentication(data)
			if !ok {
				return
			}
			authenticating.Add(1)
			go func() {
				defer authenticating.Done()
				c.authenticate(authCtx, token)
			}()
		case session.StateAuthenticating:
			c.reject(protocol.CloseAuthenticationMissing, "message received before authentication completed")
			return
		case session.StateAuthenticated:
			c.session.Touch()
			if !c.dispatch(ctx, data) {
				return
			}
		default:
			return
		}
	}
}

// beginAuthentication validates the first message of a session and moves
// it to AUTHENTICATING. It returns false when the session has been closed.
func (c *connection) beginAuthentication(data []byte) (string, bool) {
	env, err := protocol.Decode(data)
	if err != nil || env.Kind != protocol.KindAuth {
		c.reject(protocol.CloseAuthenticationMissing, "first message was not an auth message")
		return "", false
	}
	if !c.session.BeginAuthentication() {
		return "", false
	}
	return env.Token, true
}

// authenticate verifies token and entitlement while the read loop keeps
// running. On success it queues auth_success ahead of any relay reply.
func (c *connection) authenticate(ctx context.Context, token string) {
	if !c.server.auth.Authenticate(token) {
		c.reject(protocol.CloseInvalidToken, "token mismatch")
		return
	}

	res := c.server.gate.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	if !res.Allowed {
		c.reject(protocol.CloseEntitlementFailure, res.Reason)
		return
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	reply := &pendingReply{done: make(chan struct{})}
	c.queue <- reply
	defer close(reply.done)

	// The payload is set only after the state flips, so no frame the peer
	// sends in answer to auth_success can be read as unauthenticated.
	if !c.session.Authenticate(res.UserID, res.Status) {
		return
	}
	payload, err := json.Marshal(protocol.NewAuthSuccess(c.session.ID))
	if err != nil {
		c.session.Close(protocol.CloseProcessingError, protocol.CloseReason(protocol.CloseProcessingError))
		return
	}
	reply.payload = payload

	logging.Audit(logging.AuditEvent{
		Action:    "authenticate",
		Outcome:   "success",
		SessionID: logging.TruncateSessionID(c.session.ID),
		Target:    res.UserID,
	})
}

func (c *connection) reject(code websocket.StatusCode, detail string) {
	if _, closed := c.session.Close(code, protocol.CloseReason(code)); !closed {
		return
	}
	c.server.registry.Remove(c.session.ID)
	logging.Audit(logging.AuditEvent{
		Action:    "authenticate",
		Outcome:   "failure",
		SessionID: logging.TruncateSessionID(c.session.ID),
		Reason:    protocol.CloseReason(code) + ": " + detail,
	})
}

// dispatch queues a reply slot and forwards data in the background. It
// blocks while the session already has the maximum number of relays in
// flight. It returns false when the connection is going away.
func (c *connection) dispatch(ctx context.Context, data []byte) bool {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.sem.Release(1)
			return false
		}
	}

	reply := &pendingReply{done: make(chan struct{})}
	c.queue <- reply

	c.relays.Add(1)
	go func() {
		defer c.relays.Done()
		defer close(reply.done)
		reply.payload = c.forward(ctx, data)
	}()
	return true
}

// forward relays one message and returns the bytes to send back.
func (c *connection) forward(ctx context.Context, data []byte) []byte {
	env, err := protocol.Decode(data)
	if err != nil {
		return encodeEnvelope(protocol.ErrorEnvelope{
			ID:    json.RawMessage("null"),
			Error: protocol.ErrorBody{Code: mcp.PARSE_ERROR, Message: err.Error()},
		})
	}

	resp, err := c.server.forwarder.Forward(ctx, relay.Request{
		Body:   env.Raw,
		UserID: c.session.UserID(),
		Status: c.session.EntitlementStatus(),
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case relay.IsStatusError(err):
			logging.Info("Bridge", "Remote API rejected relay for %s: %v", logging.TruncateSessionID(c.session.ID), err)
		default:
			logging.Warn("Bridge", "Relay for %s failed: %v", logging.TruncateSessionID(c.session.ID), err)
		}
		return encodeEnvelope(protocol.NewRelayError(env.ID, err.Error()))
	}
	return resp
}

func encodeEnvelope(env protocol.ErrorEnvelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// ErrorEnvelope only holds strings, ints and validated raw JSON.
		return []byte(`{"id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}

// writeReplies writes replies in queue order. A slot left without a
// payload is skipped.
func (c *connection) writeReplies(ctx context.Context) {
	for reply := range c.queue {
		select {
		case <-reply.done:
		case <-ctx.Done():
			c.sem.Release(1)
			c.drain()
			return
		}
		if reply.payload == nil {
			c.sem.Release(1)
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(writeCtx, websocket.MessageText, reply.payload)
		cancel()
		c.sem.Release(1)
		if err != nil {
			if c.session.State() != session.StateClosed {
				logging.Warn("Bridge", "Failed to write reply for %s: %v", logging.TruncateSessionID(c.session.ID), err)
				c.session.Close(protocol.CloseProcessingError, protocol.CloseReason(protocol.CloseProcessingError))
			}
			c.drain()
			return
		}
	}
}

// drain discards queued replies so dispatch never blocks on a full queue.
func (c *connection) drain() {
	for range c.queue {
		c.sem.Release(1)
	}
}
