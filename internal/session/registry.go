package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mcpgate/internal/protocol"
	"mcpgate/pkg/logging"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	// DefaultAuthTimeout is how long a new session may stay unauthenticated.
	DefaultAuthTimeout = 10 * time.Second
	// DefaultIdleTimeout is how long an authenticated session may stay silent.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often idle sessions are looked for.
	DefaultSweepInterval = 60 * time.Second
	// DefaultMaxSessions bounds concurrent sessions.
	DefaultMaxSessions = 1024
)

// Options configures a Registry. Zero values select the defaults.
type Options struct {
	Clock         clock.WithTickerAndDelayedExecution
	AuthTimeout   time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

// ExpireFunc is told about sessions the registry closed on its own, with
// the code they were closed with.
type ExpireFunc func(s *Session, code websocket.StatusCode)

// Registry tracks live sessions, keyed by session id. It is instance
// scoped; every bridge owns one.
type Registry struct {
	clock         clock.WithTickerAndDelayedExecution
	authTimeout   time.Duration
	idleTimeout   time.Duration
	sweepInterval time.Duration
	maxSessions   int

	mu       sync.RWMutex
	sessions map[string]*Session
	onExpire ExpireFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	return &Registry{
		clock:         opts.Clock,
		authTimeout:   opts.AuthTimeout,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		maxSessions:   opts.MaxSessions,
		sessions:      make(map[string]*Session),
	}
}

// OnExpire registers fn to be called after the registry closes a session
// because of the authentication deadline or the idle sweep.
func (r *Registry) OnExpire(fn ExpireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// Clock returns the registry's clock.
func (r *Registry) Clock() clock.WithTickerAndDelayedExecution {
	return r.clock
}

// Create registers a CONNECTED session for conn and arms its
// authentication deadline.
func (r *Registry) Create(conn Conn) (*Session, error) {
	s := newSession(uuid.NewString(), conn, r.clock)

	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		current := len(r.sessions)
		r.mu.Unlock()
		return nil, &LimitExceededError{Limit: r.maxSessions, Current: current}
	}
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	// The callback may run while the clock holds internal locks, so the
	// expiry work happens on its own goroutine.
	timer := r.clock.AfterFunc(r.authTimeout, func() {
		go r.expireAuth(s)
	})
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateAuthenticating {
		s.authTimer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()

	logging.Debug("SessionRegistry", "Created session %s (total: %d)", logging.TruncateSessionID(s.ID), total)
	return s, nil
}

func (r *Registry) expireAuth(s *Session) {
	unauthenticated := func(st State) bool { return st == StateConnected || st == StateAuthenticating }
	if _, closed := s.closeIf(unauthenticated, protocol.CloseAuthTimeout, protocol.CloseReason(protocol.CloseAuthTimeout)); !closed {
		return
	}
	r.Remove(s.ID)
	logging.Audit(logging.AuditEvent{
		Action:    "session_auth_timeout",
		Outcome:   "closed",
		SessionID: logging.TruncateSessionID(s.ID),
		Reason:    fmt.Sprintf("no authentication within %s", r.authTimeout),
	})
	r.notifyExpired(s, protocol.CloseAuthTimeout)
}

func (r *Registry) notifyExpired(s *Session, code websocket.StatusCode) {
	r.mu.RLock()
	fn := r.onExpire
	r.mu.RUnlock()
	if fn != nil {
		fn(s, code)
	}
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove forgets the session with id. It does not close it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	logging.Debug("SessionRegistry", "Removed session %s (total: %d)", logging.TruncateSessionID(id), len(r.sessions))
}

// Count returns the number of live sessions in any state.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountAuthenticated returns the number of AUTHENTICATED sessions.
func (r *Registry) CountAuthenticated() int {
	n := 0
	for _, s := range r.list() {
		if s.State() == StateAuthenticated {
			n++
		}
	}
	return n
}

// Snapshot returns Info for every live session, oldest first.
func (r *Registry) Snapshot() []Info {
	sessions := r.list()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (r *Registry) list() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Expired returns the authenticated sessions idle for at least the idle
// timeout at now.
func (r *Registry) Expired(now time.Time) []*Session {
	var expired []*Session
	for _, s := range r.list() {
		if s.idleFor(now, r.idleTimeout) {
			expired = append(expired, s)
		}
	}
	return expired
}

// Sweep closes every expired session with "session expired" and returns
// how many it closed.
func (r *Registry) Sweep() int {
	expired := r.Expired(r.clock.Now())
	if len(expired) == 0 {
		return 0
	}

	authenticatedOnly := func(st State) bool { return st == StateAuthenticated }
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for _, s := range expired {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if _, ok := s.closeIf(authenticatedOnly, protocol.CloseSessionExpired, protocol.CloseReason(protocol.CloseSessionExpired)); !ok {
				return
			}
			r.Remove(s.ID)
			logging.Audit(logging.AuditEvent{
				Action:    "session_idle_expired",
				Outcome:   "closed",
				SessionID: logging.TruncateSessionID(s.ID),
				Reason:    fmt.Sprintf("idle for at least %s", r.idleTimeout),
			})
			r.notifyExpired(s, protocol.CloseSessionExpired)
			mu.Lock()
			closed++
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if closed > 0 {
		logging.Info("SessionRegistry", "Closed %d idle sessions", closed)
	}
	return closed
}

// Run sweeps idle sessions every sweep interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Sweep()
		}
	}
}

// CloseAll closes every live session with code and reason, waiting for
// each close to finish, and empties the registry.
func (r *Registry) CloseAll(code websocket.StatusCode, reason string) int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(code, reason)
		}(s)
	}
	wg.Wait()

	if len(sessions) > 0 {
		logging.Info("SessionRegistry", "Closed %d sessions: %s", len(sessions), reason)
	}
	return len(sessions)
}

// LimitExceededError is returned by Create when the registry is full.
type LimitExceededError struct {
	Limit   int
	Current int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("session limit exceeded: %d/%d sessions", e.Current, e.Limit)
}
