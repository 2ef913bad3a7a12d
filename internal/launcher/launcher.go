package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mcpgate/internal/bridge"
	"mcpgate/internal/clientconfig"
	"mcpgate/pkg/logging"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultReadyTimeout bounds the wait for the bridge's /health.
	DefaultReadyTimeout = 15 * time.Second
	// DefaultStopGrace is how long a child gets to exit after SIGTERM.
	DefaultStopGrace = 5 * time.Second

	bridgeProcess = "bridge"
	clientProcess = "client"
)

// Plan is one launch: the bridge child, the client child and where the
// client's configuration lives.
type Plan struct {
	Bridge ProcessSpec
	// Client may be left empty when the user starts the client themselves.
	Client     ProcessSpec
	Profile    clientconfig.Profile
	Connection clientconfig.Connection
}

// Options configures a Launcher.
type Options struct {
	Writer       *clientconfig.Writer
	Logs         *LogBuffer
	HTTPClient   *http.Client
	ReadyTimeout time.Duration
	StopGrace    time.Duration
}

// Launcher owns the bridge and client child processes of one launch.
type Launcher struct {
	writer       *clientconfig.Writer
	logs         *LogBuffer
	httpClient   *http.Client
	readyTimeout time.Duration
	stopGrace    time.Duration

	mu      sync.Mutex
	started bool
	bridge  *process
	client  *process

	done    chan struct{}
	waitErr error
}

// New returns a Launcher with defaults filled in.
func New(opts Options) *Launcher {
	l := &Launcher{
		writer:       opts.Writer,
		logs:         opts.Logs,
		httpClient:   opts.HTTPClient,
		readyTimeout: opts.ReadyTimeout,
		stopGrace:    opts.StopGrace,
		done:         make(chan struct{}),
	}
	if l.writer == nil {
		l.writer = clientconfig.NewWriter("", "")
	}
	if l.logs == nil {
		l.logs = NewLogBuffer(DefaultLogLines)
	}
	if l.httpClient == nil {
		l.httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	if l.readyTimeout <= 0 {
		l.readyTimeout = DefaultReadyTimeout
	}
	if l.stopGrace <= 0 {
		l.stopGrace = DefaultStopGrace
	}
	return l
}

// Logs returns the buffer holding both children's output.
func (l *Launcher) Logs() *LogBuffer {
	return l.logs
}

// Start runs plan. On any failure the processes already started are
// stopped before the error is returned.
func (l *Launcher) Start(ctx context.Context, plan Plan) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("launcher already started")
	}
	l.started = true
	l.mu.Unlock()

	healthURL, err := HealthURL(plan.Connection.URL)
	if err != nil {
		return &LifecycleError{Process: bridgeProcess, Op: "start", Err: err}
	}

	bridgeProc, err := startProcess(bridgeProcess, plan.Bridge, l.logs)
	if err != nil {
		return &LifecycleError{Process: bridgeProcess, Op: "start", Err: err}
	}

	if err := l.waitReady(ctx, healthURL, bridgeProc); err != nil {
		l.abort(bridgeProc)
		return &LifecycleError{Process: bridgeProcess, Op: "ready", Err: err}
	}
	logging.Info("Launcher", "Bridge is ready at %s", plan.Connection.URL)

	if _, err := l.writer.Install(plan.Profile, plan.Connection); err != nil {
		l.abort(bridgeProc)
		return &LifecycleError{Process: clientProcess, Op: "install", Err: err}
	}

	var clientProc *process
	if plan.Client.Path != "" {
		clientProc, err = startProcess(clientProcess, plan.Client, l.logs)
		if err != nil {
			l.abort(bridgeProc)
			return &LifecycleError{Process: clientProcess, Op: "start", Err: err}
		}
	}

	l.mu.Lock()
	l.bridge = bridgeProc
	l.client = clientProc
	l.mu.Unlock()

	go l.supervise(bridgeProc, clientProc)
	return nil
}

func (l *Launcher) abort(p *process) {
	if err := p.stop(l.stopGrace); err != nil {
		logging.Error("Launcher", err, "Failed to stop %s after launch failure", p.name)
	}
}

// supervise waits for the children. The bridge exiting on its own takes
// the client down with it.
func (l *Launcher) supervise(bridgeProc, clientProc *process) {
	defer close(l.done)

	var clientDone <-chan struct{}
	if clientProc != nil {
		clientDone = clientProc.done
	}

	select {
	case <-bridgeProc.done:
		l.bridgeExited(bridgeProc)
		if clientProc != nil {
			if err := clientProc.stop(l.stopGrace); err != nil {
				logging.Error("Launcher", err, "Failed to stop client")
			}
		}
	case <-clientDone:
		if !clientProc.requested() {
			logging.Info("Launcher", "Client process exited: %v", clientProc.err())
		}
		<-bridgeProc.done
		l.bridgeExited(bridgeProc)
	}
}

func (l *Launcher) bridgeExited(bridgeProc *process) {
	if bridgeProc.requested() {
		return
	}
	err := bridgeProc.err()
	if err == nil {
		err = errors.New("exited")
	}
	logging.Warn("Launcher", "Bridge process exited unexpectedly: %v", err)
	l.waitErr = &LifecycleError{Process: bridgeProcess, Op: "exit", Err: err}
}

// Stop stops the client and then the bridge.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	bridgeProc, clientProc := l.bridge, l.client
	l.mu.Unlock()

	var errs []error
	if clientProc != nil {
		errs = append(errs, clientProc.stop(l.stopGrace))
	}
	if bridgeProc != nil {
		errs = append(errs, bridgeProc.stop(l.stopGrace))
	}
	return errors.Join(errs...)
}

// Wait blocks until the bridge has exited and returns a LifecycleError if
// it exited without being stopped.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	running := l.bridge != nil
	l.mu.Unlock()
	if !running {
		return errors.New("launcher not started")
	}

	select {
	case <-l.done:
		return l.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Launcher) waitReady(ctx context.Context, healthURL string, bridgeProc *process) error {
	operation := func() (bridge.HealthResponse, error) {
		if bridgeProc.exited() {
			return bridge.HealthResponse{}, backoff.Permanent(fmt.Errorf("process exited before becoming ready: %v", bridgeProc.err()))
		}
		return l.checkHealth(ctx, healthURL)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(l.readyTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug("Launcher", "Bridge not ready (%v), retrying in %s", err, next)
		}),
	)
	return err
}

func (l *Launcher) checkHealth(ctx context.Context, healthURL string) (bridge.HealthResponse, error) {
	var health bridge.HealthResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return health, backoff.Permanent(err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("health check returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("invalid health response: %w", err)
	}
	if health.Status != bridge.StatusHealthy {
		return health, fmt.Errorf("bridge reports status %q", health.Status)
	}
	return health, nil
}

// HealthURL maps the bridge's websocket URL to its /health endpoint.
func HealthURL(websocketURL string) (string, error) {
	u, err := url.Parse(websocketURL)
	if err != nil {
		return "", fmt.Errorf("invalid bridge URL %q: %w", websocketURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid bridge URL %q: unsupported scheme", websocketURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid bridge URL %q: missing host", websocketURL)
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}
