// Package connector is the Go counterpart of the generated connector
// script: it joins a client's stdio to the bridge websocket.
//
// Run dials the bridge, authenticates, and then copies newline-delimited
// messages from stdin to the socket and from the socket to stdout until
// either side ends. It carries no business logic.
package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"mcpgate/internal/protocol"
	"mcpgate/pkg/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDialTimeout bounds how long Run retries reaching the bridge.
	DefaultDialTimeout = 10 * time.Second
	// DefaultAuthTimeout bounds the wait for the bridge's acknowledgment.
	DefaultAuthTimeout = 15 * time.Second
	// DefaultDrainTimeout bounds the wait for outstanding replies once
	// stdin has ended.
	DefaultDrainTimeout = 5 * time.Second

	maxLineBytes = 16 << 20
)

// Options configures Run.
type Options struct {
	URL   string
	Token string

	Stdin  io.Reader
	Stdout io.Writer

	DialTimeout  time.Duration
	AuthTimeout  time.Duration
	DrainTimeout time.Duration
}

// CloseError is returned when the bridge ends the connection with a code
// other than a normal closure.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("bridge closed the connection: %d %s", int(e.Code), e.Reason)
}

// IsAuthFailure reports whether the bridge refused authentication.
func (e *CloseError) IsAuthFailure() bool {
	return protocol.IsAuthFailure(e.Code)
}

// Run connects to the bridge and relays until stdin is exhausted, the
// bridge closes the socket, or ctx is done. Once stdin ends, Run waits up
// to DrainTimeout for replies to messages already sent, then closes the
// socket normally; that is a clean exit.
func Run(ctx context.Context, opts Options) error {
	if opts.URL == "" || opts.Token == "" {
		return errors.New("bridge URL and token are required")
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	conn, err := dial(ctx, opts.URL, opts.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxLineBytes)

	sessionID, err := authenticate(ctx, conn, opts.Token, opts.AuthTimeout)
	if err != nil {
		return err
	}
	logging.Debug("Connector", "Authenticated with bridge as session %s", logging.TruncateSessionID(sessionID))

	return pump(ctx, conn, opts.Stdin, opts.Stdout, opts.DrainTimeout)
}

func dial(ctx context.Context, url string, timeout time.Duration) (*websocket.Conn, error) {
	operation := func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, resp, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			// A refused handshake will not change on retry.
			if resp != nil {
				return nil, backoff.Permanent(fmt.Errorf("bridge refused the connection: %s", resp.Status))
			}
			return nil, err
		}
		return conn, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug("Connector", "Bridge not reachable yet (%v), retrying in %s", err, next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", url, err)
	}
	return conn, nil
}

func authenticate(ctx context.Context, conn *websocket.Conn, token string, timeout time.Duration) (string, error) {
	authCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := wsjson.Write(authCtx, conn, protocol.NewAuthRequest(token)); err != nil {
		return "", fmt.Errorf("failed to send authentication: %w", err)
	}

	_, data, err := conn.Read(authCtx)
	if err != nil {
		if cerr := closeError(err); cerr != nil {
			return "", cerr
		}
		return "", errors.New("bridge closed the connection before authentication")
	}
	ack, ok := protocol.IsAuthSuccess(data)
	if !ok {
		return "", fmt.Errorf("unexpected message before authentication: %s", data)
	}
	return ack.SessionID, nil
}

func pump(ctx context.Context, conn *websocket.Conn, stdin io.Reader, stdout io.Writer, drain time.Duration) error {
	lines := make(chan []byte)
	inputErr := make(chan error, 1)

	// Reads from stdin cannot be interrupted, so this goroutine is not part
	// of the group and may outlive Run.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			msg := append([]byte(nil), line...)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		inputErr <- scanner.Err()
	}()

	// Every relayed message is answered by exactly one reply.
	var outstanding atomic.Int64
	replied := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					var err error
					select {
					case err = <-inputErr:
					default:
					}
					awaitReplies(gctx, &outstanding, replied, drain)
					_ = conn.Close(websocket.StatusNormalClosure, "")
					if err != nil {
						return fmt.Errorf("failed to read stdin: %w", err)
					}
					return nil
				}
				outstanding.Add(1)
				if err := conn.Write(gctx, websocket.MessageText, line); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("failed to send message: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				if gctx.Err() != nil && ctx.Err() == nil {
					return nil
				}
				return closeError(err)
			}
			data = append(data, '\n')
			if _, err := stdout.Write(data); err != nil {
				return fmt.Errorf("failed to write stdout: %w", err)
			}
			outstanding.Add(-1)
			select {
			case replied <- struct{}{}:
			default:
			}
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// awaitReplies blocks until no sent message is waiting for its reply, the
// timeout passes, or ctx is done.
func awaitReplies(ctx context.Context, outstanding *atomic.Int64, replied <-chan struct{}, timeout time.Duration) {
	if outstanding.Load() <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for outstanding.Load() > 0 {
		select {
		case <-replied:
		case <-timer.C:
			logging.Debug("Connector", "Closing with %d replies outstanding", outstanding.Load())
			return
		case <-ctx.Done():
			return
		}
	}
}

// closeError maps a read error to nil for a normal closure and to a
// CloseError for any other close frame.
func closeError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNormalClosure {
			return nil
		}
		return &CloseError{Code: ce.Code, Reason: ce.Reason}
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
