// Package relay forwards authenticated bridge messages to the remote API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgstrings "mcpgate/pkg/strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Headers added to every relayed request.
const (
	HeaderBridge             = "X-MCP-Bridge"
	HeaderSessionID          = "X-Session-ID"
	HeaderUserID             = "X-User-ID"
	HeaderSubscriptionStatus = "X-Subscription-Status"
)

const (
	// DefaultPath is the remote endpoint messages are posted to.
	DefaultPath = "/api/mcp"
	// DefaultTimeout bounds a single relayed request.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 16 << 20
)

// Options configures a Forwarder.
type Options struct {
	BaseURL string
	Path    string
	// Token is sent as the bearer credential on every request.
	Token   string
	Timeout time.Duration
	// Transport is the base round tripper. http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Request is one message to relay on behalf of an authenticated session.
type Request struct {
	Body   []byte
	UserID string
	Status string
}

// StatusError is returned when the remote API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote API returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsStatusError reports whether err carries a remote status code.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Forwarder posts messages to the remote API. It is safe for concurrent use.
type Forwarder struct {
	endpoint string
	client   *http.Client
}

// New creates a Forwarder for opts.
func New(opts Options) (*Forwarder, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Token == "" {
		return nil, errors.New("relay token is required")
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote API base URL %q", opts.BaseURL)
	}
	endpoint := base.JoinPath(opts.Path)

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Forwarder{
		endpoint: endpoint.String(),
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
				Base:   transport,
			},
		},
	}, nil
}

// Endpoint returns the URL messages are posted to.
func (f *Forwarder) Endpoint() string {
	return f.endpoint
}

// Forward posts req.Body verbatim and returns the remote JSON response.
func (f *Forwarder) Forward(ctx context.Context, req Request) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderBridge, "true")
	httpReq.Header.Set(HeaderSessionID, uuid.NewString())
	httpReq.Header.Set(HeaderUserID, req.UserID)
	httpReq.Header.Set(HeaderSubscriptionStatus, req.Status)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       pkgstrings.Snippet(strings.TrimSpace(string(body)), pkgstrings.DefaultSnippetMaxLen),
		}
	}
	if !json.Valid(body) {
		return nil, errors.New("remote API returned a non-JSON response")
	}
	return json.RawMessage(body), nil
}
