package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"mcpgate/internal/config"
	pkgstrings "mcpgate/pkg/strings"

	"golang.org/x/oauth2"
)

// Provider fetches the current user's subscription status.
type Provider interface {
	Fetch(ctx context.Context) (*Status, error)
}

// maxStatusBytes bounds identity responses and status files.
const maxStatusBytes = 1 << 20

// HTTPProvider asks the identity endpoint at URL, authenticating with the
// license key as a bearer token.
type HTTPProvider struct {
	URL        string
	LicenseKey string
	// Client is used as the base transport. http.DefaultClient when nil.
	Client *http.Client
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint returned %d: %s", resp.StatusCode, pkgstrings.Snippet(string(body), pkgstrings.DefaultSnippetMaxLen))
	}

	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("malformed identity response: %w", err)
	}
	return &st, nil
}

func (p *HTTPProvider) httpClient(ctx context.Context) *http.Client {
	base := p.Client
	if base == nil {
		base = http.DefaultClient
	}
	if p.LicenseKey == "" {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: p.LicenseKey,
		TokenType:   "Bearer",
	}))
}

// FileProvider reads a status document cached on disk by the desktop app.
type FileProvider struct {
	Path string
}

// Fetch implements Provider.
func (p *FileProvider) Fetch(_ context.Context) (*Status, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlement file: %w", err)
	}
	defer f.Close()

	var st Status
	if err := json.NewDecoder(io.LimitReader(f, maxStatusBytes)).Decode(&st); err != nil {
		return nil, fmt.Errorf("malformed entitlement file %s: %w", p.Path, err)
	}
	return &st, nil
}

// StaticProvider always returns the same status. Err, when set, is
// returned instead.
type StaticProvider struct {
	Status Status
	Err    error
}

// Fetch implements Provider.
func (p *StaticProvider) Fetch(_ context.Context) (*Status, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	st := p.Status
	return &st, nil
}

// NewProvider builds the provider selected by settings.
func NewProvider(settings config.EntitlementSettings) (Provider, error) {
	switch settings.Provider {
	case config.EntitlementProviderHTTP:
		if settings.URL == "" {
			return nil, errors.New("entitlement url is required for the http provider")
		}
		return &HTTPProvider{URL: settings.URL, LicenseKey: settings.LicenseKey}, nil
	case config.EntitlementProviderFile:
		if settings.File == "" {
			return nil, errors.New("entitlement file is required for the file provider")
		}
		return &FileProvider{Path: settings.File}, nil
	case config.EntitlementProviderStatic:
		return &StaticProvider{Status: Status{UserID: settings.UserID, Status: settings.Status}}, nil
	default:
		return nil, fmt.Errorf("unknown entitlement provider %q", settings.Provider)
	}
}
