package app

import (
	"fmt"
	"path/filepath"

	"mcpgate/internal/bridge"
	"mcpgate/internal/clientconfig"
	"mcpgate/internal/config"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/relay"
	"mcpgate/internal/session"
	"mcpgate/pkg/logging"
)

// Services holds all initialized services used by the application.
//
// Field descriptions:
//   - Gate: entitlement check shared by bridge start, session admission and launch
//   - Forwarder: HTTP relay to the remote API
//   - Registry: sessions of the bridge
//   - Bridge: the websocket server, not yet started
//   - Writer: client configuration writer for the configured key and runtime
type Services struct {
	Gate      *entitlement.Gate
	Forwarder *relay.Forwarder
	Registry  *session.Registry
	Bridge    *bridge.Server
	Writer    *clientconfig.Writer

	profile    clientconfig.Profile
	profileErr error
}

// InitializeServices creates the bridge and its collaborators from the
// effective settings and the resolved bridge configuration.
//
// The remote API token falls back to the bridge token when none is set.
func InitializeServices(settings config.MCPGateConfig, bridgeCfg config.BridgeConfig) (*Services, error) {
	provider, err := entitlement.NewProvider(settings.Entitlement)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement provider: %w", err)
	}
	gate := entitlement.NewGate(provider, settings.Entitlement.Timeout)
	logging.Debug("Services", "Entitlement provider: %s", settings.Entitlement.Provider)

	remoteToken := settings.Remote.Token
	if remoteToken == "" {
		remoteToken = bridgeCfg.AuthToken
	}
	forwarder, err := relay.New(relay.Options{
		BaseURL: bridgeCfg.RemoteAPIBaseURL,
		Path:    settings.Remote.Path,
		Token:   remoteToken,
		Timeout: settings.Remote.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create relay forwarder: %w", err)
	}
	logging.Debug("Services", "Relaying to %s", forwarder.Endpoint())

	registry := session.NewRegistry(session.Options{
		AuthTimeout:   settings.Bridge.AuthTimeout,
		IdleTimeout:   settings.Bridge.IdleTimeout,
		SweepInterval: settings.Bridge.SweepInterval,
	})

	server, err := bridge.New(bridgeCfg, bridge.Options{
		Gate:            gate,
		Forwarder:       forwarder,
		Registry:        registry,
		Host:            settings.Bridge.Host,
		MaxInflight:     settings.Bridge.MaxInflight,
		RateLimit:       settings.Bridge.RateLimit,
		RateBurst:       settings.Bridge.RateBurst,
		MaxMessageBytes: settings.Bridge.MaxMessageBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	profile, profileErr := resolveProfile(settings.Client)
	if profileErr != nil {
		logging.Debug("Services", "No client profile available: %v", profileErr)
	}

	return &Services{
		Gate:       gate,
		Forwarder:  forwarder,
		Registry:   registry,
		Bridge:     server,
		Writer:     clientconfig.NewWriter(settings.Client.Key, settings.Client.Runtime),
		profile:    profile,
		profileErr: profileErr,
	}, nil
}

// ClientProfile returns the client configuration location.
func (s *Services) ClientProfile() (clientconfig.Profile, error) {
	return s.profile, s.profileErr
}

func resolveProfile(settings config.ClientSettings) (clientconfig.Profile, error) {
	if settings.ConfigPath != "" {
		profile := clientconfig.ProfileIn(filepath.Dir(settings.ConfigPath))
		return profile.WithOverrides(settings.ConfigPath, settings.ScriptPath), nil
	}
	profile, err := clientconfig.DefaultProfile()
	if err != nil {
		return clientconfig.Profile{}, err
	}
	return profile.WithOverrides("", settings.ScriptPath), nil
}
