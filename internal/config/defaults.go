package config

import "time"

const (
	DefaultPort            = 8787
	DefaultHost            = "localhost"
	DefaultRemoteBaseURL   = "https://api.mcpgate.dev"
	DefaultRemotePath      = "/api/mcp"
	DefaultEntitlementURL  = DefaultRemoteBaseURL + "/api/auth/me"
	DefaultAuthTimeout     = 10 * time.Second
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = 60 * time.Second
	DefaultRelayTimeout    = 60 * time.Second
	DefaultEntitlementWait = 10 * time.Second
	DefaultMaxInflight     = 16
	DefaultMaxMessageBytes = 4 << 20
	DefaultClientKey       = "mcpgate"
	DefaultClientRuntime   = "node"
	DefaultLogLines        = 1000
	DefaultStopGrace       = 5 * time.Second
	DefaultReadyTimeout    = 15 * time.Second
)

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() MCPGateConfig {
	return MCPGateConfig{
		Bridge: BridgeSettings{
			Port:            DefaultPort,
			Host:            DefaultHost,
			AuthTimeout:     DefaultAuthTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			SweepInterval:   DefaultSweepInterval,
			MaxInflight:     DefaultMaxInflight,
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
		Remote: RemoteSettings{
			BaseURL: DefaultRemoteBaseURL,
			Path:    DefaultRemotePath,
			Timeout: DefaultRelayTimeout,
		},
		Entitlement: EntitlementSettings{
			Provider: EntitlementProviderHTTP,
			URL:      DefaultEntitlementURL,
			Timeout:  DefaultEntitlementWait,
		},
		Client: ClientSettings{
			Key:     DefaultClientKey,
			Runtime: DefaultClientRuntime,
		},
		Launcher: LauncherSettings{
			LogLines:     DefaultLogLines,
			StopGrace:    DefaultStopGrace,
			ReadyTimeout: DefaultReadyTimeout,
		},
	}
}
