package config

import (
	"fmt"
	"time"
)

// MCPGateConfig is the top-level configuration structure for mcpgate.
type MCPGateConfig struct {
	Bridge      BridgeSettings      `yaml:"bridge"`
	Remote      RemoteSettings      `yaml:"remote"`
	Entitlement EntitlementSettings `yaml:"entitlement"`
	Client      ClientSettings      `yaml:"client"`
	Launcher    LauncherSettings    `yaml:"launcher"`
}

// BridgeSettings configures the local listener and session policy.
type BridgeSettings struct {
	Port          int           `yaml:"port,omitempty"`          // Listen port (default: 8787)
	Host          string        `yaml:"host,omitempty"`          // Loopback host only: localhost or 127.0.0.1
	SharedSecret  string        `yaml:"sharedSecret,omitempty"`  // Secret for token derivation; generated when empty
	AuthTimeout   time.Duration `yaml:"authTimeout,omitempty"`   // Deadline for the first auth message (default: 10s)
	IdleTimeout   time.Duration `yaml:"idleTimeout,omitempty"`   // Idle authenticated sessions are closed after this (default: 30m)
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"` // How often idle sessions are swept (default: 60s)

	MaxInflight     int     `yaml:"maxInflight,omitempty"`     // Concurrent relays per session (default: 16)
	RateLimit       float64 `yaml:"rateLimit,omitempty"`       // Relays per second per session, 0 disables
	RateBurst       int     `yaml:"rateBurst,omitempty"`       // Burst for RateLimit
	MaxMessageBytes int64   `yaml:"maxMessageBytes,omitempty"` // Inbound websocket message limit
}

// RemoteSettings configures forwarding to the remote API.
type RemoteSettings struct {
	BaseURL string        `yaml:"baseURL,omitempty"` // Remote API origin
	Path    string        `yaml:"path,omitempty"`    // Relay endpoint path (default: /api/mcp)
	Token   string        `yaml:"token,omitempty"`   // Bearer token for the remote API; the bridge token when empty
	Timeout time.Duration `yaml:"timeout,omitempty"` // Upper bound per relayed request (default: 60s)
}

// Entitlement provider names.
const (
	EntitlementProviderHTTP   = "http"
	EntitlementProviderFile   = "file"
	EntitlementProviderStatic = "static"
)

// EntitlementSettings selects and configures the licensing collaborator.
type EntitlementSettings struct {
	Provider   string        `yaml:"provider,omitempty"`   // http, file or static
	URL        string        `yaml:"url,omitempty"`        // Identity endpoint for the http provider
	LicenseKey string        `yaml:"licenseKey,omitempty"` // Bearer credential for the http provider
	File       string        `yaml:"file,omitempty"`       // Status document for the file provider
	Status     string        `yaml:"status,omitempty"`     // Fixed status for the static provider
	UserID     string        `yaml:"userID,omitempty"`     // Fixed user for the static provider
	Timeout    time.Duration `yaml:"timeout,omitempty"`    // Per-check bound (default: 10s)
}

// ClientSettings describes the third-party client whose configuration is rewritten.
type ClientSettings struct {
	Key           string `yaml:"key,omitempty"`           // Well-known mcpServers key (default: mcpgate)
	Runtime       string `yaml:"runtime,omitempty"`       // Interpreter for the connector script (default: node)
	ConfigPath    string `yaml:"configPath,omitempty"`    // Client config file; platform default when empty
	ScriptPath    string `yaml:"scriptPath,omitempty"`    // Connector script; platform default when empty
	KeepInstalled bool   `yaml:"keepInstalled,omitempty"` // Re-install the entry if the client drops it
}

// LauncherSettings configures process supervision.
type LauncherSettings struct {
	ClientCommand string        `yaml:"clientCommand,omitempty"` // Executable of the third-party client
	ClientArgs    []string      `yaml:"clientArgs,omitempty"`
	LogLines      int           `yaml:"logLines,omitempty"`     // Rolling log capacity (default: 1000)
	StopGrace     time.Duration `yaml:"stopGrace,omitempty"`    // SIGTERM to SIGKILL delay (default: 5s)
	ReadyTimeout  time.Duration `yaml:"readyTimeout,omitempty"` // Wait for bridge /health (default: 15s)
}

// BridgeConfig is the immutable view a running bridge owns. Copies are
// handed out read-only to the installer and the launcher.
type BridgeConfig struct {
	ListenPort       int
	AuthToken        string
	RemoteAPIBaseURL string
}

// WebSocketURL is the address connectors dial.
func (b BridgeConfig) WebSocketURL() string {
	return fmt.Sprintf("ws://localhost:%d", b.ListenPort)
}

// HTTPURL is the base of the bridge's local side channel.
func (b BridgeConfig) HTTPURL() string {
	return fmt.Sprintf("http://localhost:%d", b.ListenPort)
}
