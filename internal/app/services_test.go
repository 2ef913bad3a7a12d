package app

import (
	"path/filepath"
	"testing"

	"mcpgate/internal/config"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeServices(t *testing.T) {
	bridgeCfg := config.BridgeConfig{
		ListenPort:       0,
		AuthToken:        "bridge-token",
		RemoteAPIBaseURL: "https://remote.example.com",
	}

	tests := []struct {
		name          string
		modify        func(*config.MCPGateConfig)
		expectError   bool
		checkServices func(*testing.T, *Services)
	}{
		{
			name: "all services built",
			checkServices: func(t *testing.T, s *Services) {
				assert.NotNil(t, s.Gate)
				assert.NotNil(t, s.Registry)
				assert.NotNil(t, s.Bridge)
				assert.Same(t, s.Registry, s.Bridge.Registry())
				assert.Equal(t, "https://remote.example.com"+relay.DefaultPath, s.Forwarder.Endpoint())
				assert.Equal(t, config.DefaultClientKey, s.Writer.Key)
			},
		},
		{
			name: "custom key and runtime",
			modify: func(c *config.MCPGateConfig) {
				c.Client.Key = "bridge"
				c.Client.Runtime = "/usr/local/bin/node"
			},
			checkServices: func(t *testing.T, s *Services) {
				assert.Equal(t, "bridge", s.Writer.Key)
				assert.Equal(t, "/usr/local/bin/node", s.Writer.Runtime)
			},
		},
		{
			name: "explicit client paths",
			modify: func(c *config.MCPGateConfig) {
				c.Client.ConfigPath = "/data/client/config.json"
				c.Client.ScriptPath = "/data/scripts/connector.js"
			},
			checkServices: func(t *testing.T, s *Services) {
				profile, err := s.ClientProfile()
				require.NoError(t, err)
				assert.Equal(t, "/data/client/config.json", profile.ConfigPath)
				assert.Equal(t, "/data/scripts/connector.js", profile.ScriptPath)
			},
		},
		{
			name: "explicit config path keeps default script location",
			modify: func(c *config.MCPGateConfig) {
				c.Client.ConfigPath = "/data/client/config.json"
			},
			checkServices: func(t *testing.T, s *Services) {
				profile, err := s.ClientProfile()
				require.NoError(t, err)
				assert.Equal(t, filepath.Join("/data/client", "mcpgate", "connector.js"), profile.ScriptPath)
			},
		},
		{
			name: "unknown entitlement provider",
			modify: func(c *config.MCPGateConfig) {
				c.Entitlement.Provider = "ldap"
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.GetDefaultConfig()
			settings.Entitlement = config.EntitlementSettings{
				Provider: config.EntitlementProviderStatic,
				Status:   entitlement.StatusActive,
			}
			if tt.modify != nil {
				tt.modify(&settings)
			}

			services, err := InitializeServices(settings, bridgeCfg)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.checkServices(t, services)
		})
	}
}
