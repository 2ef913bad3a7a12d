package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(cfg *MCPGateConfig)
		wantFields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *MCPGateConfig) {},
		},
		{
			name:   "127.0.0.1 is accepted",
			mutate: func(cfg *MCPGateConfig) { cfg.Bridge.Host = "127.0.0.1" },
		},
		{
			name:       "non-loopback host",
			mutate:     func(cfg *MCPGateConfig) { cfg.Bridge.Host = "192.168.1.10" },
			wantFields: []string{"bridge.host"},
		},
		{
			name: "bad timeouts and port",
			mutate: func(cfg *MCPGateConfig) {
				cfg.Bridge.Port = 70000
				cfg.Bridge.AuthTimeout = 0
				cfg.Bridge.IdleTimeout = -1
			},
			wantFields: []string{"bridge.port", "bridge.authTimeout", "bridge.idleTimeout"},
		},
		{
			name:       "relative remote url",
			mutate:     func(cfg *MCPGateConfig) { cfg.Remote.BaseURL = "api.example.com" },
			wantFields: []string{"remote.baseURL"},
		},
		{
			name:       "remote path without slash",
			mutate:     func(cfg *MCPGateConfig) { cfg.Remote.Path = "api/mcp" },
			wantFields: []string{"remote.path"},
		},
		{
			name: "file provider without file",
			mutate: func(cfg *MCPGateConfig) {
				cfg.Entitlement.Provider = EntitlementProviderFile
			},
			wantFields: []string{"entitlement.file"},
		},
		{
			name:       "unknown provider",
			mutate:     func(cfg *MCPGateConfig) { cfg.Entitlement.Provider = "ldap" },
			wantFields: []string{"entitlement.provider"},
		},
		{
			name:       "zero inflight",
			mutate:     func(cfg *MCPGateConfig) { cfg.Bridge.MaxInflight = 0 },
			wantFields: []string{"bridge.maxInflight"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)

			errs := Validate(cfg)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "is bad")
	assert.Equal(t, "field 'a': is bad", errs.Error())

	errs.Add("b", "is worse")
	assert.Equal(t, "validation failed: field 'a': is bad; field 'b': is worse", errs.Error())
}
