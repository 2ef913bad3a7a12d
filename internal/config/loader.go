package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"mcpgate/pkg/auth"
	"mcpgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "config.yaml"
)

// Environment variables consumed by the bridge.
const (
	EnvSharedSecret    = "MCPGATE_SHARED_SECRET"
	EnvPort            = "MCPGATE_PORT"
	EnvRemoteURL       = "MCPGATE_REMOTE_URL"
	EnvRemoteToken     = "MCPGATE_REMOTE_TOKEN"
	EnvEntitlementURL  = "MCPGATE_ENTITLEMENT_URL"
	EnvEntitlementFile = "MCPGATE_ENTITLEMENT_FILE"
	EnvLicenseKey      = "MCPGATE_LICENSE_KEY"
)

// osUserHomeDir is swapped in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/mcpgate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig reads config.yaml from configPath over the defaults. A missing
// file is not an error.
func LoadConfig(configPath string) (MCPGateConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return MCPGateConfig{}, NewConfigurationError(configFilePath, "io", "failed to read configuration", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return MCPGateConfig{}, NewConfigurationError(configFilePath, "parse", "malformed configuration", err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays MCPGATE_* environment variables onto cfg.
func ApplyEnv(cfg *MCPGateConfig, lookup LookupFunc) error {
	if v, ok := lookup(EnvSharedSecret); ok && v != "" {
		cfg.Bridge.SharedSecret = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return NewConfigurationError(EnvPort, "env", fmt.Sprintf("invalid port %q", v), err)
		}
		cfg.Bridge.Port = port
	}
	if v, ok := lookup(EnvRemoteURL); ok && v != "" {
		cfg.Remote.BaseURL = v
	}
	if v, ok := lookup(EnvRemoteToken); ok && v != "" {
		cfg.Remote.Token = v
	}
	if v, ok := lookup(EnvEntitlementURL); ok && v != "" {
		cfg.Entitlement.Provider = EntitlementProviderHTTP
		cfg.Entitlement.URL = v
	}
	if v, ok := lookup(EnvEntitlementFile); ok && v != "" {
		cfg.Entitlement.Provider = EntitlementProviderFile
		cfg.Entitlement.File = v
	}
	if v, ok := lookup(EnvLicenseKey); ok && v != "" {
		cfg.Entitlement.LicenseKey = v
	}
	return nil
}

// Resolve validates cfg and produces the immutable BridgeConfig. When no
// shared secret is configured one is generated and stored back into cfg so
// that child processes can be handed the same secret.
func Resolve(cfg *MCPGateConfig) (BridgeConfig, error) {
	if errs := Validate(*cfg); errs.HasErrors() {
		return BridgeConfig{}, errs
	}

	if cfg.Bridge.SharedSecret == "" {
		secret, err := auth.GenerateSecret()
		if err != nil {
			return BridgeConfig{}, err
		}
		cfg.Bridge.SharedSecret = secret
		logging.Debug("ConfigLoader", "No shared secret configured, generated a per-process secret")
	}

	token, err := auth.DeriveToken([]byte(cfg.Bridge.SharedSecret))
	if err != nil {
		return BridgeConfig{}, err
	}

	return BridgeConfig{
		ListenPort:       cfg.Bridge.Port,
		AuthToken:        token,
		RemoteAPIBaseURL: cfg.Remote.BaseURL,
	}, nil
}
