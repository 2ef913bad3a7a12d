// Package config loads and validates mcpgate configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults (GetDefaultConfig)
//  2. config.yaml in the configuration directory (~/.config/mcpgate by default)
//  3. MCPGATE_* environment variables (ApplyEnv)
//
// The loaded MCPGateConfig is mutable until Resolve turns it into the
// immutable BridgeConfig a running bridge owns. Resolve derives the
// connector token from the shared secret; when no secret is configured a
// random one is generated, so every restart issues a new token.
//
// Example:
//
//	cfg, err := config.LoadConfig(dir)
//	if err != nil {
//	    return err
//	}
//	config.ApplyEnv(&cfg, os.LookupEnv)
//	bridgeCfg, err := config.Resolve(&cfg)
package config
