package app

import (
	"io"

	"mcpgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool

	// Silent suppresses all log output.
	Silent bool

	// LogOutput receives log lines. Defaults to stdout; commands that own
	// stdout, such as connect, point it at stderr.
	LogOutput io.Writer

	// Custom configuration file path (optional)
	// When empty, ~/.config/mcpgate/config.yaml is used
	ConfigPath string

	// LookupEnv resolves environment overrides. Defaults to os.LookupEnv.
	LookupEnv config.LookupFunc

	// Settings, when set, is used instead of loading the configuration file.
	Settings *config.MCPGateConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
