package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"mcpgate/internal/clientconfig"
	"mcpgate/internal/config"
	"mcpgate/pkg/logging"
)

// Application represents the main application structure that bootstraps and runs mcpgate.
// It encapsulates the loaded configuration, the immutable bridge configuration derived from
// it, and the services built on top of both.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: Load configuration, apply environment overrides, resolve the token,
//     initialize logging and build services
//  2. Execution phase: Serve the bridge, install the client entry, or launch both processes
//
// Example usage:
//
//	cfg := app.NewConfig(true, "")  // debug enabled, default config path
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config    *Config
	settings  config.MCPGateConfig
	bridgeCfg config.BridgeConfig
	services  *Services

	// secretGenerated is true when no shared secret was configured and the
	// token is only valid for this process.
	secretGenerated bool
}

// NewApplication creates and initializes a new application instance with the provided configuration.
// This function performs the complete bootstrap sequence:
//
//  1. Configures logging based on debug and silent settings
//  2. Loads the configuration file, or uses cfg.Settings when provided
//  3. Applies MCPGATE_* environment overrides
//  4. Validates the result and derives the bridge token
//  5. Initializes the entitlement gate, relay forwarder, session registry and bridge
//
// The function returns an error if any step fails. Configuration problems are returned as
// config.ConfigurationError or config.ValidationErrors so callers can print suggestions.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = os.Stdout
	}
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	var settings config.MCPGateConfig
	if cfg.Settings != nil {
		settings = *cfg.Settings
	} else {
		path := cfg.ConfigPath
		if path == "" {
			defaultPath, err := config.GetDefaultConfigPath()
			if err != nil {
				return nil, fmt.Errorf("failed to determine configuration path: %w", err)
			}
			path = defaultPath
		}

		loaded, err := config.LoadConfig(path)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load mcpgate configuration from %s", path)
			return nil, err
		}
		settings = loaded
		logging.Debug("Bootstrap", "Loaded configuration from %s", path)
	}

	lookup := cfg.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := config.ApplyEnv(&settings, lookup); err != nil {
		return nil, err
	}

	secretGenerated := settings.Bridge.SharedSecret == ""
	bridgeCfg, err := config.Resolve(&settings)
	if err != nil {
		return nil, err
	}

	services, err := InitializeServices(settings, bridgeCfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:          cfg,
		settings:        settings,
		bridgeCfg:       bridgeCfg,
		services:        services,
		secretGenerated: secretGenerated,
	}, nil
}

// Settings returns the effective configuration, including the shared secret.
func (a *Application) Settings() config.MCPGateConfig {
	return a.settings
}

// BridgeConfig returns the immutable bridge configuration.
func (a *Application) BridgeConfig() config.BridgeConfig {
	return a.bridgeCfg
}

// Services returns the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// SecretGenerated reports whether the token was derived from a secret
// generated for this process only.
func (a *Application) SecretGenerated() bool {
	return a.secretGenerated
}

// Connection is what the client entry must contain to reach the bridge.
func (a *Application) Connection() clientconfig.Connection {
	return clientconfig.Connection{
		URL:   a.bridgeCfg.WebSocketURL(),
		Token: a.bridgeCfg.AuthToken,
	}
}

// Run serves the bridge in the foreground.
//
// Handles graceful shutdown via context cancellation and system signals.
// The method blocks until the bridge is stopped and returns an error if the
// entitlement check fails or the listener cannot be opened.
func (a *Application) Run(ctx context.Context) error {
	return runServe(ctx, a)
}

// Install points the client configuration at the bridge.
func (a *Application) Install() (clientconfig.Outcome, error) {
	profile, err := a.services.ClientProfile()
	if err != nil {
		return clientconfig.Outcome{}, err
	}
	if a.secretGenerated {
		logging.Warn("Bootstrap", "No shared secret configured; the installed token only matches a bridge started with the same secret (set %s)", config.EnvSharedSecret)
	}
	return a.services.Writer.Install(profile, a.Connection())
}

// Uninstall removes the bridge entry from the client configuration.
func (a *Application) Uninstall() (clientconfig.Outcome, error) {
	profile, err := a.services.ClientProfile()
	if err != nil {
		return clientconfig.Outcome{}, err
	}
	return a.services.Writer.Uninstall(profile)
}
