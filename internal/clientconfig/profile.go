package clientconfig

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// ServersKey is the top-level key holding the client's server entries.
	ServersKey = "mcpServers"
	// DefaultKey is the well-known server entry owned by mcpgate.
	DefaultKey = "mcpgate"
	// DefaultRuntime runs the connector script.
	DefaultRuntime = "node"

	// EnvBridgeURL and EnvBridgeToken are read by the connector script.
	EnvBridgeURL   = "MCP_BRIDGE_URL"
	EnvBridgeToken = "MCP_BRIDGE_TOKEN"

	clientDirName    = "Claude"
	clientConfigName = "claude_desktop_config.json"
	scriptDirName    = "mcpgate"
	scriptName       = "connector.js"
)

// Profile locates one client's configuration file and the connector script
// written next to it.
type Profile struct {
	Name       string
	ConfigPath string
	ScriptPath string
}

// Connection is what the connector needs to reach the bridge.
type Connection struct {
	URL   string
	Token string
}

// Overridable in tests.
var (
	goos          = runtime.GOOS
	userHomeDir   = os.UserHomeDir
	lookupEnvFunc = os.LookupEnv
)

// DefaultProfile returns the desktop client's per-user configuration
// location for the current platform.
func DefaultProfile() (Profile, error) {
	dir, err := clientConfigDir()
	if err != nil {
		return Profile{}, err
	}
	return ProfileIn(dir), nil
}

// ProfileIn returns a profile whose files live in dir.
func ProfileIn(dir string) Profile {
	return Profile{
		Name:       clientDirName,
		ConfigPath: filepath.Join(dir, clientConfigName),
		ScriptPath: filepath.Join(dir, scriptDirName, scriptName),
	}
}

// WithOverrides replaces the paths that are set.
func (p Profile) WithOverrides(configPath, scriptPath string) Profile {
	if configPath != "" {
		p.ConfigPath = configPath
		if scriptPath == "" {
			p.ScriptPath = filepath.Join(filepath.Dir(configPath), scriptDirName, scriptName)
		}
	}
	if scriptPath != "" {
		p.ScriptPath = scriptPath
	}
	return p
}

func clientConfigDir() (string, error) {
	switch goos {
	case "windows":
		if appData, ok := lookupEnvFunc("APPDATA"); ok && appData != "" {
			return filepath.Join(appData, clientDirName), nil
		}
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Roaming", clientDirName), nil
	case "darwin":
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", clientDirName), nil
	default:
		if xdg, ok := lookupEnvFunc("XDG_CONFIG_HOME"); ok && xdg != "" {
			return filepath.Join(xdg, clientDirName), nil
		}
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		if home == "" {
			return "", errors.New("cannot determine home directory")
		}
		return filepath.Join(home, ".config", clientDirName), nil
	}
}
