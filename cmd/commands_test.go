package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mcpgate/internal/bridge"
	"mcpgate/internal/config"
	"mcpgate/internal/launcher"
	"mcpgate/pkg/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		debug, configPath = false, ""
		installOutput, uninstallOutput, statusOutput, launchOutput = outputText, outputText, outputText, outputText
		statusURL, tokenSecret = "", ""
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

// writeConfig writes an mcpgate config whose client file lives in a temp
// dir and returns the config path and the client file path.
func writeConfig(t *testing.T, port int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	clientPath := filepath.Join(dir, "client", "claude_desktop_config.json")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
bridge:
  port: %d
entitlement:
  provider: static
  status: active
client:
  configPath: %s
`, port, clientPath)), 0o600))
	return cfgPath, clientPath
}

func TestInstallCommand_JSON(t *testing.T) {
	t.Setenv(config.EnvSharedSecret, "install-secret")
	cfgPath, clientPath := writeConfig(t, 8787)

	out, err := executeCommand(t, "install", "--config-path", cfgPath, "--output", "json")
	require.NoError(t, err)

	var report struct {
		Success    bool   `json:"success"`
		ConfigPath string `json:"configPath"`
		Changed    bool   `json:"changed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Success)
	assert.True(t, report.Changed)
	assert.Equal(t, clientPath, report.ConfigPath)

	data, err := os.ReadFile(clientPath)
	require.NoError(t, err)
	want, err := auth.DeriveToken([]byte("install-secret"))
	require.NoError(t, err)
	assert.Contains(t, string(data), want)
	assert.Contains(t, string(data), "ws://localhost:8787")
}

func TestInstallCommand_MergeFailure(t *testing.T) {
	t.Setenv(config.EnvSharedSecret, "install-secret")
	cfgPath, clientPath := writeConfig(t, 8787)
	require.NoError(t, os.MkdirAll(filepath.Dir(clientPath), 0o755))
	require.NoError(t, os.WriteFile(clientPath, []byte(`{"mcpServers": "nope"}`), 0o600))

	out, err := executeCommand(t, "install", "--config-path", cfgPath, "--output", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfigMerge, getExitCode(err))
	assert.Contains(t, out, `"success": false`)
}

func TestInstallCommand_RejectsUnknownOutput(t *testing.T) {
	_, err := executeCommand(t, "install", "--output", "yaml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestUninstallCommand_Text(t *testing.T) {
	t.Setenv(config.EnvSharedSecret, "install-secret")
	cfgPath, _ := writeConfig(t, 8787)

	_, err := executeCommand(t, "install", "--config-path", cfgPath)
	require.NoError(t, err)

	out, err := executeCommand(t, "uninstall", "--config-path", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "bridge entry in")

	out, err = executeCommand(t, "uninstall", "--config-path", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Unchanged")
}

func TestTokenCommand(t *testing.T) {
	want, err := auth.DeriveToken([]byte("flag-secret"))
	require.NoError(t, err)

	out, err := executeCommand(t, "token", "--secret", "flag-secret")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)

	t.Setenv(config.EnvSharedSecret, "env-secret")
	cfgPath, _ := writeConfig(t, 8787)
	want, err = auth.DeriveToken([]byte("env-secret"))
	require.NoError(t, err)

	out, err = executeCommand(t, "token", "--config-path", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv(config.EnvSharedSecret, "")
	os.Unsetenv(config.EnvSharedSecret)
	cfgPath, _ := writeConfig(t, 8787)

	_, err := executeCommand(t, "token", "--config-path", cfgPath)
	assert.ErrorContains(t, err, "no shared secret configured")
}

func TestStatusCommand_BridgeNotRunning(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfgPath, clientPath := writeConfig(t, port)

	out, err := executeCommand(t, "status", "--config-path", cfgPath, "--output", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Running)
	assert.Equal(t, fmt.Sprintf("http://localhost:%d", port), report.Endpoint)
	assert.Equal(t, clientPath, report.Client.ConfigPath)
	assert.False(t, report.Client.Installed)
}

func TestStatusCommand_RunningBridge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(bridge.HealthResponse{
			Status:               bridge.StatusHealthy,
			Service:              bridge.ServiceName,
			AuthenticatedClients: 2,
			Timestamp:            time.Now(),
		})
	})
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(bridge.ConfigResponse{WebSocketURL: "ws://localhost:8787", AuthToken: "0123456789abcdef"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfgPath, _ := writeConfig(t, 8787)

	out, err := executeCommand(t, "status", "--config-path", cfgPath, "--url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, bridge.StatusHealthy)
	assert.Contains(t, out, "ws://localhost:8787")
	assert.Contains(t, out, "not installed")
	assert.Contains(t, out, "0123****")
	assert.NotContains(t, out, "0123456789abcdef")

	out, err = executeCommand(t, "status", "--config-path", cfgPath, "--url", srv.URL, "-o", "json")
	require.NoError(t, err)
	var report StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Running)
	require.NotNil(t, report.Health)
	assert.Equal(t, 2, report.Health.AuthenticatedClients)
	assert.Equal(t, "0123****", report.Token)
}

func TestLaunchCommand_JSONResult(t *testing.T) {
	t.Setenv(config.EnvPort, "0")
	cfgPath, _ := writeConfig(t, 8787)

	out, err := executeCommand(t, "launch", "--config-path", cfgPath, "-o", "json")
	require.Error(t, err)

	var result launcher.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "fixed bridge port")
}
