package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mcpgate/internal/bridge"
	"mcpgate/pkg/logging"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// DefaultStatusCheckTimeout bounds the queries made by the status command.
const DefaultStatusCheckTimeout = 5 * time.Second

var (
	statusURL    string
	statusOutput string
)

// statusCmd reports on a running bridge and the client entry.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge and client configuration status",
	Long: `Queries the bridge's /health and /config endpoints and checks whether
the desktop client's configuration contains the bridge entry.

Examples:
  mcpgate status
  mcpgate status --url http://localhost:8787 --output json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// StatusReport is the json form of the status command.
type StatusReport struct {
	Endpoint     string                 `json:"endpoint"`
	Running      bool                   `json:"running"`
	Error        string                 `json:"error,omitempty"`
	Health       *bridge.HealthResponse `json:"health,omitempty"`
	WebSocketURL string                 `json:"websocketUrl,omitempty"`
	Token        string                 `json:"token,omitempty"`
	Client       ClientStatus           `json:"client"`
}

// ClientStatus describes the desktop client's configuration.
type ClientStatus struct {
	ConfigPath string `json:"configPath,omitempty"`
	Installed  bool   `json:"installed"`
	Error      string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validateOutput(statusOutput); err != nil {
		return err
	}
	application, err := newApplication(cmd, true)
	if err != nil {
		return err
	}

	endpoint := statusURL
	if endpoint == "" {
		endpoint = application.BridgeConfig().HTTPURL()
	}
	report := StatusReport{Endpoint: endpoint}

	var s *spinner.Spinner
	if !isJSON(statusOutput) {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Checking bridge..."
		s.Writer = cmd.ErrOrStderr()
		s.Start()
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), DefaultStatusCheckTimeout)
	defer cancel()
	client := &http.Client{Timeout: DefaultStatusCheckTimeout}

	var health bridge.HealthResponse
	if err := getJSON(ctx, client, endpoint+"/health", &health); err != nil {
		report.Error = err.Error()
	} else {
		report.Running = true
		report.Health = &health
		var cfg bridge.ConfigResponse
		if err := getJSON(ctx, client, endpoint+"/config", &cfg); err != nil {
			logging.Debug("Status", "Failed to read bridge config: %v", err)
		} else {
			report.WebSocketURL = cfg.WebSocketURL
			if cfg.AuthToken != "" {
				report.Token = logging.RedactToken(cfg.AuthToken)
			}
		}
	}

	if profile, err := application.Services().ClientProfile(); err != nil {
		report.Client.Error = err.Error()
	} else {
		report.Client.ConfigPath = profile.ConfigPath
		installed, err := application.Services().Writer.HasEntry(profile.ConfigPath)
		if err != nil {
			report.Client.Error = err.Error()
		}
		report.Client.Installed = installed
	}

	if s != nil {
		s.Stop()
	}

	out := cmd.OutOrStdout()
	if isJSON(statusOutput) {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		printStatusTable(out, report)
	}

	if !report.Running {
		return fmt.Errorf("bridge is not running at %s", endpoint)
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printStatusTable(w io.Writer, report StatusReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Component", "Property", "Value"})

	if report.Running {
		t.AppendRow(table.Row{"Bridge", "Status", text.FgGreen.Sprint(report.Health.Status)})
		t.AppendRow(table.Row{"", "Endpoint", report.Endpoint})
		if report.WebSocketURL != "" {
			t.AppendRow(table.Row{"", "WebSocket", report.WebSocketURL})
		}
		if report.Token != "" {
			t.AppendRow(table.Row{"", "Token", report.Token})
		}
		t.AppendRow(table.Row{"", "Clients", strconv.Itoa(report.Health.AuthenticatedClients)})
		t.AppendRow(table.Row{"", "Checked", report.Health.Timestamp.Local().Format(time.RFC3339)})
	} else {
		t.AppendRow(table.Row{"Bridge", "Status", text.FgRed.Sprint("not running")})
		t.AppendRow(table.Row{"", "Endpoint", report.Endpoint})
	}
	t.AppendSeparator()

	installed := text.FgYellow.Sprint("not installed")
	if report.Client.Installed {
		installed = text.FgGreen.Sprint("installed")
	}
	if report.Client.Error != "" {
		installed = text.FgRed.Sprint(report.Client.Error)
	}
	t.AppendRow(table.Row{"Client", "Entry", installed})
	if report.Client.ConfigPath != "" {
		t.AppendRow(table.Row{"", "Config", report.Client.ConfigPath})
	}
	t.Render()
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "Bridge base URL (default http://localhost:<port>)")
	addOutputFlag(statusCmd, &statusOutput)
	rootCmd.AddCommand(statusCmd)
}

