package cmd

import (
	"errors"
	"os"

	"mcpgate/internal/clientconfig"
	"mcpgate/internal/connector"
	"mcpgate/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	connectURL   string
	connectToken string
)

// connectCmd is a native replacement for the generated connector script.
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Relay stdin and stdout to a running bridge",
	Long: `Connects to the bridge, authenticates, and then copies newline-delimited
messages from stdin to the bridge and the bridge's replies to stdout. The
desktop client can run this instead of the generated node script.

The bridge address and token are read from --url and --token, then from
MCP_BRIDGE_URL and MCP_BRIDGE_TOKEN, and finally from the mcpgate
configuration. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	url, token := connectURL, connectToken
	if url == "" {
		url = os.Getenv(clientconfig.EnvBridgeURL)
	}
	if token == "" {
		token = os.Getenv(clientconfig.EnvBridgeToken)
	}

	if url == "" || token == "" {
		application, err := newApplication(cmd, false)
		if err != nil {
			return err
		}
		if application.SecretGenerated() {
			return errors.New("no bridge token available: pass --token, set MCP_BRIDGE_TOKEN or configure a shared secret")
		}
		conn := application.Connection()
		if url == "" {
			url = conn.URL
		}
		if token == "" {
			token = conn.Token
		}
	} else {
		level := logging.LevelInfo
		if debug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
	}

	ctx := commandContext(cmd)
	logging.Debug("Connect", "Connecting to %s with token %s", url, logging.RedactToken(token))

	err := connector.Run(ctx, connector.Options{
		URL:    url,
		Token:  token,
		Stdin:  cmd.InOrStdin(),
		Stdout: cmd.OutOrStdout(),
	})
	var closeErr *connector.CloseError
	if errors.As(err, &closeErr) {
		logging.Error("Connect", err, "Bridge closed the connection")
	}
	return err
}

func init() {
	connectCmd.Flags().StringVar(&connectURL, "url", "", "Bridge websocket URL (default from "+clientconfig.EnvBridgeURL+")")
	connectCmd.Flags().StringVar(&connectToken, "token", "", "Bridge token (default from "+clientconfig.EnvBridgeToken+")")
	rootCmd.AddCommand(connectCmd)
}
