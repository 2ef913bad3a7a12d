package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// serveCmd runs the bridge in the foreground.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge in the foreground",
	Long: `Checks your entitlement, then starts the bridge on the configured loopback
port and serves until interrupted.

The bridge token is derived from MCPGATE_SHARED_SECRET, or from the
sharedSecret in the configuration file. When neither is set, a random
secret is generated and the token changes on every start; use
'mcpgate launch' in that case so the client entry is updated as well.

Under systemd the bridge reports readiness with sd_notify once the
listener is open.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := newApplication(cmd, false)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := commandContext(cmd)
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
