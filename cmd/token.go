package cmd

import (
	"errors"
	"fmt"

	"mcpgate/internal/config"
	"mcpgate/pkg/auth"

	"github.com/spf13/cobra"
)

var tokenSecret string

// tokenCmd prints the bridge token for the configured shared secret.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the bridge token",
	Long: `Prints the token the bridge expects, derived from --secret or from the
configured shared secret. Useful for wiring a client by hand.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSecret != "" {
		token, err := auth.DeriveToken([]byte(tokenSecret))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	application, err := newApplication(cmd, true)
	if err != nil {
		return err
	}
	if application.SecretGenerated() {
		return errors.New("no shared secret configured: set " + config.EnvSharedSecret + " or bridge.sharedSecret, or pass --secret")
	}
	fmt.Fprintln(cmd.OutOrStdout(), application.BridgeConfig().AuthToken)
	return nil
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Shared secret to derive the token from")
	rootCmd.AddCommand(tokenCmd)
}
