package cmd

import (
	"context"
	"errors"
	"os"

	"mcpgate/internal/app"
	"mcpgate/internal/clientconfig"
	"mcpgate/internal/connector"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/protocol"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeEntitlementRequired indicates no active or trial entitlement.
	ExitCodeEntitlementRequired = 2
	// ExitCodeConfigMerge indicates the client configuration could not be updated.
	ExitCodeConfigMerge = 3
)

// Flags shared by every command.
var (
	// debug enables verbose logging across the application.
	debug bool
	// configPath specifies a custom configuration file.
	configPath string
)

// rootCmd represents the base command for the mcpgate application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "Bridge a sandboxed AI desktop client to the mcpgate API",
	Long: `mcpgate runs a local websocket bridge that lets a sandboxed AI desktop
client reach the mcpgate remote API. The bridge only accepts loopback
connections, authenticates every connection with a token derived from a
shared secret, and checks your subscription before relaying anything.

The client is pointed at the bridge by adding one entry to its
configuration file; every other entry is left as it is.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if entitlement.IsNotEntitled(err) {
		return ExitCodeEntitlementRequired
	}

	var closeErr *connector.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == protocol.CloseEntitlementFailure {
		return ExitCodeEntitlementRequired
	}

	if clientconfig.IsMergeError(err) {
		return ExitCodeConfigMerge
	}

	return ExitCodeError
}

// newApplication bootstraps the application with the global flags.
func newApplication(cmd *cobra.Command, silent bool) (*app.Application, error) {
	cfg := app.NewConfig(debug, configPath)
	cfg.Silent = silent
	cfg.LogOutput = cmd.ErrOrStderr()
	return app.NewApplication(cfg)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration file (default is $HOME/.config/mcpgate/config.yaml)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
