package cmd

import (
	"fmt"
	"io"

	"mcpgate/internal/clientconfig"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	installOutput   string
	uninstallOutput string
)

// installCmd adds the bridge entry to the client configuration.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Point the desktop client at the bridge",
	Long: `Writes the connector script and adds the bridge entry to the desktop
client's configuration. Existing entries are preserved, the file is
backed up to <file>.backup.<epoch-millis> first, and the new file
replaces the old one atomically. Running it again changes nothing.

The entry carries the bridge token, so set a shared secret
(MCPGATE_SHARED_SECRET or bridge.sharedSecret) before installing,
otherwise the token will not match the next bridge you start.

Examples:
  mcpgate install
  mcpgate install --output json`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

// uninstallCmd removes the bridge entry again.
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the bridge entry from the desktop client",
	Long: `Removes the bridge entry and the connector script. Other entries in the
client's configuration are left untouched and a backup is written first.`,
	Args: cobra.NoArgs,
	RunE: runUninstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	if err := validateOutput(installOutput); err != nil {
		return err
	}
	application, err := newApplication(cmd, isJSON(installOutput))
	if err != nil {
		return err
	}

	outcome, err := application.Install()
	return reportOutcome(cmd.OutOrStdout(), installOutput, "Installed", outcome, err)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if err := validateOutput(uninstallOutput); err != nil {
		return err
	}
	application, err := newApplication(cmd, isJSON(uninstallOutput))
	if err != nil {
		return err
	}

	outcome, err := application.Uninstall()
	return reportOutcome(cmd.OutOrStdout(), uninstallOutput, "Removed", outcome, err)
}

type outcomeReport struct {
	clientconfig.Result
	clientconfig.Outcome
}

func reportOutcome(w io.Writer, format, verb string, outcome clientconfig.Outcome, err error) error {
	if isJSON(format) {
		if printErr := printJSON(w, outcomeReport{Result: clientconfig.ResultOf(err), Outcome: outcome}); printErr != nil {
			return printErr
		}
		return err
	}
	if err != nil {
		return err
	}

	if !outcome.Changed {
		fmt.Fprintf(w, "%s %s\n", text.FgYellow.Sprint("Unchanged:"), outcome.ConfigPath)
		return nil
	}
	fmt.Fprintf(w, "%s bridge entry in %s\n", text.FgGreen.Sprint(verb), outcome.ConfigPath)
	if outcome.ScriptPath != "" {
		fmt.Fprintf(w, "  Connector: %s\n", outcome.ScriptPath)
	}
	if outcome.BackupPath != "" {
		fmt.Fprintf(w, "  Backup:    %s\n", outcome.BackupPath)
	}
	fmt.Fprintln(w, "Restart the desktop client to pick up the change.")
	return nil
}

func init() {
	addOutputFlag(installCmd, &installOutput)
	addOutputFlag(uninstallCmd, &uninstallOutput)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
