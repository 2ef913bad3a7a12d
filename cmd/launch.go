package cmd

import (
	"fmt"
	"sync"
	"time"

	"mcpgate/internal/app"
	"mcpgate/internal/launcher"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var launchOutput string

// launchCmd starts the bridge and the desktop client together.
var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start the bridge and the desktop client",
	Long: `Starts 'mcpgate serve' as a child process, waits until it answers on
/health, points the desktop client at it and starts the client configured
under launcher.clientCommand. Both processes are stopped on Ctrl+C, and the
client is stopped if the bridge exits.

Output of both processes is kept in memory; the last lines are printed when
a launch fails. With --output json a single result object is printed when
the launch ends.`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

func runLaunch(cmd *cobra.Command, args []string) error {
	if err := validateOutput(launchOutput); err != nil {
		return err
	}
	application, err := newApplication(cmd, false)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := commandContext(cmd)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Starting bridge..."
	s.Writer = cmd.ErrOrStderr()
	s.Start()
	var once sync.Once
	stopSpinner := func() { once.Do(s.Stop) }
	defer stopSpinner()

	err = application.Launch(ctx, app.LaunchOptions{Started: stopSpinner})
	stopSpinner()
	if isJSON(launchOutput) {
		if perr := printJSON(cmd.OutOrStdout(), launcher.ResultOf(err)); perr != nil {
			return perr
		}
	}
	return err
}

func init() {
	addOutputFlag(launchCmd, &launchOutput)
	rootCmd.AddCommand(launchCmd)
}
