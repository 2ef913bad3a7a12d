package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"mcpgate/internal/clientconfig"
	"mcpgate/internal/config"
	"mcpgate/internal/launcher"
	"mcpgate/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Overridable in tests.
var sdNotify = daemon.SdNotify

// runServe starts the bridge and blocks until a signal arrives, ctx is
// cancelled, or the listener stops on its own.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (sent by the launcher and by systemd)
//
// When the client settings ask for it, a watcher keeps the client entry
// installed while the bridge runs.
func runServe(ctx context.Context, a *Application) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := a.services.Bridge
	// Shutdown is driven from here rather than by Start's context.
	if err := server.Start(context.WithoutCancel(ctx)); err != nil {
		logging.Error("Serve", err, "Failed to start bridge")
		return err
	}
	notify(daemon.SdNotifyReady)
	logging.Info("Serve", "Bridge is running. Press Ctrl+C to stop.")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.settings.Client.KeepInstalled {
		profile, err := a.services.ClientProfile()
		if err != nil {
			logging.Warn("Serve", "Cannot keep the client entry installed: %v", err)
		} else {
			watcher := clientconfig.NewWatcher(a.services.Writer, profile, a.Connection(), 0)
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-server.Done():
			logging.Warn("Serve", "Bridge listener stopped unexpectedly")
		}
		notify(daemon.SdNotifyStopping)

		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelShutdown()
		err := server.Shutdown(shutdownCtx)
		cancel()
		return err
	})

	err := g.Wait()
	logging.Info("Serve", "Bridge stopped")
	return err
}

func notify(state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		logging.Debug("Serve", "systemd notification %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Serve", "Sent systemd notification %q", state)
	}
}

// LaunchOptions configures Launch.
type LaunchOptions struct {
	// Executable is the mcpgate binary started as the bridge child.
	// Defaults to the running executable.
	Executable string
	// Started, when set, is called once start-up has finished, successfully or not.
	Started func()
}

// Launch starts the bridge as a child process, installs the client entry
// and starts the client, then supervises both until a signal arrives or
// the bridge exits.
func (a *Application) Launch(ctx context.Context, opts LaunchOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.bridgeCfg.ListenPort == 0 {
		return errors.New("launch needs a fixed bridge port")
	}

	res := a.services.Gate.Check(ctx)
	if !res.Allowed {
		return res.Err()
	}

	plan, err := a.launchPlan(opts)
	if err != nil {
		return err
	}

	l := launcher.New(launcher.Options{
		Writer:       a.services.Writer,
		Logs:         launcher.NewLogBuffer(a.settings.Launcher.LogLines),
		ReadyTimeout: a.settings.Launcher.ReadyTimeout,
		StopGrace:    a.settings.Launcher.StopGrace,
	})

	err = l.Start(ctx, plan)
	if opts.Started != nil {
		opts.Started()
	}
	if err != nil {
		dumpLogs(l.Logs())
		return err
	}
	logging.Info("Launch", "Bridge and client are running. Press Ctrl+C to stop.")

	err = l.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if stopErr := l.Stop(); stopErr != nil {
		logging.Error("Launch", stopErr, "Failed to stop child processes")
	}
	if err != nil {
		dumpLogs(l.Logs())
	}
	return err
}

func (a *Application) launchPlan(opts LaunchOptions) (launcher.Plan, error) {
	profile, err := a.services.ClientProfile()
	if err != nil {
		return launcher.Plan{}, err
	}

	executable := opts.Executable
	if executable == "" {
		executable, err = os.Executable()
		if err != nil {
			return launcher.Plan{}, fmt.Errorf("failed to locate mcpgate executable: %w", err)
		}
	}

	args := []string{"serve"}
	if a.config.ConfigPath != "" {
		args = append(args, "--config-path", a.config.ConfigPath)
	}
	if a.config.Debug {
		args = append(args, "--debug")
	}

	plan := launcher.Plan{
		Bridge: launcher.ProcessSpec{
			Path: executable,
			Args: args,
			Env: []string{
				config.EnvSharedSecret + "=" + a.settings.Bridge.SharedSecret,
				config.EnvPort + "=" + strconv.Itoa(a.bridgeCfg.ListenPort),
			},
		},
		Profile:    profile,
		Connection: a.Connection(),
	}
	if cmd := a.settings.Launcher.ClientCommand; cmd != "" {
		plan.Client = launcher.ProcessSpec{Path: cmd, Args: a.settings.Launcher.ClientArgs}
	}
	return plan, nil
}

func dumpLogs(logs *launcher.LogBuffer) {
	for _, line := range logs.Tail(20) {
		logging.Info("Launch", "[%s] %s", line.Source, line.Text)
	}
}
