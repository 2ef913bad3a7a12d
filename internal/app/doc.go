// Package app provides application bootstrap and lifecycle management for mcpgate.
//
// It loads configuration, derives the bridge token, builds the bridge and its
// collaborators, and runs one of the execution modes behind the CLI commands.
//
// # Architecture Overview
//
//  1. **Bootstrap (`bootstrap.go`)**: logging, configuration loading, environment overrides,
//     token derivation and service construction
//  2. **Configuration (`config.go`)**: runtime settings of one invocation
//  3. **Services (`services.go`)**: entitlement gate, relay forwarder, session registry,
//     bridge server and client configuration writer
//  4. **Modes (`modes.go`)**: serving the bridge in the foreground and launching the bridge
//     and the client as child processes
//
// ## Configuration Loading
//
//  1. Built-in defaults
//  2. `~/.config/mcpgate/config.yaml`, or the file given with `--config-path`
//  3. `MCPGATE_*` environment variables
//
// When no shared secret is configured a random one is generated, so the token changes on
// every start. Launch passes the secret of the parent to the bridge child through the
// environment so both agree on the token.
//
// ## Execution Modes
//
// ### Serve
//   - Checks entitlement, opens the listener, notifies systemd (`READY=1`)
//   - Optionally keeps the client entry installed with a file watcher
//   - SIGINT and SIGTERM close every session with "service shutting down" and stop the listener
//
// ### Launch
//   - Checks entitlement, starts `mcpgate serve` as a child and waits for `/health`
//   - Installs the client entry and starts the client, if one is configured
//   - Stops both children on a signal; if the bridge dies the client is stopped too
//
// # Usage
//
//	cfg := app.NewConfig(false, "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("bootstrap failed: %w", err)
//	}
//	return application.Run(ctx)
package app
