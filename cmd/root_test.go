package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mcpgate/internal/clientconfig"
	"mcpgate/internal/connector"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/launcher"
	"mcpgate/internal/protocol"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if GetVersion() != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "mcpgate" {
		t.Errorf("Expected Use to be 'mcpgate', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	for _, name := range []string{"debug", "config-path"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag --%s", name)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "mcpgate version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	expected := "mcpgate version 1.0.0\n"
	if buf.String() != expected {
		t.Errorf("Expected version output %q, got %q", expected, buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	expectedCommands := []string{
		"version", "self-update", "serve", "install", "uninstall",
		"launch", "connect", "status", "token",
	}
	foundCommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	notEntitled := entitlement.Result{Allowed: false, Reason: "subscription expired"}.Err()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "general error", err: errors.New("boom"), want: ExitCodeError},
		{name: "not entitled", err: notEntitled, want: ExitCodeEntitlementRequired},
		{name: "wrapped not entitled", err: fmt.Errorf("start: %w", notEntitled), want: ExitCodeEntitlementRequired},
		{
			name: "bridge refused entitlement",
			err:  &connector.CloseError{Code: protocol.CloseEntitlementFailure, Reason: "License validation failed"},
			want: ExitCodeEntitlementRequired,
		},
		{
			name: "bridge rejected token",
			err:  &connector.CloseError{Code: protocol.CloseInvalidToken, Reason: "Invalid token"},
			want: ExitCodeError,
		},
		{
			name: "merge failure",
			err:  &clientconfig.MergeError{Path: "/tmp/c.json", Op: "parse", Err: errors.New("bad")},
			want: ExitCodeConfigMerge,
		},
		{
			name: "merge failure during launch",
			err: &launcher.LifecycleError{Process: "client", Op: "install",
				Err: &clientconfig.MergeError{Path: "/tmp/c.json", Op: "write", Err: errors.New("denied")}},
			want: ExitCodeConfigMerge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	testRootCmd := &cobra.Command{
		Use:          rootCmd.Use,
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	if err := testRootCmd.Execute(); err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "mcpgate") {
		t.Errorf("Help output should contain 'mcpgate'. Got: %q", output)
	}
	if !strings.Contains(output, "loopback") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}
