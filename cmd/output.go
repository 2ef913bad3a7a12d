package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", outputText, "Output format: text or json")
}

func validateOutput(format string) error {
	switch strings.ToLower(format) {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}

func isJSON(format string) bool {
	return strings.EqualFold(format, outputJSON)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
