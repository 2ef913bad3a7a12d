package config

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError represents a structured error that occurs during configuration loading.
type ConfigurationError struct {
	Source      string   `json:"source"`      // File path or environment variable
	ErrorType   string   `json:"errorType"`   // io, parse, env
	Message     string   `json:"message"`     // Human-readable error message
	Suggestions []string `json:"suggestions"` // Actionable suggestions to fix the error
	Err         error    `json:"-"`
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	if ce.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", ce.ErrorType, ce.Source, ce.Message, ce.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, ce.Source, ce.Message)
}

func (ce *ConfigurationError) Unwrap() error {
	return ce.Err
}

// DetailedError returns a multi-line message including suggestions.
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration error in %s", ce.Source),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
		fmt.Sprintf("  Error: %s", ce.Message),
	}
	if ce.Err != nil {
		parts = append(parts, fmt.Sprintf("  Details: %v", ce.Err))
	}
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}
	return strings.Join(parts, "\n")
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(source, errorType, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Source:    source,
		ErrorType: errorType,
		Message:   message,
		Err:       err,
	}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
