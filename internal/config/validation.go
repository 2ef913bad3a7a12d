package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// loopbackHosts are the only hosts the bridge may bind.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
}

// Validate checks cfg and returns every problem found.
func Validate(cfg MCPGateConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Bridge.Port < 0 || cfg.Bridge.Port > 65535 {
		errs.Add("bridge.port", "must be between 0 and 65535", cfg.Bridge.Port)
	}
	if !loopbackHosts[cfg.Bridge.Host] {
		errs.Add("bridge.host", "must be localhost or 127.0.0.1", cfg.Bridge.Host)
	}
	if cfg.Bridge.AuthTimeout <= 0 {
		errs.Add("bridge.authTimeout", "must be positive", cfg.Bridge.AuthTimeout)
	}
	if cfg.Bridge.IdleTimeout <= 0 {
		errs.Add("bridge.idleTimeout", "must be positive", cfg.Bridge.IdleTimeout)
	}
	if cfg.Bridge.SweepInterval <= 0 {
		errs.Add("bridge.sweepInterval", "must be positive", cfg.Bridge.SweepInterval)
	}
	if cfg.Bridge.MaxInflight < 1 {
		errs.Add("bridge.maxInflight", "must be at least 1", cfg.Bridge.MaxInflight)
	}
	if cfg.Bridge.RateLimit < 0 {
		errs.Add("bridge.rateLimit", "must not be negative", cfg.Bridge.RateLimit)
	}

	if u, err := url.Parse(cfg.Remote.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("remote.baseURL", "must be an absolute http(s) URL", cfg.Remote.BaseURL)
	}
	if !strings.HasPrefix(cfg.Remote.Path, "/") {
		errs.Add("remote.path", "must start with /", cfg.Remote.Path)
	}
	if cfg.Remote.Timeout <= 0 {
		errs.Add("remote.timeout", "must be positive", cfg.Remote.Timeout)
	}

	switch cfg.Entitlement.Provider {
	case EntitlementProviderHTTP:
		if cfg.Entitlement.URL == "" {
			errs.Add("entitlement.url", "is required for the http provider")
		}
	case EntitlementProviderFile:
		if cfg.Entitlement.File == "" {
			errs.Add("entitlement.file", "is required for the file provider")
		}
	case EntitlementProviderStatic:
		if cfg.Entitlement.Status == "" {
			errs.Add("entitlement.status", "is required for the static provider")
		}
	default:
		errs.Add("entitlement.provider", "must be http, file or static", cfg.Entitlement.Provider)
	}

	if strings.TrimSpace(cfg.Client.Key) == "" {
		errs.Add("client.key", "is required")
	}
	if strings.TrimSpace(cfg.Client.Runtime) == "" {
		errs.Add("client.runtime", "is required")
	}

	return errs
}
