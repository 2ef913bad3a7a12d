package entitlement

import (
	"context"
	"fmt"
	"time"

	"mcpgate/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single entitlement check.
const DefaultTimeout = 10 * time.Second

// Gate runs entitlement checks against a Provider. Concurrent checks share
// one in-flight fetch. Nothing is cached between checks.
type Gate struct {
	provider Provider
	timeout  time.Duration
	group    singleflight.Group
}

// NewGate creates a gate over provider. A non-positive timeout selects
// DefaultTimeout.
func NewGate(provider Provider, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{provider: provider, timeout: timeout}
}

// Check fetches the current status and evaluates it. Any failure to
// obtain a status yields a denial.
func (g *Gate) Check(ctx context.Context) Result {
	v, err, shared := g.group.Do("check", func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.provider.Fetch(fetchCtx)
	})
	if err != nil {
		logging.Warn("Entitlement", "Entitlement check failed: %v", err)
		return Result{Reason: fmt.Sprintf("entitlement check failed: %v", err)}
	}

	res := Evaluate(v.(*Status))
	if shared {
		logging.Debug("Entitlement", "Shared an in-flight entitlement check")
	}
	if !res.Allowed {
		logging.Info("Entitlement", "Entitlement denied for user %q: %s", res.UserID, res.Reason)
	}
	return res
}
