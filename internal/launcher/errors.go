package launcher

import (
	"errors"
	"fmt"
)

// LifecycleError reports a child process that could not be started, did
// not become ready, or exited unexpectedly.
type LifecycleError struct {
	// Process is "bridge" or "client".
	Process string
	// Op is start, ready, install, stop or exit.
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Process, e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// IsLifecycleError reports whether err is or wraps a LifecycleError.
func IsLifecycleError(err error) bool {
	var le *LifecycleError
	return errors.As(err, &le)
}

// Result is the boundary form of a launch outcome.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResultOf converts err into a Result.
func ResultOf(err error) Result {
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}
