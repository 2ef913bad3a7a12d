package clientconfig

import (
	"errors"
	"fmt"
)

// MergeError reports a failed configuration mutation. The live file is
// unchanged when it is returned.
type MergeError struct {
	Path string
	// Op is the step that failed: backup, read, parse, script, encode or write.
	Op  string
	Err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("client config %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// IsMergeError reports whether err is or wraps a MergeError.
func IsMergeError(err error) bool {
	var me *MergeError
	return errors.As(err, &me)
}

// Result is the boundary form of an operation's outcome.
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
