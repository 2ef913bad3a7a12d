package entitlement

import (
	"errors"
	"fmt"
	"strings"
)

// Subscription statuses reported by the identity collaborator.
const (
	StatusActive  = "active"
	StatusTrial   = "trial"
	StatusExpired = "expired"
)

// ErrNotEntitled is wrapped by every denial returned from Result.Err.
var ErrNotEntitled = errors.New("entitlement required")

// Status is the user's subscription as reported by a Provider.
type Status struct {
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	DaysRemaining *int   `json:"daysRemaining,omitempty"`
}

// Result is the outcome of an entitlement check.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// Err returns nil for an allowed result and an error wrapping
// ErrNotEntitled otherwise.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotEntitled, r.Reason)
}

// Evaluate applies the entitlement policy to st.
func Evaluate(st *Status) Result {
	if st == nil {
		return Result{Reason: "no entitlement status available"}
	}

	res := Result{
		Status: strings.ToLower(strings.TrimSpace(st.Status)),
		UserID: st.UserID,
	}
	switch res.Status {
	case StatusActive:
		res.Allowed = true
	case StatusTrial:
		if st.DaysRemaining != nil && *st.DaysRemaining <= 0 {
			res.Reason = "trial period has ended"
			return res
		}
		res.Allowed = true
	case "":
		res.Reason = "no subscription status reported"
	default:
		res.Reason = fmt.Sprintf("subscription status %q does not grant access", res.Status)
	}
	return res
}

// IsNotEntitled reports whether err is an entitlement denial.
func IsNotEntitled(err error) bool {
	return errors.Is(err, ErrNotEntitled)
}
