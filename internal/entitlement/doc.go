// Package entitlement decides whether the local user may use the bridge.
//
// A Provider fetches the user's subscription Status from the identity
// collaborator; Evaluate applies the policy; Gate combines the two and
// fails closed, so any error fetching the status denies access.
//
// Policy: the status must be "active" or "trial", and a trial must have
// days remaining. A trial without a daysRemaining field has not expired.
package entitlement
