// Package auth derives and checks the shared-secret token that a connector
// presents to the bridge in its first message.
//
// The token is HMAC-SHA256 over a fixed label, keyed by a secret taken from
// the environment or generated at process start. The bridge, the installer
// and the launcher all derive the same value from the same secret, so the
// secret itself never has to be written into the client configuration.
package auth
