// Package passkey configures WebAuthn passkey support.
//
// It models device-bound credentials and session timing so identity remains
// stronger than shared secrets in the auth boundary.
package passkey
