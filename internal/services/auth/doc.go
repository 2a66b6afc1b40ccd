// Package auth defines the passwordless identity boundary for gatehouse.
//
// It is the single place that owns account lifecycle, authentication
// factors, and session issuance so callers can depend on stable account
// IDs instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/rest: HTTP JSON handlers for the auth API
//   - service: authentication flows and session logic
//   - account: account domain model and helpers
//   - otp, passkey, session, signup: factor configuration and primitives
//   - email: outbound delivery of one-time codes
//   - storage: persistence interfaces and SQLite implementations
package auth
