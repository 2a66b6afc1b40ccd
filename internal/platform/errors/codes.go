// Package errors provides structured error handling for the auth core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Account errors
	CodeAccountEmailInvalid   Code = "ACCOUNT_EMAIL_INVALID"
	CodeAccountPrivacyInvalid Code = "ACCOUNT_PRIVACY_INVALID"

	// One-time code errors
	CodeAuthCodeInvalid     Code = "AUTH_CODE_INVALID"
	CodeAuthCodeExpired     Code = "AUTH_CODE_EXPIRED"
	CodeAuthCodeAlreadyUsed Code = "AUTH_CODE_ALREADY_USED"
	CodeAuthRateLimited     Code = "AUTH_RATE_LIMITED"

	// Passkey ceremony errors
	CodeAuthChallengeNotFound  Code = "AUTH_CHALLENGE_NOT_FOUND"
	CodeAuthChallengeMismatch  Code = "AUTH_CHALLENGE_MISMATCH"
	CodeAuthAttestationInvalid Code = "AUTH_ATTESTATION_INVALID"
	CodeAuthSignatureInvalid   Code = "AUTH_SIGNATURE_INVALID"
	CodeAuthCloneDetected      Code = "AUTH_CLONE_DETECTED"
	CodeAuthUnknownCredential  Code = "AUTH_UNKNOWN_CREDENTIAL"
	CodeAuthSignupGrantInvalid Code = "AUTH_SIGNUP_GRANT_INVALID"
	CodeAuthSignupGrantExpired Code = "AUTH_SIGNUP_GRANT_EXPIRED"

	// Credential management errors
	CodeAuthLastCredential Code = "AUTH_LAST_CREDENTIAL"

	// Session errors
	CodeAuthUnauthenticated Code = "AUTH_UNAUTHENTICATED"

	// Generic errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeInternal        Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeAccountEmailInvalid,
		CodeAccountPrivacyInvalid,
		CodeInvalidArgument:
		return http.StatusBadRequest

	// Unauthorized - failed or missing authentication proof
	case CodeAuthCodeInvalid,
		CodeAuthCodeExpired,
		CodeAuthCodeAlreadyUsed,
		CodeAuthChallengeNotFound,
		CodeAuthChallengeMismatch,
		CodeAuthAttestationInvalid,
		CodeAuthSignatureInvalid,
		CodeAuthCloneDetected,
		CodeAuthUnknownCredential,
		CodeAuthSignupGrantInvalid,
		CodeAuthSignupGrantExpired,
		CodeAuthUnauthenticated:
		return http.StatusUnauthorized

	// Conflict - state doesn't allow the operation
	case CodeAuthLastCredential,
		CodeAlreadyExists:
		return http.StatusConflict

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	case CodeAuthRateLimited:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
