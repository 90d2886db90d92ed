// Package errors provides structured error handling with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Identity and authorization errors
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"

	// System and station availability errors
	CodeSystemClosed  Code = "CLOSED"
	CodeStationClosed Code = "STATION_CLOSED"
	CodeStationFull   Code = "NO_SPACE"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Bike state errors
	CodeBikeNotAvailable Code = "NOT_AVAILABLE"
	CodeBikeNotHeld      Code = "NOT_OWNER"

	// Transport validation errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"

	// Seed errors
	CodeSeedInvalid Code = "SEED_INVALID"

	// Internal invariant violations (should be unreachable)
	CodeInternal Code = "INTERNAL"
)
