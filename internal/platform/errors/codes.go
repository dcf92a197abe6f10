package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Uniqueness conflicts
	CodeEmailConflict        Code = "EMAIL_CONFLICT"
	CodeProviderLinkConflict Code = "PROVIDER_LINK_CONFLICT"

	// Lifecycle errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Validation errors
	CodeAccountEmailEmpty      Code = "ACCOUNT_EMAIL_EMPTY"
	CodeAccountEmailInvalid    Code = "ACCOUNT_EMAIL_INVALID"
	CodeAccountIDEmpty         Code = "ACCOUNT_ID_EMPTY"
	CodeAccountStatusInvalid   Code = "ACCOUNT_STATUS_INVALID"
	CodeProviderInvalid        Code = "PROVIDER_INVALID"
	CodeProviderAccountIDEmpty Code = "PROVIDER_ACCOUNT_ID_EMPTY"
	CodeLinkStatusInvalid      Code = "LINK_STATUS_INVALID"
	CodeFilterInvalid          Code = "FILTER_INVALID"
	CodePasswordEmpty          Code = "PASSWORD_EMPTY"

	// Dependency errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeAccountEmailEmpty,
		CodeAccountEmailInvalid,
		CodeAccountIDEmpty,
		CodeAccountStatusInvalid,
		CodeProviderInvalid,
		CodeProviderAccountIDEmpty,
		CodeLinkStatusInvalid,
		CodeFilterInvalid,
		CodePasswordEmpty:
		return codes.InvalidArgument

	// AlreadyExists - uniqueness conflicts
	case CodeEmailConflict,
		CodeProviderLinkConflict:
		return codes.AlreadyExists

	// FailedPrecondition - state doesn't allow operation
	case CodeInvalidTransition:
		return codes.FailedPrecondition

	// NotFound - missing records
	case CodeNotFound:
		return codes.NotFound

	// Unavailable - transient dependency failures
	case CodeStorageUnavailable:
		return codes.Unavailable

	default:
		return codes.Unknown
	}
}
