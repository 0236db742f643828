// Package errors provides structured domain errors with localized messages.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ledger errors
	CodeInvalidEvent          Code = "INVALID_EVENT"
	CodeEventIDConflict       Code = "EVENT_ID_CONFLICT"
	CodeStreamVersionConflict Code = "STREAM_VERSION_CONFLICT"
	CodeEventAlreadyRecorded  Code = "EVENT_ALREADY_RECORDED"

	// Settlement errors
	CodeInvalidArgument            Code = "INVALID_ARGUMENT"
	CodeInvalidDate                Code = "INVALID_DATE"
	CodeInvalidFlushMode           Code = "INVALID_FLUSH_MODE"
	CodeFlushAmountNotPositive     Code = "FLUSH_AMOUNT_NOT_POSITIVE"
	CodeFlushAmountFractionalCents Code = "FLUSH_AMOUNT_FRACTIONAL_CENTS"
	CodeFlushAmountNotMultipleOf20 Code = "FLUSH_AMOUNT_NOT_MULTIPLE_OF_20"
	CodeInsufficientFunds          Code = "INSUFFICIENT_FUNDS"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Kind groups codes into the categories callers branch on.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindConflict          Kind = "conflict"
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNotFound          Kind = "not_found"
)

// Kind reports the category of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeEventIDConflict,
		CodeStreamVersionConflict,
		CodeEventAlreadyRecorded:
		return KindConflict
	case CodeInvalidEvent,
		CodeInvalidArgument,
		CodeInvalidDate,
		CodeInvalidFlushMode,
		CodeFlushAmountNotPositive,
		CodeFlushAmountFractionalCents,
		CodeFlushAmountNotMultipleOf20:
		return KindValidation
	case CodeInsufficientFunds:
		return KindInsufficientFunds
	case CodeNotFound:
		return KindNotFound
	default:
		return KindUnknown
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidEvent,
		CodeInvalidArgument,
		CodeInvalidDate,
		CodeInvalidFlushMode,
		CodeFlushAmountNotPositive,
		CodeFlushAmountFractionalCents,
		CodeFlushAmountNotMultipleOf20:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeInsufficientFunds:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency lost the race; callers may retry
	case CodeStreamVersionConflict:
		return codes.Aborted

	// AlreadyExists - unique fact already recorded
	case CodeEventIDConflict,
		CodeEventAlreadyRecorded:
		return codes.AlreadyExists

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
