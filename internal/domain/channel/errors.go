package channel

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// Connection errors
	ErrConnectionNotFound    = errors.New("channel: connection not found")
	ErrConnectionExists      = errors.New("channel: connection already exists for tenant and provider")
	ErrConnectionNotReady    = errors.New("channel: connection is not in connected state")
	ErrIllegalTransition     = errors.New("channel: illegal connection state transition")
	ErrMappingsLocked        = errors.New("channel: mappings may only be changed while connected or errored")
	ErrInvalidTenantID       = errors.New("channel: invalid tenant ID")
	ErrInvalidProvider       = errors.New("channel: invalid provider code")
	ErrReauthorizationNeeded = errors.New("channel: credential expired beyond refresh, full reauthorization required")

	// Credential errors
	ErrCredentialNotFound = errors.New("channel: credential not found")
	ErrCredentialExpired  = errors.New("channel: credential expired")
	ErrRefreshDenied      = errors.New("channel: provider denied the refresh token")
	ErrVersionConflict    = errors.New("channel: credential was rotated by a concurrent refresher")

	// Adapter errors
	ErrAuthExpired  = errors.New("channel: provider authorization expired")
	ErrRateLimited  = errors.New("channel: provider rate limit exceeded")
	ErrTransient    = errors.New("channel: transient provider failure")
	ErrValidation   = errors.New("channel: provider rejected the record")
	ErrNotSupported = errors.New("channel: operation not supported by this provider")

	// Job errors
	ErrJobNotFound      = errors.New("channel: sync job not found")
	ErrJobNotCancelable = errors.New("channel: sync job can only be cancelled while queued")
	ErrJobAlreadyDone   = errors.New("channel: sync job already reached a terminal state")
	ErrInvalidSyncKind  = errors.New("channel: invalid sync kind")
)

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// ErrorClass groups adapter and persistence failures into the retry and
// connection-state policy buckets the worker pool acts on.
type ErrorClass string

const (
	// ErrorClassAuth means the credential is invalid and cannot be refreshed.
	// The connection moves to error and the user must reconnect.
	ErrorClassAuth ErrorClass = "auth"
	// ErrorClassRateLimited means the provider throttled us. Retry with
	// backoff, no connection state change.
	ErrorClassRateLimited ErrorClass = "rate-limited"
	// ErrorClassTransient covers network failures and timeouts. Retry with
	// backoff.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassValidation is a record-level, permanent rejection. The record
	// is skipped and counted, the job keeps going.
	ErrorClassValidation ErrorClass = "validation"
	// ErrorClassPermanent is everything else: fail the job without retrying.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ConnectionLevel reports whether failures of this class should move the
// owning connection into the error state when they fail a job.
func (c ErrorClass) ConnectionLevel() bool {
	switch c {
	case ErrorClassAuth, ErrorClassPermanent:
		return true
	default:
		return false
	}
}

// Retryable reports whether a failure of this class should be retried with
// backoff before the job is failed.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassRateLimited || c == ErrorClassTransient
}

// Classify maps an error returned by an adapter or the persistence layer to
// its ErrorClass. Refresh denial is treated as an expired authorization.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrRefreshDenied), errors.Is(err, ErrCredentialExpired):
		return ErrorClassAuth
	case errors.Is(err, ErrRateLimited):
		return ErrorClassRateLimited
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTransient
	case errors.Is(err, ErrValidation):
		return ErrorClassValidation
	default:
		return ErrorClassPermanent
	}
}

// Reason converts an error class into the reason code recorded on a
// connection when it transitions to the error state.
func (c ErrorClass) Reason() ErrorReason {
	switch c {
	case ErrorClassAuth:
		return ErrorReasonAuthExpired
	case ErrorClassRateLimited:
		return ErrorReasonRateLimited
	case ErrorClassValidation:
		return ErrorReasonValidation
	default:
		return ErrorReasonUnknown
	}
}
