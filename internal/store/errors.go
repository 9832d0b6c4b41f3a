package store

import "fmt"

// ErrorKind is the client-facing error taxonomy from spec.md §7. It is
// translated to an HTTP status at the server boundary, never inside store.
type ErrorKind string

const (
	KindClientValidation ErrorKind = "client_validation"
	KindPrecondition     ErrorKind = "precondition"
	KindNotFound         ErrorKind = "not_found"
	KindStoreBusy        ErrorKind = "store_busy"
	KindStoreCorruption  ErrorKind = "store_corruption"
)

// CodedError carries a client-facing kind plus whatever structured detail
// the caller needs to retry correctly (e.g. the current version on a
// version_conflict, or a fresh confirm token on batch_threshold_requires_confirm).
type CodedError struct {
	Kind    ErrorKind
	Message string
	Detail  map[string]any
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newCodedError(kind ErrorKind, msg string, detail map[string]any) *CodedError {
	return &CodedError{Kind: kind, Message: msg, Detail: detail}
}

// ErrMissingReason is returned by Update when reason is empty.
func ErrMissingReason() *CodedError {
	return newCodedError(KindClientValidation, "missing_reason", nil)
}

// ErrVersionConflictDetail is returned by Update when if_version is stale.
func ErrVersionConflictDetail(current int) *CodedError {
	return newCodedError(KindPrecondition, "version_conflict", map[string]any{"current_version": current})
}

// ErrPinnedRequiresForce is returned by SoftDelete on a pinned memory without force.
func ErrPinnedRequiresForce() *CodedError {
	return newCodedError(KindPrecondition, "pinned_requires_force", nil)
}

// ErrRetentionExpired is returned by Recover once the tombstone retention window has passed.
func ErrRetentionExpired() *CodedError {
	return newCodedError(KindPrecondition, "retention_expired", nil)
}

// ErrBatchThresholdRequiresConfirm is returned by BatchForget execute calls
// above the confirmation threshold without a valid token.
func ErrBatchThresholdRequiresConfirm(count int, token string) *CodedError {
	return newCodedError(KindPrecondition, "batch_threshold_requires_confirm", map[string]any{
		"count": count, "confirm_token": token,
	})
}

// ErrBatchConfirmInvalid is returned when a supplied confirm token does not
// match the recomputed HMAC for the selector/count/time-bucket.
func ErrBatchConfirmInvalid() *CodedError {
	return newCodedError(KindPrecondition, "batch_confirm_invalid", nil)
}
