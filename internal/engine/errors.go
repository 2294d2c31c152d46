package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Kinds are stable strings: the transport
// layer renders them verbatim as the error code in its response envelope.
type Kind string

const (
	// KindInvalidArgument — a required field is missing, empty, or malformed.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindDuplicateName — CreateQueue on a name that already exists.
	KindDuplicateName Kind = "DUPLICATE_NAME"
	// KindQueueNotFound — WriteMessage targets a nonexistent queue.
	KindQueueNotFound Kind = "QUEUE_NOT_FOUND"
	// KindNoMessagesAvailable — PollQueue found no eligible message. Covers
	// queue empty, queue nonexistent, and all messages in-flight; the cases
	// are deliberately undifferentiated.
	KindNoMessagesAvailable Kind = "NO_MESSAGES_AVAILABLE"
	// KindMessageNotInFlight — DeleteMessage targets an ID that is not
	// currently checked out. Covers never polled, already deleted, and
	// visibility expired.
	KindMessageNotInFlight Kind = "MESSAGE_NOT_IN_FLIGHT"
	// KindInconsistentState — tracker and store disagree. A defect signal,
	// not a normal user error.
	KindInconsistentState Kind = "INCONSISTENT_STATE"
	// KindStoreUnavailable — the backing store failed. The only kind a
	// caller may reasonably retry.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
)

// Error is the typed error every engine operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error without a cause.
func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// wrapError builds an *Error around a cause.
func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from err, or "" if err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
