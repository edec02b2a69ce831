package chat

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes sync engine failures.
type ErrorCode string

const (
	// ErrCodeTransientNetwork covers network and server failures where a
	// retry is the user's explicit choice, never automatic.
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"

	// ErrCodeValidation covers drafts rejected before any state mutation.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeAuthorization covers permanent deletes attempted outside the
	// grace window or by a non-author.
	ErrCodeAuthorization ErrorCode = "AUTHORIZATION"

	// ErrCodeChannelDisconnected covers push channel loss; recovery is a
	// resubscribe plus full snapshot reload.
	ErrCodeChannelDisconnected ErrorCode = "CHANNEL_DISCONNECTED"

	// ErrCodeNotFound covers lookups of ids the durable store never issued.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is a structured sync engine error. It carries the failure
// category plus the message and conversation it is scoped to, so the
// rendering layer can surface message-scoped failures inline rather than
// globally.
type Error struct {
	Code           ErrorCode
	Message        string
	ConversationID string
	MessageID      MessageID
	Err            error
}

func (e *Error) Error() string {
	switch {
	case !e.MessageID.IsZero() && e.Err != nil:
		return fmt.Sprintf("%s: %s (message=%s): %v", e.Code, e.Message, e.MessageID, e.Err)
	case !e.MessageID.IsZero():
		return fmt.Sprintf("%s: %s (message=%s)", e.Code, e.Message, e.MessageID)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a structured error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps err with a code and message.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Returns ErrCodeTransientNetwork for errors outside the taxonomy, since
// an unclassified failure must never be treated as permanent.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeTransientNetwork
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeAuthorization
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeNotFound
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeValidation
}
