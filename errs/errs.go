// Package errs defines the unified error taxonomy shared across the wire,
// crypto, auth, chatserver, store, and client packages. Every error a
// caller needs to branch on is expressed as a Kind rather than a raw string
// comparison or a package-local sentinel.
package errs

import "fmt"

// Kind is a stable, machine-readable error classification. The string value
// doubles as the "code" field sent in server→client error{} frames.
type Kind string

const (
	ConnectionFailed   Kind = "connection_failed"
	ConnectionClosed   Kind = "connection_closed"
	Timeout            Kind = "timeout"
	MessageTooLarge    Kind = "message_too_large"
	InvalidFrame       Kind = "invalid_frame"
	InvalidJSON        Kind = "invalid_json"
	ProtocolError      Kind = "protocol_error"
	HandshakeFailed    Kind = "handshake_failed"
	EncryptionFailed   Kind = "encryption_failed"
	InvalidCredentials Kind = "invalid_credentials"
	RateLimitExceeded  Kind = "rate_limit_exceeded"
	SessionExpired     Kind = "session_expired"
	InvalidToken       Kind = "invalid_token"
	NotAuthenticated   Kind = "not_authenticated"
	UserNotFound       Kind = "user_not_found"
	RoomNotFound       Kind = "room_not_found"
	InvitationNotFound Kind = "invitation_not_found"
	Conflict           Kind = "conflict"
	StorageError       Kind = "storage_error"
)

// Error is a Kind paired with a human-readable message and an optional
// wrapped cause. It satisfies errors.Is/As against its Kind via Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errs.New(Kind, "")) match any *Error with the same
// Kind, regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns StorageError as a safe, generic fallback.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return StorageError
	}
	return e.Kind
}
