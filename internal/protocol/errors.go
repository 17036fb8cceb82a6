package protocol

import "fmt"

// ErrorCode is the code field of a server error frame.
type ErrorCode string

const (
	ErrAuthTokenRequired      ErrorCode = "AUTH_TOKEN_REQUIRED"
	ErrProjectIDRequired      ErrorCode = "PROJECT_ID_REQUIRED"
	ErrInvalidToken           ErrorCode = "INVALID_TOKEN"
	ErrUserNotFound           ErrorCode = "USER_NOT_FOUND"
	ErrProjectNotFound        ErrorCode = "PROJECT_NOT_FOUND"
	ErrNotProjectMember       ErrorCode = "NOT_PROJECT_MEMBER"
	ErrUnauthorizedRoomAccess ErrorCode = "UNAUTHORIZED_ROOM_ACCESS"
	ErrValidation             ErrorCode = "VALIDATION_ERROR"
	ErrConversationNotFound   ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrMessageSendFailed      ErrorCode = "MESSAGE_SEND_FAILED"
	ErrUnknown                ErrorCode = "UNKNOWN_ERROR"
)

// Class groups error codes by how the session layer reacts to them.
type Class int

const (
	// ClassTransient errors are retried by the reconnect policy.
	ClassTransient Class = iota
	// ClassFatal errors stop the session and force re-authentication.
	ClassFatal
	// ClassScoped errors belong to the action that caused them.
	ClassScoped
	// ClassSend errors are reported against a single outgoing message.
	ClassSend
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassScoped:
		return "scoped"
	case ClassSend:
		return "send"
	default:
		return "transient"
	}
}

// Classify maps a code onto its Class. Unknown codes are transient.
func Classify(code ErrorCode) Class {
	switch code {
	case ErrAuthTokenRequired, ErrInvalidToken, ErrProjectIDRequired,
		ErrNotProjectMember, ErrUnauthorizedRoomAccess, ErrUserNotFound:
		return ClassFatal
	case ErrProjectNotFound, ErrConversationNotFound, ErrValidation:
		return ClassScoped
	case ErrMessageSendFailed:
		return ClassSend
	default:
		return ClassTransient
	}
}

// Error is a server-reported error.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Class() Class {
	return Classify(e.Code)
}

// Fatal reports whether e should end the session.
func (e *Error) Fatal() bool {
	return e.Class() == ClassFatal
}

// FromPayload converts an error frame body to an *Error.
func FromPayload(p ErrorPayload) *Error {
	code := p.Code
	if code == "" {
		code = ErrUnknown
	}
	return &Error{Code: code, Message: p.Message}
}
