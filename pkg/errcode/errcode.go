package errcode

import "fmt"

// Error represents a coded error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Is makes errors.Is match on the code, so wrapped variants of a
// predefined error still compare equal to it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// FromCode returns the coded error for a wire code, or nil for success.
func FromCode(code int, msg string) *Error {
	if code == 0 {
		return nil
	}
	return &Error{Code: code, Msg: msg}
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrNotFound       = New(1005, "not found")

	// Auth errors (2xxx)
	ErrTokenInvalid  = New(2001, "token invalid")
	ErrTokenExpired  = New(2002, "token expired")
	ErrTokenMissing  = New(2003, "token missing")
	ErrLoginFailed   = New(2005, "login failed")
	ErrUserNotFound  = New(2006, "user not found")
	ErrPasswordWrong = New(2008, "password wrong")

	// Conversation errors (3xxx)
	ErrConvNotFound        = New(3001, "conversation not found")
	ErrNotParticipant      = New(3002, "not a conversation participant")
	ErrParticipantNotFound = New(3003, "participant not found")
	ErrConflict            = New(3004, "roster changed concurrently")

	// Message errors (4xxx)
	ErrMessageNotFound = New(4001, "message not found")
	ErrMessageDeleted  = New(4002, "message has been deleted")
	ErrPendingNotFound = New(4003, "pending send not found")
	ErrSendFailed      = New(4005, "message send failed")

	// Transport errors (5xxx)
	ErrConnClosed          = New(5001, "connection closed")
	ErrNotConnected        = New(5002, "not connected")
	ErrWriteChannelFull    = New(5003, "write channel full")
	ErrDecodeFailed        = New(5004, "malformed event")
	ErrConfirmationTimeout = New(5005, "send not confirmed in time")

	// Moderation errors (6xxx)
	ErrPermissionDenied = New(6001, "permission denied")
	ErrSelfTarget       = New(6002, "cannot target yourself")
)
