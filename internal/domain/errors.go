package domain

import "errors"

// ErrorCode is a stable, client-visible error identifier. Codes never change
// once published; clients are expected to switch on them.
type ErrorCode string

const (
	CodeInvalidToken       ErrorCode = "InvalidToken"
	CodeNotAuthenticated   ErrorCode = "NotAuthenticated"
	CodeInvalidChannel     ErrorCode = "InvalidChannel"
	CodeAccessDenied       ErrorCode = "AccessDenied"
	CodeNotSubscribed      ErrorCode = "NotSubscribed"
	CodeUnknownMessageType ErrorCode = "UnknownMessageType"
	CodeRateLimitExceeded  ErrorCode = "RateLimitExceeded"
	CodeProcessingError    ErrorCode = "ProcessingError"
)

// ErrorDetail is the wire shape of a protocol error, nested under the "error"
// key of an error envelope.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

var (
	ErrDuplicateSession = errors.New("session already registered")
	ErrSessionNotFound  = errors.New("session not found")
)
