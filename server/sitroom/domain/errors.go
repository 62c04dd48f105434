package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_FAILED"
	CodeRoomNotFound   ErrorCode = "ROOM_NOT_FOUND"
	CodeInvalidRoom    ErrorCode = "INVALID_ROOM"
	CodeChannelGone    ErrorCode = "CHANNEL_NOT_FOUND"
	CodeNotMember      ErrorCode = "PARTICIPANT_NOT_MEMBER"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeConflict       ErrorCode = "CONFLICT"
	CodeRemoteFailed   ErrorCode = "REMOTE_OPERATION_FAILED"
	CodeProvisioning   ErrorCode = "PROVISIONING_FAILED"
	CodeArchiveCorrupt ErrorCode = "ARCHIVE_CORRUPT"
)

// Store sentinels shared by every store implementation.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the error's code, or empty when the error carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
