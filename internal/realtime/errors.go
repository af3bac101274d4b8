package realtime

import "errors"

// Code classifies a failed operation. It is logged and counted but never sent
// to clients; they only see Error.Message.
type Code string

const (
	CodeUnauthorized          Code = "Unauthorized"
	CodeNotFound              Code = "NotFound"
	CodeDirectoryLookupFailed Code = "DirectoryLookupFailed"
	CodePersistenceFailure    Code = "PersistenceFailure"
	CodeProtocolError         Code = "ProtocolError"
)

// ErrHubClosed is returned by Connect after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Error is the failure type of every hub operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func unauthorized(message string) *Error {
	return newError(CodeUnauthorized, message, nil)
}

func protocolError(message string, err error) *Error {
	return newError(CodeProtocolError, message, err)
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
