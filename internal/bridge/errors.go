package bridge

import "errors"

// Error is a caller-facing rejection with a stable code. Match with errors.Is
// against the sentinels below, or read the code with Code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func newError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrAlreadyProcessed = newError("MESSAGE_ALREADY_DELIVERED", "message already processed")
	ErrProofInvalid     = newError("PROOF_INVALID", "invalid proof")
	ErrNotRetriable     = newError("MESSAGE_NOT_RETRIABLE", "message not retriable")
	ErrNotFailed        = newError("NOT_FAILED", "message not failed on destination")
	ErrAlreadyRecalled  = newError("ALREADY_RECALLED", "message already recalled")
	ErrWrongChain       = newError("WRONG_CHAIN", "message not addressed to this chain")
	ErrReentrantCall    = newError("REENTRANT_CALL", "re-entrant bridge call")
	ErrInvalidMessage   = newError("INVALID_MESSAGE", "invalid message")
)

// Code returns the code of the first bridge error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
