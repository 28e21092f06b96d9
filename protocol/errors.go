package protocol

import (
	"errors"
	"strconv"
)

// Error is a message buffer failure. Every error returned by MessageBuffer is
// one of the sentinels below, so callers can match with errors.Is or switch
// on Code.
type Error struct {
	Code int
	msg  string
}

func (e *Error) Error() string {
	return "atcomm: " + e.msg + " (" + strconv.Itoa(e.Code) + ")"
}

// Result codes
const (
	CodeSuccess                = 0
	CodeNoEnoughSpace          = -1
	CodeNotInitialized         = -2
	CodeBufferLocked           = -3
	CodeNotStarted             = -4
	CodePackageAlreadyComplete = -10
	CodePackageNotComplete     = -11
	CodePackageNotValid        = -12
	CodePackageCorrupted       = -13
	CodeInvalidParameter       = -20
)

var (
	// Capacity
	ErrNoEnoughSpace = &Error{CodeNoEnoughSpace, "not enough space"}

	// State
	ErrNotInitialized         = &Error{CodeNotInitialized, "buffer too small for a frame"}
	ErrBufferLocked           = &Error{CodeBufferLocked, "buffer locked"}
	ErrNotStarted             = &Error{CodeNotStarted, "no message started"}
	ErrPackageAlreadyComplete = &Error{CodePackageAlreadyComplete, "package already complete"}

	// Frame validity
	ErrPackageNotComplete = &Error{CodePackageNotComplete, "package not complete"}
	ErrPackageNotValid    = &Error{CodePackageNotValid, "package not valid"}
	ErrPackageCorrupted   = &Error{CodePackageCorrupted, "package corrupted"}

	// Parameters
	ErrInvalidParameter = &Error{CodeInvalidParameter, "invalid parameter"}
)

// ErrorCode returns the numeric result code for err, CodeSuccess for nil.
// Errors that did not come from this package map to CodeInvalidParameter.
func ErrorCode(err error) int {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInvalidParameter
}
