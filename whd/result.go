package whd

import (
	"errors"
	"strconv"
)

// Result is the status code carried across the host/driver boundary.
// Every non-success Result is usable as an error and comparable with errors.Is.
type Result uint8

const (
	ResultSuccess Result = iota
	ErrGeneric
	ErrBufferUnavailablePermanent
	ErrBufferUnavailableTemporary
	ErrBufferPointerMove
	ErrBufferSizeSet
	ErrTimeout
	ErrSemaphore
	resultLast
)

func (r Result) Error() string { return r.String() }

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ErrGeneric:
		return "generic error"
	case ErrBufferUnavailablePermanent:
		return "buffer unavailable permanently"
	case ErrBufferUnavailableTemporary:
		return "buffer unavailable temporarily"
	case ErrBufferPointerMove:
		return "buffer pointer move error"
	case ErrBufferSizeSet:
		return "buffer size set error"
	case ErrTimeout:
		return "timeout"
	case ErrSemaphore:
		return "semaphore error"
	}
	return "whd.Result(" + strconv.Itoa(int(r)) + ")"
}

// IsTemporary reports whether the caller may retry after backing off.
func (r Result) IsTemporary() bool {
	return r == ErrBufferUnavailableTemporary || r == ErrTimeout
}

// AsResult converts an error returned by host calls into the Result the
// driver expects. nil maps to ResultSuccess and foreign errors to ErrGeneric.
func AsResult(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	var r Result
	if errors.As(err, &r) && r != ResultSuccess && r < resultLast {
		return r
	}
	return ErrGeneric
}
