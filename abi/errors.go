package abi

import "fmt"

// BoundaryError is a failure reported across the engine ABI.
type BoundaryError struct {
	Cause     error
	Operation string
	Message   string
	Code      StatusCode
}

func (e *BoundaryError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed (%s)", e.Operation, e.Code)
	}
	return e.Message
}

func (e *BoundaryError) Unwrap() error {
	return e.Cause
}

// Is matches another *BoundaryError with the same code. An empty Operation
// in target matches any operation.
func (e *BoundaryError) Is(target error) bool {
	t, ok := target.(*BoundaryError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Operation == "" || t.Operation == e.Operation)
}

// Sentinels for errors.Is checks by status code.
var (
	ErrInvalidPosition = &BoundaryError{Code: StatusInvalidPosition}
	ErrUnsupportedRule = &BoundaryError{Code: StatusUnsupportedRule}
	ErrOutOfContract   = &BoundaryError{Code: StatusOutOfContract}
	ErrBufferTooSmall  = &BoundaryError{Code: StatusBufferTooSmall}
	ErrInvalidState    = &BoundaryError{Code: StatusInvalidState}
	ErrCanceled        = &BoundaryError{Code: StatusCanceled}
)

func boundaryError(op string, code StatusCode, format string, args ...any) *BoundaryError {
	return &BoundaryError{
		Code:      code,
		Operation: op,
		Message:   op + ": " + fmt.Sprintf(format, args...),
	}
}
