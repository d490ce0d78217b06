package speech

import "fmt"

type EngineError struct {
	Op      string
	Err     error
	Message string
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func newEngineError(op string, err error, message string) *EngineError {
	return &EngineError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}
