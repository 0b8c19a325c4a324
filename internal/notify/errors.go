package notify

import "fmt"

// ValidationError marks malformed input or a malformed grouping key. It
// fails the call fast and is never retried.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}
