package gateway

import (
	"errors"
	"fmt"
)

// Error is a failed payment link request. Network failures and 5xx responses
// are retryable; 4xx validation failures are not.
type Error struct {
	StatusCode int
	Code       string
	Detail     string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := "payment gateway"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Retryable
}
