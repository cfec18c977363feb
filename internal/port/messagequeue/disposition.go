package messagequeue

import (
	"errors"
	"fmt"
	"time"
)

// RetryError asks the broker to redeliver the message after Delay.
type RetryError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.Delay, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// PermanentError asks the broker to stop redelivering the message.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Retry wraps err so the message is redelivered after delay.
func Retry(delay time.Duration, err error) error {
	return &RetryError{Delay: delay, Err: err}
}

// Permanent wraps err so the message is not redelivered.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// RetryDelay returns the requested redelivery delay, if any.
func RetryDelay(err error) (time.Duration, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Delay, true
	}
	return 0, false
}

// IsPermanent reports whether err asks for the message to be dropped.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
