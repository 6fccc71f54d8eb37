package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var ErrDataFormat = errors.New("malformed archived data")

// pushing a structure whose nested values have not all been deflated yet
var ErrNotBare = errors.New("refusing to push non-bare structure")

var ErrNoSerializer = errors.New("no serializer attached")

var ErrNullLocator = errors.New("null locator")

var ErrDuplicateItem = errors.New("item already queued or in flight")

var ErrProcessorClosed = errors.New("processor is closed")

// DataFormatError reports persisted data which can not be decoded: wrong schema version, unknown entry type, unexpected document shape. It is never repaired silently.
type DataFormatError struct {
	Msg string
	// optional: key or locator the bad data was found under
	Key any
	Err error
}

func NewDataFormatError(key any, err error, format string, args ...any) *DataFormatError {
	return &DataFormatError{
		Msg: fmt.Sprintf(format, args...),
		Key: key,
		Err: err,
	}
}

func (e *DataFormatError) Error() string {
	msg := e.Msg
	if e.Key != nil {
		msg = fmt.Sprintf("%s (at %v)", msg, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", ErrDataFormat, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDataFormat, msg)
}

func (e *DataFormatError) Unwrap() error {
	return e.Err
}

func (e *DataFormatError) Is(target error) bool {
	return target == ErrDataFormat
}

// TaskAbortError wraps a failure of an archive operation. Retryable is a hint for callers further up; nothing at this layer retries.
type TaskAbortError struct {
	Subject   string
	Err       error
	Retryable bool
}

func (e *TaskAbortError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("task aborted: %s", e.Err)
	}
	return fmt.Sprintf("task aborted (%s): %s", e.Subject, e.Err)
}

func (e *TaskAbortError) Unwrap() error {
	return e.Err
}

// Abort wraps err as a TaskAbortError, unless it already is one.
func Abort(subject string, err error) error {
	if err == nil {
		return nil
	}
	var tae *TaskAbortError
	if errors.As(err, &tae) {
		return err
	}
	return &TaskAbortError{
		Subject:   subject,
		Err:       err,
		Retryable: isTransient(err),
	}
}

// IsRetryable reports whether err carries a retryable abort hint.
func IsRetryable(err error) bool {
	var tae *TaskAbortError
	if errors.As(err, &tae) {
		return tae.Retryable
	}
	return false
}

func isTransient(err error) bool {
	if errors.Is(err, ErrDataFormat) || errors.Is(err, ErrNotBare) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// TaskInProgressError is returned when registering a task whose identity already has a live Progress. Callers join the existing Progress instead of running the task again.
type TaskInProgressError struct {
	Key      TaskKey
	Subject  string
	Progress *Progress
}

func (e *TaskInProgressError) Error() string {
	return fmt.Sprintf("task already in progress: %s", e.Subject)
}
