package drain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates missing or invalid settings detected before start.
	ErrConfiguration = errors.New("drain: invalid configuration")
	// ErrConnection indicates that the downstream store could not be reached at start.
	ErrConnection = errors.New("drain: store connection failed")
	// ErrNotRunning is returned by DrainOnce when the sink has not been started.
	ErrNotRunning = errors.New("drain: sink is not running")
	// ErrAlreadyRunning is returned by Start when the sink is already running.
	ErrAlreadyRunning = errors.New("drain: sink is already running")
	// ErrNilTransaction is reported when a channel begins a nil transaction without an error.
	ErrNilTransaction = errors.New("drain: channel returned a nil transaction")
	// ErrPanic indicates a panic recovered during a drain cycle.
	ErrPanic = errors.New("drain: panic during drain cycle")
)

// Op names the step of a drain cycle that failed.
type Op string

const (
	// OpBegin is the channel transaction begin.
	OpBegin Op = "begin"
	// OpTake is taking an event from the channel.
	OpTake Op = "take"
	// OpParse is translating an event into a store record.
	OpParse Op = "parse"
	// OpWrite is the bulk write to the store.
	OpWrite Op = "write"
	// OpCommit is the channel transaction commit.
	OpCommit Op = "commit"
)

// DeliveryError reports a failed drain cycle. The channel transaction was
// rolled back, so none of the taken events were removed.
type DeliveryError struct {
	Op  Op
	Err error
	// Recoverable is false for programming or data faults that a retry of
	// the same cycle cannot fix.
	Recoverable bool
}

// Error implements error.
func (e *DeliveryError) Error() string {
	kind := "recoverable"
	if !e.Recoverable {
		kind = "fatal"
	}

	return fmt.Sprintf("drain: %s failed (%s): %v", e.Op, kind, e.Err)
}

// Unwrap returns the original cause.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ParseError reports an event that could not be translated into a store record.
type ParseError struct {
	// Index is the position of the event within the batch.
	Index int
	Err   error
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("drain: parse event %d: %v", e.Index, e.Err)
}

// Unwrap returns the parser error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// PermanentError marks a store or channel failure that will not succeed on retry.
type PermanentError struct {
	Err error
}

// Error implements error.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that a drain cycle failing with it is reported as
// non-recoverable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}

// IsRecoverable reports whether err is a DeliveryError that a caller may retry.
func IsRecoverable(err error) bool {
	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		return false
	}

	return delivery.Recoverable
}

func newDeliveryError(op Op, err error) *DeliveryError {
	recoverable := true
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, ErrPanic), errors.Is(err, ErrNilTransaction), IsPermanent(err):
		recoverable = false
	}

	return &DeliveryError{Op: op, Err: err, Recoverable: recoverable}
}
