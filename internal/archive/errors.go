package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a missing or invalid required input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMissingChecksum means no expected digest was supplied or recorded.
	ErrMissingChecksum = errors.New("missing checksum")
	// ErrChecksumMismatch means the ingest copy does not hash to the expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrStoreReadFailed   = errors.New("store read failed")
	ErrStoreWriteFailed  = errors.New("store write failed")
	ErrStoreDeleteFailed = errors.New("store delete failed")
	// ErrTooManyObjects means the ingest listing did not fit in one page.
	ErrTooManyObjects = errors.New("too many objects")
)

// TransitionError reports the state a transition was in when it failed.
type TransitionError struct {
	Key   string
	State State
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %q failed in %s: %v", e.Key, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
