package native

import (
	"fmt"
)

// ProcessNotFoundError is returned when the target process directory does
// not exist.
type ProcessNotFoundError struct {
	Pid int
}

func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("could not find process %d", e.Pid)
}

// IOError is returned when process metadata exists but can not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("could not read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// AttachError is returned when the tracer refuses the attach request or
// when the thread stopped for a reason other than the attach signal.
type AttachError struct {
	Tid int
	Err error
	// Status is the signal that stopped the thread instead of SIGSTOP, or
	// -1 if the thread was not stopped at all.
	Status int
}

func (e *AttachError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("could not attach to thread %d: %v", e.Tid, e.Err)
	case e.Status < 0:
		return fmt.Sprintf("could not attach to thread %d: thread is not stopped", e.Tid)
	default:
		return fmt.Sprintf("could not attach to thread %d: unexpected stop (signal %d)", e.Tid, e.Status)
	}
}

func (e *AttachError) Unwrap() error { return e.Err }

// WaitError is returned when waiting for an attached thread fails for a
// reason other than the clone race.
type WaitError struct {
	Tid int
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for thread %d: %v", e.Tid, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// DetachError is returned by an explicit detach that the kernel rejected.
type DetachError struct {
	Tid int
	Err error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("could not detach from thread %d: %v", e.Tid, e.Err)
}

func (e *DetachError) Unwrap() error { return e.Err }
