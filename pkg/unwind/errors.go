package unwind

import "fmt"

// ErrorKind classifies unwinding failures.
type ErrorKind int

const (
	// SetupFailure means the per thread argument could not be created.
	SetupFailure ErrorKind = iota
	// InitFailure means the cursor could not be initialized.
	InitFailure
	// StepFailure means the cursor could not move to the caller frame.
	StepFailure
	// RegisterReadFailure means a register of the current frame could not
	// be read.
	RegisterReadFailure
)

func (k ErrorKind) String() string {
	switch k {
	case SetupFailure:
		return "unwind setup failure"
	case InitFailure:
		return "unwind init failure"
	case StepFailure:
		return "unwind step failure"
	case RegisterReadFailure:
		return "register read failure"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by Walk.
type Error struct {
	Kind ErrorKind
	Tid  int
	Code Code
	// Frame is the index of the frame being processed, -1 before the cursor
	// exists.
	Frame int
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("thread %d: %v", e.Tid, e.Kind)
	if e.Frame >= 0 {
		msg += fmt.Sprintf(" at frame %d", e.Frame)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s (%d)", msg, e.Code, int(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }
